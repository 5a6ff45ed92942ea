// Package config loads and validates pipeline configuration. Every scoring
// threshold, cooldown, and rate is configuration rather than a constant;
// invalid configuration is fatal before the pipeline starts.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"token-sentinel/internal/solana"
)

// Config is the complete application configuration.
type Config struct {
	Solana   SolanaConfig   `mapstructure:"solana"`
	Social   SocialConfig   `mapstructure:"social"`
	Wallets  WalletsConfig  `mapstructure:"wallets"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Bus      BusConfig      `mapstructure:"bus"`
	State    StateConfig    `mapstructure:"state"`
	Scorer   ScorerConfig   `mapstructure:"scorer"`
	Dedup    DedupConfig    `mapstructure:"dedup"`
	Dispatch DispatchConfig `mapstructure:"dispatch"`
	Poster   PosterConfig   `mapstructure:"poster"`
	Storage  StorageConfig  `mapstructure:"storage"`
}

// SolanaConfig holds chain source configuration.
type SolanaConfig struct {
	RPCURL       string        `mapstructure:"rpc_url"`
	WSURL        string        `mapstructure:"ws_url"`
	Pools        []PoolConfig  `mapstructure:"pools"`
	Mints        []string      `mapstructure:"mints"` // tracked token mints for holder polling
	HoldersEvery time.Duration `mapstructure:"holders_every"` // holder-distribution poll interval
	HoldersTopN  int           `mapstructure:"holders_top_n"`
}

// PoolConfig identifies one monitored DEX pool and its token pair.
type PoolConfig struct {
	Name      string `mapstructure:"name"` // source name, e.g. "raydium-bonk"
	Address   string `mapstructure:"address"`
	Mint      string `mapstructure:"mint"`       // tracked token mint
	QuoteMint string `mapstructure:"quote_mint"` // SOL/USDC side
}

// SocialConfig holds the social listening source configuration.
type SocialConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	APIURL       string        `mapstructure:"api_url"`
	BearerToken  string        `mapstructure:"bearer_token"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
	Queries      []SocialQuery `mapstructure:"queries"`
}

// SocialQuery maps one search query to the entity its mentions attach to.
type SocialQuery struct {
	Entity string `mapstructure:"entity"` // entity id (mint address or handle)
	Query  string `mapstructure:"query"`  // search query, e.g. "$TOKEN OR #token"
}

// WalletsConfig holds the wallet transfer source configuration.
type WalletsConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Watched        []string      `mapstructure:"watched"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	LargeWalletMin float64       `mapstructure:"large_wallet_min"` // quote units
}

// KafkaConfig holds the optional pre-normalized event topic source.
type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
	GroupID string   `mapstructure:"group_id"`
}

// BusConfig holds event bus configuration.
type BusConfig struct {
	QueueCapacity int `mapstructure:"queue_capacity"`
	Workers       int `mapstructure:"workers"`
}

// StateConfig holds entity state store configuration.
type StateConfig struct {
	Shards             int           `mapstructure:"shards"`
	LiquidityDeltas    int           `mapstructure:"liquidity_deltas"` // ring size
	MentionWindow      time.Duration `mapstructure:"mention_window"`
	TradeWindow        time.Duration `mapstructure:"trade_window"`
	WhaleWindow        time.Duration `mapstructure:"whale_window"`
	EventRefs          int           `mapstructure:"event_refs"` // last-N references kept
	DedupRing          int           `mapstructure:"dedup_ring"` // recently applied event IDs per entity
	ArchiveHorizon     time.Duration `mapstructure:"archive_horizon"`
	ArchiveSweepEvery  time.Duration `mapstructure:"archive_sweep_every"`
	CheckpointInterval time.Duration `mapstructure:"checkpoint_interval"`
}

// ScorerConfig holds all rule thresholds and weights.
type ScorerConfig struct {
	LiquidityDropPct      float64       `mapstructure:"liquidity_drop_pct"`
	LiquidityDropWindow   time.Duration `mapstructure:"liquidity_drop_window"`
	LiquidityWeight       float64       `mapstructure:"liquidity_weight"`
	ConcentrationTopShare float64       `mapstructure:"concentration_top_share"`
	ConcentrationWeight   float64       `mapstructure:"concentration_weight"`
	HoneypotMinBuys       int           `mapstructure:"honeypot_min_buys"`
	HoneypotMaxSellRatio  float64       `mapstructure:"honeypot_max_sell_ratio"`
	HoneypotWeight        float64       `mapstructure:"honeypot_weight"`
	MentionSpikeMult      float64       `mapstructure:"mention_spike_mult"`
	MentionMinBaseline    float64       `mapstructure:"mention_min_baseline"` // mentions/min
	MentionWeight         float64       `mapstructure:"mention_weight"`
	WhaleInflowMin        float64       `mapstructure:"whale_inflow_min"` // quote units
	WhaleWeight           float64       `mapstructure:"whale_weight"`
}

// DedupConfig holds suppression and rate limiter configuration.
type DedupConfig struct {
	Cooldown            time.Duration `mapstructure:"cooldown"`
	EscalationThreshold float64       `mapstructure:"escalation_threshold"`
	BucketCapacity      float64       `mapstructure:"bucket_capacity"`
	RefillPerMinute     float64       `mapstructure:"refill_per_minute"`
	QueueDepth          int           `mapstructure:"queue_depth"`
	MaxPostsPerDay      int           `mapstructure:"max_posts_per_day"`
}

// DispatchConfig holds alert dispatcher configuration.
type DispatchConfig struct {
	MaxAttempts       int           `mapstructure:"max_attempts"`
	BaseDelay         time.Duration `mapstructure:"base_delay"`
	MaxDelay          time.Duration `mapstructure:"max_delay"`
	IdempotencyBucket time.Duration `mapstructure:"idempotency_bucket"`
}

// PosterConfig selects and configures the posting collaborator client.
type PosterConfig struct {
	Kind     string `mapstructure:"kind"` // "telegram" or "log"
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
}

// StorageConfig holds persistence configuration.
type StorageConfig struct {
	PostgresDSN   string `mapstructure:"postgres_dsn"`
	ClickHouseDSN string `mapstructure:"clickhouse_dsn"`
	UseMemory     bool   `mapstructure:"use_memory"`
}

// Load reads configuration from file and environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	setDefaults(v)

	v.SetEnvPrefix("SENTINEL")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all options. Thresholds are
// illustrative starting points, not calibrated values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("solana.rpc_url", "https://api.mainnet-beta.solana.com")
	v.SetDefault("solana.ws_url", "wss://api.mainnet-beta.solana.com")
	v.SetDefault("solana.holders_every", "10m")
	v.SetDefault("solana.holders_top_n", 10)

	v.SetDefault("social.enabled", false)
	v.SetDefault("social.poll_interval", "1m")
	v.SetDefault("social.timeout", "30s")

	v.SetDefault("wallets.enabled", false)
	v.SetDefault("wallets.poll_interval", "30s")
	v.SetDefault("wallets.large_wallet_min", 1000.0)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.group_id", "token-sentinel")

	v.SetDefault("bus.queue_capacity", 1024)
	v.SetDefault("bus.workers", 4)

	v.SetDefault("state.shards", 16)
	v.SetDefault("state.liquidity_deltas", 500)
	v.SetDefault("state.mention_window", "1h")
	v.SetDefault("state.trade_window", "30m")
	v.SetDefault("state.whale_window", "30m")
	v.SetDefault("state.event_refs", 32)
	v.SetDefault("state.dedup_ring", 256)
	v.SetDefault("state.archive_horizon", "720h") // 30 days
	v.SetDefault("state.archive_sweep_every", "1h")
	v.SetDefault("state.checkpoint_interval", "5m")

	v.SetDefault("scorer.liquidity_drop_pct", 50.0)
	v.SetDefault("scorer.liquidity_drop_window", "10m")
	v.SetDefault("scorer.liquidity_weight", 45.0)
	v.SetDefault("scorer.concentration_top_share", 0.5)
	v.SetDefault("scorer.concentration_weight", 30.0)
	v.SetDefault("scorer.honeypot_min_buys", 10)
	v.SetDefault("scorer.honeypot_max_sell_ratio", 0.02)
	v.SetDefault("scorer.honeypot_weight", 40.0)
	v.SetDefault("scorer.mention_spike_mult", 3.0)
	v.SetDefault("scorer.mention_min_baseline", 0.5)
	v.SetDefault("scorer.mention_weight", 25.0)
	v.SetDefault("scorer.whale_inflow_min", 1000.0)
	v.SetDefault("scorer.whale_weight", 25.0)

	v.SetDefault("dedup.cooldown", "15m")
	v.SetDefault("dedup.escalation_threshold", 20.0)
	v.SetDefault("dedup.bucket_capacity", 5.0)
	v.SetDefault("dedup.refill_per_minute", 1.0)
	v.SetDefault("dedup.queue_depth", 64)
	v.SetDefault("dedup.max_posts_per_day", 50)

	v.SetDefault("dispatch.max_attempts", 5)
	v.SetDefault("dispatch.base_delay", "1s")
	v.SetDefault("dispatch.max_delay", "1m")
	v.SetDefault("dispatch.idempotency_bucket", "15m")

	v.SetDefault("poster.kind", "log")

	v.SetDefault("storage.use_memory", false)
}

// Validate checks that all configuration values are usable. Any error here
// is a startup failure; the pipeline never runs with a bad config.
func (c *Config) Validate() error {
	if c.Solana.RPCURL == "" {
		return fmt.Errorf("solana.rpc_url is required")
	}
	if c.Solana.WSURL == "" {
		return fmt.Errorf("solana.ws_url is required")
	}
	if len(c.Solana.Pools) == 0 {
		return fmt.Errorf("solana.pools must list at least one monitored pool")
	}
	for i, p := range c.Solana.Pools {
		if p.Address == "" || p.Mint == "" {
			return fmt.Errorf("solana.pools[%d] needs both address and mint", i)
		}
		if !solana.ValidAddress(p.Address) {
			return fmt.Errorf("solana.pools[%d].address %q is not a valid address", i, p.Address)
		}
		if !solana.ValidAddress(p.Mint) {
			return fmt.Errorf("solana.pools[%d].mint %q is not a valid address", i, p.Mint)
		}
		if p.QuoteMint != "" && !solana.ValidAddress(p.QuoteMint) {
			return fmt.Errorf("solana.pools[%d].quote_mint %q is not a valid address", i, p.QuoteMint)
		}
	}
	for i, m := range c.Solana.Mints {
		if !solana.ValidAddress(m) {
			return fmt.Errorf("solana.mints[%d] %q is not a valid address", i, m)
		}
	}
	if c.Solana.HoldersTopN < 1 {
		return fmt.Errorf("solana.holders_top_n must be at least 1")
	}

	if c.Social.Enabled {
		if c.Social.APIURL == "" {
			return fmt.Errorf("social.api_url is required when social is enabled")
		}
		if c.Social.PollInterval < time.Second {
			return fmt.Errorf("social.poll_interval must be at least 1s")
		}
		if len(c.Social.Queries) == 0 {
			return fmt.Errorf("social.queries must list at least one query when social is enabled")
		}
		for i, q := range c.Social.Queries {
			if q.Entity == "" || q.Query == "" {
				return fmt.Errorf("social.queries[%d] needs both entity and query", i)
			}
		}
	}

	if c.Wallets.Enabled {
		if len(c.Wallets.Watched) == 0 {
			return fmt.Errorf("wallets.watched must list at least one wallet when enabled")
		}
		for i, w := range c.Wallets.Watched {
			if !solana.ValidAddress(w) {
				return fmt.Errorf("wallets.watched[%d] %q is not a valid address", i, w)
			}
		}
	}

	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka.brokers is required when kafka is enabled")
		}
		if c.Kafka.Topic == "" {
			return fmt.Errorf("kafka.topic is required when kafka is enabled")
		}
	}

	if c.Bus.QueueCapacity < 1 {
		return fmt.Errorf("bus.queue_capacity must be at least 1")
	}
	if c.Bus.Workers < 1 {
		return fmt.Errorf("bus.workers must be at least 1")
	}

	if c.State.Shards < 1 {
		return fmt.Errorf("state.shards must be at least 1")
	}
	if c.State.LiquidityDeltas < 1 || c.State.EventRefs < 1 || c.State.DedupRing < 1 {
		return fmt.Errorf("state ring sizes must be at least 1")
	}
	if c.State.ArchiveHorizon < time.Hour {
		return fmt.Errorf("state.archive_horizon must be at least 1h")
	}

	if c.Scorer.LiquidityDropPct <= 0 || c.Scorer.LiquidityDropPct > 100 {
		return fmt.Errorf("scorer.liquidity_drop_pct must be in (0, 100]")
	}
	if c.Scorer.ConcentrationTopShare <= 0 || c.Scorer.ConcentrationTopShare > 1 {
		return fmt.Errorf("scorer.concentration_top_share must be in (0, 1]")
	}
	if c.Scorer.HoneypotMinBuys < 1 {
		return fmt.Errorf("scorer.honeypot_min_buys must be at least 1")
	}
	if c.Scorer.MentionSpikeMult <= 1 {
		return fmt.Errorf("scorer.mention_spike_mult must be greater than 1")
	}
	for name, w := range map[string]float64{
		"liquidity_weight":     c.Scorer.LiquidityWeight,
		"concentration_weight": c.Scorer.ConcentrationWeight,
		"honeypot_weight":      c.Scorer.HoneypotWeight,
		"mention_weight":       c.Scorer.MentionWeight,
		"whale_weight":         c.Scorer.WhaleWeight,
	} {
		if w < 0 {
			return fmt.Errorf("scorer.%s must not be negative", name)
		}
	}

	if c.Dedup.Cooldown < time.Second {
		return fmt.Errorf("dedup.cooldown must be at least 1s")
	}
	if c.Dedup.EscalationThreshold <= 0 {
		return fmt.Errorf("dedup.escalation_threshold must be positive")
	}
	if c.Dedup.BucketCapacity < 1 {
		return fmt.Errorf("dedup.bucket_capacity must be at least 1")
	}
	if c.Dedup.RefillPerMinute <= 0 {
		return fmt.Errorf("dedup.refill_per_minute must be positive")
	}
	if c.Dedup.QueueDepth < 1 {
		return fmt.Errorf("dedup.queue_depth must be at least 1")
	}

	if c.Dispatch.MaxAttempts < 1 {
		return fmt.Errorf("dispatch.max_attempts must be at least 1")
	}
	if c.Dispatch.IdempotencyBucket < time.Second {
		return fmt.Errorf("dispatch.idempotency_bucket must be at least 1s")
	}

	switch c.Poster.Kind {
	case "log":
	case "telegram":
		if c.Poster.BotToken == "" || c.Poster.ChatID == "" {
			return fmt.Errorf("poster.bot_token and poster.chat_id are required for telegram poster")
		}
	default:
		return fmt.Errorf("poster.kind must be one of: telegram, log")
	}

	if !c.Storage.UseMemory && c.Storage.PostgresDSN == "" {
		return fmt.Errorf("storage.postgres_dsn is required unless storage.use_memory is set")
	}

	return nil
}
