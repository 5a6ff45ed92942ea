package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "sentinel.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const minimalConfig = `
solana:
  pools:
    - name: "raydium-bonk"
      address: "675kPX9MHTjS2zt1qfr1NYHuzeLXfQM9H24wFSUt1Mp8"
      mint: "DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263"
      quote_mint: "So11111111111111111111111111111111111111112"
storage:
  use_memory: true
`

func TestLoad_DefaultsApplied(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}

	if cfg.Dedup.Cooldown != 15*time.Minute {
		t.Errorf("Expected default cooldown 15m, got %v", cfg.Dedup.Cooldown)
	}
	if cfg.Dedup.EscalationThreshold != 20.0 {
		t.Errorf("Expected default escalation threshold 20, got %v", cfg.Dedup.EscalationThreshold)
	}
	if cfg.State.Shards != 16 {
		t.Errorf("Expected default 16 shards, got %d", cfg.State.Shards)
	}
	if cfg.State.ArchiveHorizon != 720*time.Hour {
		t.Errorf("Expected default 30d archive horizon, got %v", cfg.State.ArchiveHorizon)
	}
	if cfg.Poster.Kind != "log" {
		t.Errorf("Expected default log poster, got %s", cfg.Poster.Kind)
	}
}

func TestValidate_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{
			name:   "no pools",
			mutate: func(c *Config) { c.Solana.Pools = nil },
			want:   "solana.pools",
		},
		{
			name:   "pool missing mint",
			mutate: func(c *Config) { c.Solana.Pools[0].Mint = "" },
			want:   "solana.pools[0]",
		},
		{
			name:   "pool address not base58",
			mutate: func(c *Config) { c.Solana.Pools[0].Address = "not-an-address!!" },
			want:   "not a valid address",
		},
		{
			name:   "mint too short",
			mutate: func(c *Config) { c.Solana.Mints = []string{"abc"} },
			want:   "solana.mints[0]",
		},
		{
			name: "watched wallet malformed",
			mutate: func(c *Config) {
				c.Wallets.Enabled = true
				c.Wallets.Watched = []string{"zzz"}
			},
			want: "wallets.watched[0]",
		},
		{
			name:   "drop pct out of range",
			mutate: func(c *Config) { c.Scorer.LiquidityDropPct = 150 },
			want:   "liquidity_drop_pct",
		},
		{
			name:   "spike multiplier too low",
			mutate: func(c *Config) { c.Scorer.MentionSpikeMult = 1.0 },
			want:   "mention_spike_mult",
		},
		{
			name:   "negative weight",
			mutate: func(c *Config) { c.Scorer.HoneypotWeight = -1 },
			want:   "honeypot_weight",
		},
		{
			name:   "zero cooldown",
			mutate: func(c *Config) { c.Dedup.Cooldown = 0 },
			want:   "dedup.cooldown",
		},
		{
			name:   "telegram without token",
			mutate: func(c *Config) { c.Poster.Kind = "telegram" },
			want:   "bot_token",
		},
		{
			name:   "unknown poster",
			mutate: func(c *Config) { c.Poster.Kind = "carrier-pigeon" },
			want:   "poster.kind",
		},
		{
			name:   "no persistence configured",
			mutate: func(c *Config) { c.Storage.UseMemory = false },
			want:   "postgres_dsn",
		},
		{
			name:   "kafka enabled without brokers",
			mutate: func(c *Config) { c.Kafka.Enabled = true; c.Kafka.Topic = "events" },
			want:   "kafka.brokers",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(writeConfig(t, minimalConfig))
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			tt.mutate(cfg)

			err = cfg.Validate()
			if err == nil {
				t.Fatal("Expected validation error, got nil")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/sentinel.yaml"); err == nil {
		t.Error("Expected error for missing config file")
	}
}
