package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/IBM/sarama"

	"token-sentinel/internal/bus"
	"token-sentinel/internal/domain"
	"token-sentinel/internal/health"
)

// eventEnvelope is the wire format for pre-normalized events consumed from
// Kafka. Producers that already run their own normalization publish these
// directly instead of going through an RPC adapter.
type eventEnvelope struct {
	Source      string `json:"source"`      // chain | social | wallet
	Type        string `json:"type"`        // swap | liquidity_add | ...
	EntityID    string `json:"entity_id"`
	EntityKind  string `json:"entity_kind"` // token | wallet | pool
	TimestampMs int64  `json:"timestamp_ms"`

	Swap *struct {
		Pool        string  `json:"pool"`
		Direction   string  `json:"direction"`
		AmountToken float64 `json:"amount_token"`
		AmountQuote float64 `json:"amount_quote"`
		Wallet      string  `json:"wallet"`
	} `json:"swap,omitempty"`

	Liquidity *struct {
		Pool           string  `json:"pool"`
		Action         string  `json:"action"`
		AmountQuote    float64 `json:"amount_quote"`
		LiquidityAfter float64 `json:"liquidity_after"`
	} `json:"liquidity,omitempty"`

	Transfer *struct {
		From        string  `json:"from"`
		To          string  `json:"to"`
		Amount      float64 `json:"amount"`
		ToIsProgram bool    `json:"to_is_program"`
	} `json:"transfer,omitempty"`

	Mention *struct {
		Author string `json:"author"`
		Text   string `json:"text"`
	} `json:"mention,omitempty"`

	Holders *struct {
		HolderCount int     `json:"holder_count"`
		TopShare    float64 `json:"top_share"`
		TopN        int     `json:"top_n"`
	} `json:"holders,omitempty"`
}

func (e *eventEnvelope) toEvent() *domain.Event {
	ev := &domain.Event{
		Source:    domain.SourceKind(e.Source),
		Type:      domain.EventType(e.Type),
		Entity:    domain.EntityRef{ID: e.EntityID, Kind: domain.EntityKind(e.EntityKind)},
		Timestamp: e.TimestampMs,
	}
	if e.Swap != nil {
		ev.Swap = &domain.SwapPayload{
			Pool:        e.Swap.Pool,
			Direction:   domain.SwapDirection(e.Swap.Direction),
			AmountToken: e.Swap.AmountToken,
			AmountQuote: e.Swap.AmountQuote,
			Wallet:      e.Swap.Wallet,
		}
	}
	if e.Liquidity != nil {
		ev.Liquidity = &domain.LiquidityPayload{
			Pool:           e.Liquidity.Pool,
			Action:         domain.LiquidityAction(e.Liquidity.Action),
			AmountQuote:    e.Liquidity.AmountQuote,
			LiquidityAfter: e.Liquidity.LiquidityAfter,
		}
	}
	if e.Transfer != nil {
		ev.Transfer = &domain.TransferPayload{
			From:        e.Transfer.From,
			To:          e.Transfer.To,
			Amount:      e.Transfer.Amount,
			ToIsProgram: e.Transfer.ToIsProgram,
		}
	}
	if e.Mention != nil {
		ev.Mention = &domain.MentionPayload{Author: e.Mention.Author, Text: e.Mention.Text}
	}
	if e.Holders != nil {
		ev.Holders = &domain.HoldersPayload{
			HolderCount: e.Holders.HolderCount,
			TopShare:    e.Holders.TopShare,
			TopN:        e.Holders.TopN,
		}
	}
	return ev
}

// KafkaOptions configures a Kafka source.
type KafkaOptions struct {
	Name    string
	Brokers []string
	Topic   string
	GroupID string

	Bus    *bus.Bus
	Health *health.Registry
	Logger *log.Logger
}

func (o *KafkaOptions) normalize() error {
	if len(o.Brokers) == 0 || o.Topic == "" {
		return fmt.Errorf("kafka adapter requires brokers and a topic")
	}
	if o.Bus == nil || o.Health == nil {
		return fmt.Errorf("kafka adapter requires bus and health")
	}
	if o.Name == "" {
		o.Name = "kafka-" + o.Topic
	}
	if o.GroupID == "" {
		o.GroupID = "token-sentinel"
	}
	if o.Logger == nil {
		o.Logger = log.Default()
	}
	return nil
}

// Kafka consumes pre-normalized event envelopes from a topic through a
// consumer group. Offsets are committed after the event reaches the bus, so
// a crash redelivers; the redelivered event reproduces the same id and the
// state store drops it.
type Kafka struct {
	opts  KafkaOptions
	group sarama.ConsumerGroup
	em    emitter
}

// NewKafka creates a Kafka event source.
func NewKafka(opts KafkaOptions) (*Kafka, error) {
	if err := opts.normalize(); err != nil {
		return nil, err
	}
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_1_0_0
	cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	cfg.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(opts.Brokers, opts.GroupID, cfg)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer group: %w", err)
	}
	k := &Kafka{
		opts:  opts,
		group: group,
		em: emitter{
			sourceID: opts.Name,
			bus:      opts.Bus,
			health:   opts.Health,
		},
	}
	opts.Health.Register(opts.Name)
	return k, nil
}

// Name returns the source id.
func (k *Kafka) Name() string { return k.opts.Name }

// Run consumes until ctx is cancelled. Consume returns on every rebalance
// and must be re-entered.
func (k *Kafka) Run(ctx context.Context) error {
	defer k.group.Close()

	go func() {
		for err := range k.group.Errors() {
			recordSourceError(k.opts.Health, k.opts.Name)
			k.opts.Logger.Printf("kafka %s: consumer error: %v", k.opts.Name, err)
		}
	}()

	h := &kafkaHandler{k: k, ctx: ctx}
	for {
		if err := k.group.Consume(ctx, []string{k.opts.Topic}, h); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			recordSourceError(k.opts.Health, k.opts.Name)
			k.opts.Logger.Printf("kafka %s: consume failed: %v", k.opts.Name, err)
			time.Sleep(time.Second)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

type kafkaHandler struct {
	k   *Kafka
	ctx context.Context
}

func (h *kafkaHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *kafkaHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *kafkaHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		ev := h.k.decode(msg)
		if ev != nil {
			if err := h.k.em.publish(h.ctx, ev); err != nil {
				return err
			}
		}
		sess.MarkMessage(msg, "")
	}
	return nil
}

// decode parses one message into an event. The topic partition and offset
// pin the sequence number, so a redelivered message maps to the same id.
func (k *Kafka) decode(msg *sarama.ConsumerMessage) *domain.Event {
	var env eventEnvelope
	if err := json.Unmarshal(msg.Value, &env); err != nil {
		k.opts.Health.RecordMalformed(k.opts.Name)
		return nil
	}
	ev := env.toEvent()
	ev.Seq = upstreamSeq(msg.Topic,
		strconv.FormatInt(int64(msg.Partition), 10),
		strconv.FormatInt(msg.Offset, 10))
	if ev.Timestamp <= 0 && msg.Timestamp.UnixMilli() > 0 {
		ev.Timestamp = msg.Timestamp.UnixMilli()
	}
	return ev
}
