package adapter

import (
	"testing"
	"time"

	"github.com/IBM/sarama"

	"token-sentinel/internal/bus"
	"token-sentinel/internal/domain"
	"token-sentinel/internal/health"
)

func testKafka(t *testing.T, reg *health.Registry) *Kafka {
	t.Helper()
	k := &Kafka{
		opts: KafkaOptions{Name: "kafka-test", Health: reg},
		em:   emitter{sourceID: "kafka-test", bus: bus.New(), health: reg},
	}
	reg.Register("kafka-test")
	return k
}

func TestKafkaDecodeEnvelope(t *testing.T) {
	k := testKafka(t, health.NewRegistry(time.Minute))

	msg := &sarama.ConsumerMessage{
		Topic:     "events",
		Partition: 2,
		Offset:    41,
		Value: []byte(`{
			"source": "chain",
			"type": "swap",
			"entity_id": "Mint11111111111111111111111111111111111111",
			"entity_kind": "token",
			"timestamp_ms": 1700000000000,
			"swap": {"pool": "pool-1", "direction": "buy", "amount_token": 100, "amount_quote": 50, "wallet": "w1"}
		}`),
	}

	ev := k.decode(msg)
	if ev == nil {
		t.Fatal("decode returned nil for a valid envelope")
	}
	if ev.Type != domain.EventSwap || ev.Source != domain.SourceChain {
		t.Errorf("decoded %s/%s, want chain/swap", ev.Source, ev.Type)
	}
	if ev.Swap == nil || ev.Swap.AmountToken != 100 || ev.Swap.Direction != domain.SwapBuy {
		t.Errorf("swap payload = %+v", ev.Swap)
	}
	if ev.Timestamp != 1700000000000 {
		t.Errorf("timestamp = %d", ev.Timestamp)
	}

	// Same partition and offset reproduce the same sequence number.
	if again := k.decode(msg); again.Seq != ev.Seq {
		t.Errorf("Seq differs across redelivery: %d vs %d", again.Seq, ev.Seq)
	}
	other := *msg
	other.Offset = 42
	if next := k.decode(&other); next.Seq == ev.Seq {
		t.Error("different offsets produced the same Seq")
	}
}

func TestKafkaDecodeMalformed(t *testing.T) {
	reg := health.NewRegistry(time.Minute)
	k := testKafka(t, reg)

	msg := &sarama.ConsumerMessage{Topic: "events", Value: []byte("{not json")}
	if ev := k.decode(msg); ev != nil {
		t.Fatalf("decode returned %+v for malformed JSON, want nil", ev)
	}
	stats := reg.Snapshot(time.Now().UnixMilli())["kafka-test"]
	if stats.MalformedCount != 1 {
		t.Errorf("malformed count = %d, want 1", stats.MalformedCount)
	}
}

func TestKafkaDecodeTimestampFallback(t *testing.T) {
	k := testKafka(t, health.NewRegistry(time.Minute))

	at := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	msg := &sarama.ConsumerMessage{
		Topic:     "events",
		Timestamp: at,
		Value: []byte(`{
			"source": "social",
			"type": "mention",
			"entity_id": "handle",
			"entity_kind": "token",
			"mention": {"author": "alice", "text": "hi"}
		}`),
	}
	ev := k.decode(msg)
	if ev == nil {
		t.Fatal("decode returned nil")
	}
	if ev.Timestamp != at.UnixMilli() {
		t.Errorf("timestamp = %d, want broker timestamp %d", ev.Timestamp, at.UnixMilli())
	}
}
