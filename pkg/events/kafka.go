package events

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/uhyunpark/stocksim/pkg/matching"
)

// MessageWriter is the subset of *kafka.Writer the publisher needs
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 10 * time.Millisecond,
	}
}

// TradeMessage is the wire form of a trade on the feed
type TradeMessage struct {
	Type        string    `json:"type"` // "trade" or "expire"
	ID          string    `json:"id,omitempty"`
	Ticker      string    `json:"ticker"`
	Price       int64     `json:"price,omitempty"`
	Quantity    int64     `json:"quantity"`
	BuyOrderID  string    `json:"buyOrderId,omitempty"`
	SellOrderID string    `json:"sellOrderId,omitempty"`
	Aggressor   string    `json:"aggressor,omitempty"`
	OrderID     string    `json:"orderId,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Publisher forwards engine events to Kafka keyed by ticker. Engine callbacks only enqueue;
// Run does the network writes. Events are dropped when the buffer is full.
type Publisher struct {
	log     *zap.Logger
	w       MessageWriter
	ch      chan kafka.Message
	dropped atomic.Int64
}

func NewPublisher(log *zap.Logger, w MessageWriter, buffer int) *Publisher {
	if buffer < 1 {
		buffer = 1024
	}
	return &Publisher{log: log.Named("events"), w: w, ch: make(chan kafka.Message, buffer)}
}

func (p *Publisher) OnTrade(t matching.Trade) {
	p.enqueue(t.Ticker, TradeMessage{
		Type:        "trade",
		ID:          t.ID,
		Ticker:      t.Ticker,
		Price:       t.Price,
		Quantity:    t.Quantity,
		BuyOrderID:  t.BuyOrderID,
		SellOrderID: t.SellOrderID,
		Aggressor:   t.Aggressor.String(),
		Timestamp:   t.Timestamp,
	})
}

func (p *Publisher) OnExpire(e matching.Expiry) {
	p.enqueue(e.Ticker, TradeMessage{
		Type:      "expire",
		Ticker:    e.Ticker,
		Quantity:  e.Quantity,
		OrderID:   e.OrderID,
		Reason:    string(e.Reason),
		Timestamp: e.Timestamp,
	})
}

func (p *Publisher) enqueue(key string, m TradeMessage) {
	value, err := json.Marshal(m)
	if err != nil {
		p.log.Error("event_encode_failed", zap.Error(err))
		return
	}
	select {
	case p.ch <- kafka.Message{Key: []byte(key), Value: value}:
	default:
		p.dropped.Add(1)
	}
}

// Dropped is the number of events lost to a full buffer
func (p *Publisher) Dropped() int64 {
	return p.dropped.Load()
}

// Run writes queued events until ctx is done, then flushes what is buffered and closes the writer
func (p *Publisher) Run(ctx context.Context) error {
	defer p.w.Close()
	for {
		select {
		case <-ctx.Done():
			p.flush()
			return nil
		case m := <-p.ch:
			batch := p.collect(m)
			if err := p.w.WriteMessages(ctx, batch...); err != nil && ctx.Err() == nil {
				p.log.Warn("event_publish_failed", zap.Int("messages", len(batch)), zap.Error(err))
			}
		}
	}
}

// collect gathers whatever else is already buffered behind first
func (p *Publisher) collect(first kafka.Message) []kafka.Message {
	batch := []kafka.Message{first}
	for len(batch) < 100 {
		select {
		case m := <-p.ch:
			batch = append(batch, m)
		default:
			return batch
		}
	}
	return batch
}

func (p *Publisher) flush() {
	var rest []kafka.Message
	for {
		select {
		case m := <-p.ch:
			rest = append(rest, m)
		default:
			if len(rest) == 0 {
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := p.w.WriteMessages(ctx, rest...); err != nil {
				p.log.Warn("event_flush_failed", zap.Int("messages", len(rest)), zap.Error(err))
			}
			return
		}
	}
}
