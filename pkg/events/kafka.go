// Package events publishes committed trades to downstream consumers.
package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/uhyunpark/rapidflow/pkg/app/core/market"
	"github.com/uhyunpark/rapidflow/pkg/app/core/matching"
)

const (
	defaultQueueSize = 10000
	batchSize        = 100
	flushInterval    = 10 * time.Millisecond
	writeTimeout     = 5 * time.Second
)

// messageWriter is the part of *kafka.Writer the publisher uses
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher batches trades onto a Kafka topic, keyed by market id so one
// market's trades stay ordered within a partition.
//
// Publish never blocks the caller: trades go through a bounded queue and are dropped
// (and logged) when it is full.
type KafkaPublisher struct {
	writer messageWriter
	log    *zap.SugaredLogger

	queue     chan kafka.Message
	closeOnce sync.Once
	done      chan struct{}
}

// NewKafkaPublisher creates a publisher writing to topic on brokers
func NewKafkaPublisher(brokers []string, topic string, log *zap.Logger) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: flushInterval,
	}
	return newPublisher(w, log, defaultQueueSize)
}

func newPublisher(w messageWriter, log *zap.Logger, queueSize int) *KafkaPublisher {
	if log == nil {
		log = zap.NewNop()
	}
	p := &KafkaPublisher{
		writer: w,
		log:    log.Named("events").Sugar(),
		queue:  make(chan kafka.Message, queueSize),
		done:   make(chan struct{}),
	}
	go p.run()
	return p
}

// Publish enqueues trades of market m. Its signature matches spot.TradeHandler.
func (p *KafkaPublisher) Publish(m *market.Market, trades []matching.Trade) {
	key := []byte(m.ID.Hex())
	for _, tr := range trades {
		value, err := json.Marshal(tr)
		if err != nil {
			p.log.Errorw("trade_encode_failed", "market", m.ID.Hex(), "seq", tr.Seq, "error", err)
			continue
		}
		msg := kafka.Message{
			Key:   key,
			Value: value,
			Time:  time.UnixMilli(tr.Timestamp),
		}
		select {
		case p.queue <- msg:
		default:
			p.log.Warnw("trade_dropped", "market", m.ID.Hex(), "seq", tr.Seq, "reason", "queue full")
		}
	}
}

// Close flushes queued trades and closes the writer. Publish must not be called after.
func (p *KafkaPublisher) Close() error {
	p.closeOnce.Do(func() { close(p.queue) })
	<-p.done
	return p.writer.Close()
}

func (p *KafkaPublisher) run() {
	defer close(p.done)

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]kafka.Message, 0, batchSize)
	for {
		select {
		case msg, ok := <-p.queue:
			if !ok {
				p.flush(batch)
				return
			}
			batch = append(batch, msg)
			if len(batch) >= batchSize {
				batch = p.flush(batch)
			}
		case <-ticker.C:
			if len(batch) > 0 {
				batch = p.flush(batch)
			}
		}
	}
}

// flush writes batch and returns it emptied
func (p *KafkaPublisher) flush(batch []kafka.Message) []kafka.Message {
	if len(batch) == 0 {
		return batch
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := p.writer.WriteMessages(ctx, batch...); err != nil {
		p.log.Errorw("trade_publish_failed", "count", len(batch), "error", err)
	}
	return batch[:0]
}
