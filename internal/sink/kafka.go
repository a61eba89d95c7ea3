// Package sink mirrors published sensor readings to a message broker.
package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/i474232898/quarter-sensor-simulator/internal/sensors"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Reading is the message body for one quarter in one publish cycle.
type Reading struct {
	CycleID       string    `json:"cycleId"`
	Quarter       string    `json:"quarter"`
	Lat           float64   `json:"lat"`
	Lng           float64   `json:"lng"`
	Activated     string    `json:"activated"`
	Temp          float64   `json:"temp"`
	TempWithNoise float64   `json:"tempWithNoise"`
	PublishedAt   time.Time `json:"publishedAt"`
}

// KafkaSink writes one message per record, keyed by quarter so a quarter's
// readings stay ordered within a partition.
type KafkaSink struct {
	w     messageWriter
	topic string
	now   func() time.Time
}

func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
		Async:        false,
	}
	return newKafkaSink(w, topic)
}

func newKafkaSink(w messageWriter, topic string) *KafkaSink {
	return &KafkaSink{
		w:     w,
		topic: topic,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Mirror sends records that carry a temperature; records without one are skipped.
func (k *KafkaSink) Mirror(ctx context.Context, cycleID string, records []sensors.Record) error {
	at := k.now()
	msgs := make([]kafka.Message, 0, len(records))
	for _, rec := range records {
		if !rec.HasTemperature() {
			continue
		}
		body, err := json.Marshal(Reading{
			CycleID:       cycleID,
			Quarter:       rec.ID,
			Lat:           rec.Lat,
			Lng:           rec.Lng,
			Activated:     rec.Activated,
			Temp:          *rec.Temp,
			TempWithNoise: *rec.TempWithNoise,
			PublishedAt:   at,
		})
		if err != nil {
			return fmt.Errorf("encode reading for %s: %w", rec.ID, err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(rec.ID),
			Value: body,
			Time:  at,
		})
	}
	if len(msgs) == 0 {
		return nil
	}
	if err := k.w.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("kafka write to %s: %w", k.topic, err)
	}
	return nil
}

func (k *KafkaSink) Close() error {
	return k.w.Close()
}
