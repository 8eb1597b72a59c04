package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/igormart21/milha-alerta-fly/internal/events"
	"github.com/igormart21/milha-alerta-fly/internal/logger"
	"github.com/igormart21/milha-alerta-fly/internal/metrics"
)

// Sink kinds accepted in configuration.
const (
	KindNone  = "none"
	KindKafka = "kafka"
	KindNATS  = "nats"
)

// Sink forwards domain events to an external broker.
type Sink interface {
	Name() string
	Publish(ctx context.Context, e events.Event) error
	Close() error
}

// Config selects and configures the sink.
type Config struct {
	Kind          string
	KafkaBrokers  []string
	KafkaTopic    string
	NATSURL       string
	SubjectPrefix string
}

// New builds the sink for cfg.Kind. KindNone returns a nil Sink.
func New(cfg Config) (Sink, error) {
	switch strings.ToLower(cfg.Kind) {
	case "", KindNone:
		return nil, nil
	case KindKafka:
		s, err := NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			return nil, err
		}
		return s, nil
	case KindNATS:
		s, err := NewNATSSink(cfg.NATSURL, cfg.SubjectPrefix)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown events sink %q", cfg.Kind)
	}
}

// Register subscribes sink to every event type of m.
func Register(m *events.Manager, sink Sink, log logger.Logger) {
	if log == nil {
		log = logger.NewNop()
	}
	m.SubscribeAll(func(ctx context.Context, e events.Event) error {
		err := sink.Publish(ctx, e)
		metrics.IncEventPublished(sink.Name(), err)
		if err != nil {
			return fmt.Errorf("%s sink: %w", sink.Name(), err)
		}
		log.Debug("event published", "sink", sink.Name(), "event", string(e.Type), "alert_id", e.AlertID())
		return nil
	})
}

// Envelope is the wire form of a domain event.
type Envelope struct {
	ID         string           `json:"id"`
	Type       events.EventType `json:"type"`
	AlertID    string           `json:"alert_id"`
	OccurredAt time.Time        `json:"occurred_at"`
	Data       interface{}      `json:"data"`
}

// Encode wraps e in an Envelope and marshals it.
func Encode(e events.Event) ([]byte, error) {
	b, err := json.Marshal(Envelope{
		ID:         uuid.New().String(),
		Type:       e.Type,
		AlertID:    e.AlertID(),
		OccurredAt: e.Timestamp.UTC(),
		Data:       e.Data,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal event %s: %w", e.Type, err)
	}
	return b, nil
}
