package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/kaushikharsh99/Dropvault/internal/models"
	"github.com/kaushikharsh99/Dropvault/internal/pkg/logger"
)

const (
	StreamName       = "ITEMS"
	SubjectCompleted = "items.completed"
	SubjectFailed    = "items.failed"
)

// ItemEvent is the payload published on a terminal item transition.
type ItemEvent struct {
	ItemID  string            `json:"item_id"`
	OwnerID string            `json:"owner_id"`
	Status  models.ItemStatus `json:"status"`
	Message string            `json:"message"`
	Error   string            `json:"error,omitempty"`
	At      time.Time         `json:"at"`
}

// streamPublisher is the part of jetstream.JetStream the publisher uses.
type streamPublisher interface {
	Publish(ctx context.Context, subject string, payload []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// Publisher sends item lifecycle events to the NATS bus.
type Publisher struct {
	nc  *nats.Conn
	js  streamPublisher
	log logger.ILogger
	now func() time.Time
}

func NewPublisher(ctx context.Context, url string, log logger.ILogger) (*Publisher, error) {
	nc, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	sctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err = js.CreateOrUpdateStream(sctx, jetstream.StreamConfig{
		Name:      StreamName,
		Subjects:  []string{"items.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    7 * 24 * time.Hour,
	})
	if err != nil {
		// the stream may already exist with other settings, or the server may still be starting
		log.Warn("events", "failed to ensure stream", map[string]interface{}{"stream": StreamName, "error": err.Error()})
	}

	return &Publisher{nc: nc, js: js, log: log, now: time.Now}, nil
}

func (p *Publisher) ItemCompleted(ctx context.Context, pr models.Progress) error {
	return p.publish(ctx, SubjectCompleted, p.event(pr, nil))
}

func (p *Publisher) ItemFailed(ctx context.Context, pr models.Progress, cause error) error {
	return p.publish(ctx, SubjectFailed, p.event(pr, cause))
}

func (p *Publisher) event(pr models.Progress, cause error) ItemEvent {
	ev := ItemEvent{
		ItemID:  pr.ItemID,
		OwnerID: pr.OwnerID,
		Status:  pr.Status,
		Message: pr.Message,
		At:      p.now().UTC(),
	}
	if cause != nil {
		ev.Error = cause.Error()
	}
	return ev
}

func (p *Publisher) publish(ctx context.Context, subject string, ev ItemEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event payload: %w", err)
	}

	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if _, err := p.js.Publish(pctx, subject, data); err != nil {
		return fmt.Errorf("failed to publish event to subject %s: %w", subject, err)
	}
	return nil
}

func (p *Publisher) Close() {
	if p.nc != nil {
		p.nc.Close()
	}
}

// Nop discards events; used when no NATS_URL is configured.
type Nop struct{}

func (Nop) ItemCompleted(context.Context, models.Progress) error      { return nil }
func (Nop) ItemFailed(context.Context, models.Progress, error) error { return nil }
func (Nop) Close()                                                   {}
