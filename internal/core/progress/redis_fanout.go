package progress

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/kaushikharsh99/Dropvault/internal/models"
	"github.com/kaushikharsh99/Dropvault/internal/pkg/logger"
)

const progressChannel = "dropvault:progress"

// envelope is the wire format on the redis channel. Progress hides its owner
// from JSON, so the owner travels next to it.
type envelope struct {
	Origin   string          `json:"origin"`
	OwnerID  string          `json:"owner_id"`
	Progress models.Progress `json:"progress"`
}

// RedisFanout relays progress between API instances over redis pub/sub.
// Every instance delivers its own tuples locally, so messages that
// originate here are ignored on receipt.
type RedisFanout struct {
	rdb    *redis.Client
	hub    *Hub
	origin string
	log    logger.ILogger
}

func NewRedisFanout(ctx context.Context, redisURL string, hub *Hub, log logger.ILogger) (*RedisFanout, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		log.Warn("progress", "failed to parse redis url, using it as address", map[string]interface{}{"error": err.Error()})
		opt = &redis.Options{Addr: redisURL}
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisFanout{rdb: rdb, hub: hub, origin: uuid.NewString(), log: log}, nil
}

func (f *RedisFanout) Publish(ctx context.Context, p models.Progress) error {
	data, err := json.Marshal(envelope{Origin: f.origin, OwnerID: p.OwnerID, Progress: p})
	if err != nil {
		return err
	}
	return f.rdb.Publish(ctx, progressChannel, data).Err()
}

// Run delivers tuples published by other instances until ctx ends.
func (f *RedisFanout) Run(ctx context.Context) {
	pubsub := f.rdb.Subscribe(ctx, progressChannel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			f.handle(msg.Payload)
		}
	}
}

func (f *RedisFanout) handle(payload string) {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		f.log.Warn("progress", "bad fanout message", map[string]interface{}{"error": err.Error()})
		return
	}
	if env.Origin == f.origin {
		return
	}
	p := env.Progress
	p.OwnerID = env.OwnerID
	f.hub.Deliver(p)
}

func (f *RedisFanout) Close() error {
	return f.rdb.Close()
}
