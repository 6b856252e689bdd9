package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"

	"example.com/backstage/services/aggregation/config"
	"example.com/backstage/services/aggregation/internal/aggregation"
	"example.com/backstage/services/aggregation/internal/classifier"
)

// Event types published on a session channel
const (
	EventSnapshot = "snapshot"
	EventResult   = "result"
	EventClosed   = "closed"
)

// Publisher shares live session state with overlay renderers and other
// stations
type Publisher interface {
	PublishSnapshot(ctx context.Context, sessionID string, codes []classifier.ClassifiedCode) error
	PublishResult(ctx context.Context, sessionID string, result aggregation.CheckResult) error
	LastResult(ctx context.Context, sessionID string) (*aggregation.CheckResult, error)
	Forget(ctx context.Context, sessionID string) error
	Close() error
}

// Event is the message sent on a session channel
type Event struct {
	Type      string          `json:"type"`
	SessionID string          `json:"session_id"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	SentAt    time.Time       `json:"sent_at"`
}

// RedisPublisher implements Publisher using Redis keys and pub/sub
type RedisPublisher struct {
	client  *redis.Client
	enabled bool
	ttl     time.Duration
}

// NewRedisPublisher creates a new Redis publisher. A disabled config yields
// a publisher whose writes are no-ops.
func NewRedisPublisher(cfg config.RedisConfig) (*RedisPublisher, error) {
	if !cfg.Enabled {
		return &RedisPublisher{enabled: false}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// Test the connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, errors.Wrap(err, "failed to connect to Redis")
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = time.Hour
	}

	return &RedisPublisher{
		client:  client,
		enabled: true,
		ttl:     ttl,
	}, nil
}

// Prefix keys to avoid collisions
func snapshotKey(sessionID string) string {
	return fmt.Sprintf("aggregation:session:%s:snapshot", sessionID)
}

func resultKey(sessionID string) string {
	return fmt.Sprintf("aggregation:session:%s:result", sessionID)
}

// Channel is the pub/sub channel carrying a session's events
func Channel(sessionID string) string {
	return fmt.Sprintf("aggregation:session:%s:events", sessionID)
}

func encodeEvent(eventType, sessionID string, payload interface{}) ([]byte, []byte, error) {
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return nil, nil, errors.Wrap(err, "failed to marshal event payload")
		}
	}
	event, err := json.Marshal(Event{
		Type:      eventType,
		SessionID: sessionID,
		Payload:   body,
		SentAt:    time.Now().UTC(),
	})
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to marshal event")
	}
	return body, event, nil
}

// store writes the payload under key and announces it on the session channel
func (p *RedisPublisher) store(ctx context.Context, key, eventType, sessionID string, payload interface{}) error {
	body, event, err := encodeEvent(eventType, sessionID, payload)
	if err != nil {
		return err
	}

	pipe := p.client.TxPipeline()
	pipe.Set(ctx, key, body, p.ttl)
	pipe.Publish(ctx, Channel(sessionID), event)
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrapf(err, "failed to publish %s", eventType)
	}
	return nil
}

// PublishSnapshot stores the current buffer contents of a session
func (p *RedisPublisher) PublishSnapshot(ctx context.Context, sessionID string, codes []classifier.ClassifiedCode) error {
	if !p.enabled {
		return nil
	}
	return p.store(ctx, snapshotKey(sessionID), EventSnapshot, sessionID, codes)
}

// PublishResult stores the latest check result of a session
func (p *RedisPublisher) PublishResult(ctx context.Context, sessionID string, result aggregation.CheckResult) error {
	if !p.enabled {
		return nil
	}
	return p.store(ctx, resultKey(sessionID), EventResult, sessionID, result)
}

// LastResult returns the latest published check result. It returns nil
// without an error when no result is stored.
func (p *RedisPublisher) LastResult(ctx context.Context, sessionID string) (*aggregation.CheckResult, error) {
	if !p.enabled {
		return nil, nil
	}

	data, err := p.client.Get(ctx, resultKey(sessionID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get cached result")
	}

	var result aggregation.CheckResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal cached result")
	}
	return &result, nil
}

// Forget removes the session's keys and announces that it closed
func (p *RedisPublisher) Forget(ctx context.Context, sessionID string) error {
	if !p.enabled {
		return nil
	}

	_, event, err := encodeEvent(EventClosed, sessionID, nil)
	if err != nil {
		return err
	}

	pipe := p.client.TxPipeline()
	pipe.Del(ctx, snapshotKey(sessionID), resultKey(sessionID))
	pipe.Publish(ctx, Channel(sessionID), event)
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrap(err, "failed to forget session")
	}
	return nil
}

// Close releases the Redis connection
func (p *RedisPublisher) Close() error {
	if !p.enabled {
		return nil
	}
	return p.client.Close()
}
