package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/nyx-labs/swarmd/internal/swarm"
)

const inboxPrefix = "swarmd:inbox:"

// drainBatch bounds how many messages a single Drain call removes.
const drainBatch = 256

// RedisBus delivers agent messages through per-agent Redis lists.
// A drain pops the whole inbox, which gives the read-once semantics
// the message contract requires.
type RedisBus struct {
	rdb    *redis.Client
	logger *zap.Logger
}

var _ swarm.MessageBus = (*RedisBus)(nil)

// NewRedisBus connects to Redis and verifies the connection.
func NewRedisBus(ctx context.Context, redisURL string, logger *zap.Logger) (*RedisBus, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisBus{rdb: rdb, logger: logger}, nil
}

// Send appends a message to the recipient's inbox list.
func (b *RedisBus) Send(ctx context.Context, msg *swarm.Message) error {
	prepare(msg)
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	key := inboxPrefix + msg.To
	if err := b.rdb.RPush(ctx, key, data).Err(); err != nil {
		return fmt.Errorf("send to %s: %w", msg.To, err)
	}
	b.logger.Debug("message sent",
		zap.String("from", msg.From),
		zap.String("to", msg.To),
		zap.String("type", string(msg.Type)))
	return nil
}

// Drain pops and returns the agent's waiting messages, oldest first.
// Expired messages are dropped; returned ones are marked read.
func (b *RedisBus) Drain(ctx context.Context, agentID string) ([]*swarm.Message, error) {
	key := inboxPrefix + agentID
	raw, err := b.rdb.LPopCount(ctx, key, drainBatch).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("drain inbox %s: %w", agentID, err)
	}

	now := time.Now()
	var msgs []*swarm.Message
	for _, item := range raw {
		var m swarm.Message
		if err := json.Unmarshal([]byte(item), &m); err != nil {
			b.logger.Warn("dropping undecodable message", zap.String("agent", agentID), zap.Error(err))
			continue
		}
		if m.Expired(now) {
			continue
		}
		m.Read = true
		msgs = append(msgs, &m)
	}
	return msgs, nil
}

// Close shuts down the Redis connection.
func (b *RedisBus) Close() error {
	return b.rdb.Close()
}

func prepare(msg *swarm.Message) {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
}
