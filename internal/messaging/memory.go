package messaging

import (
	"context"
	"sync"
	"time"

	"github.com/nyx-labs/swarmd/internal/swarm"
)

// MemBus is an in-process message bus with the same read-once drain
// semantics as the Redis bus. Used in tests and Redis-less deployments.
type MemBus struct {
	mu      sync.Mutex
	inboxes map[string][]*swarm.Message
}

var _ swarm.MessageBus = (*MemBus)(nil)

// NewMemBus creates an empty in-memory bus.
func NewMemBus() *MemBus {
	return &MemBus{inboxes: make(map[string][]*swarm.Message)}
}

// Send appends a message to the recipient's inbox.
func (b *MemBus) Send(ctx context.Context, msg *swarm.Message) error {
	prepare(msg)
	cp := *msg
	b.mu.Lock()
	defer b.mu.Unlock()
	b.inboxes[msg.To] = append(b.inboxes[msg.To], &cp)
	return nil
}

// Drain returns and clears the agent's inbox, dropping expired messages.
func (b *MemBus) Drain(ctx context.Context, agentID string) ([]*swarm.Message, error) {
	b.mu.Lock()
	queued := b.inboxes[agentID]
	delete(b.inboxes, agentID)
	b.mu.Unlock()

	now := time.Now()
	var msgs []*swarm.Message
	for _, m := range queued {
		if m.Expired(now) {
			continue
		}
		m.Read = true
		msgs = append(msgs, m)
	}
	return msgs, nil
}

// Close is a no-op for the in-memory bus.
func (b *MemBus) Close() error { return nil }
