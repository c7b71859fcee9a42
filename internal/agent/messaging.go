package agent

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/nyx-labs/swarmd/internal/swarm"
)

// SendMessage queues a message for another agent. Fire-and-forget:
// delivery errors are logged and swallowed, never surfaced into the
// task state machine.
func (a *Agent) SendMessage(ctx context.Context, to string, typ swarm.MessageType, payload map[string]any, priority swarm.Priority, ttl time.Duration) {
	msg := &swarm.Message{
		From:     a.cfg.ID,
		To:       to,
		Type:     typ,
		Payload:  payload,
		Priority: priority,
	}
	if ttl > 0 {
		exp := time.Now().Add(ttl)
		msg.ExpiresAt = &exp
	}
	if err := a.bus.Send(ctx, msg); err != nil {
		a.logger.Warn("message send failed",
			zap.String("to", to),
			zap.String("type", string(typ)),
			zap.Error(err))
	}
}

// ReadMessages drains the agent's inbox. Messages are delivered once;
// a drained inbox is empty. Read errors are logged and swallowed.
func (a *Agent) ReadMessages(ctx context.Context) []*swarm.Message {
	msgs, err := a.bus.Drain(ctx, a.cfg.ID)
	if err != nil {
		a.logger.Warn("inbox drain failed", zap.Error(err))
		return nil
	}
	return msgs
}
