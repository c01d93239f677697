package events

import (
	"github.com/devflow-ai/devflow/pkg/masking"
)

// redactingBroadcaster strips secret material from payloads on their way to
// a transport hub. Redaction happens here rather than at publish time so the
// event store keeps the original payload and replaying history rebuilds the
// exact state the orchestrator saw.
type redactingBroadcaster struct {
	next     Broadcaster
	redactor *masking.Redactor
}

// NewRedactingBroadcaster wraps next so every broadcast payload passes
// through the redactor first.
func NewRedactingBroadcaster(next Broadcaster, r *masking.Redactor) Broadcaster {
	return &redactingBroadcaster{next: next, redactor: r}
}

func (b *redactingBroadcaster) Broadcast(channel string, payload []byte) {
	b.next.Broadcast(channel, b.redactor.RedactBytes(payload))
}
