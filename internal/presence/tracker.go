package presence

import (
	"go.uber.org/zap"

	"studysync/internal/fanout"
	"studysync/pkg/interfaces"
	"studysync/pkg/types"
)

// Publisher is the fan-out surface the tracker needs.
type Publisher interface {
	Publish(sessionID string, targets []interfaces.Connection, ev types.Event, exclude string) fanout.DeliveryReport
}

// Tracker derives presence deltas from membership changes. It holds no
// state: counts come from the member list the room passes in at the moment
// of the change.
type Tracker struct {
	publisher Publisher
	logger    *zap.Logger
}

func NewTracker(publisher Publisher, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{publisher: publisher, logger: logger}
}

// Joined announces connectionID to members, which must already include the
// joiner. The joiner itself is excluded; its snapshot carries the count.
func (t *Tracker) Joined(sessionID, connectionID string, members []interfaces.Connection) types.PresenceDelta {
	delta := types.PresenceDelta{
		SessionID:    sessionID,
		Kind:         types.PresenceJoined,
		ConnectionID: connectionID,
		Count:        len(members),
	}
	t.publish(delta, members, connectionID)
	return delta
}

// Left announces the departure of connectionID to the remaining members.
func (t *Tracker) Left(sessionID, connectionID string, remaining []interfaces.Connection) types.PresenceDelta {
	delta := types.PresenceDelta{
		SessionID:    sessionID,
		Kind:         types.PresenceLeft,
		ConnectionID: connectionID,
		Count:        len(remaining),
	}
	if len(remaining) > 0 {
		t.publish(delta, remaining, connectionID)
	}
	return delta
}

func (t *Tracker) publish(delta types.PresenceDelta, targets []interfaces.Connection, exclude string) {
	report := t.publisher.Publish(delta.SessionID, targets, types.Event{Type: types.EventPresence, Data: delta}, exclude)
	if !report.OK() {
		t.logger.Debug("presence delta partially delivered",
			zap.String("session_id", delta.SessionID),
			zap.String("kind", string(delta.Kind)),
			zap.Strings("failed", report.Failed))
	}
}
