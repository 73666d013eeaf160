package fanout

import (
	"encoding/json"

	"go.uber.org/zap"

	"studysync/pkg/interfaces"
	"studysync/pkg/types"
)

// DeliveryReport records the outcome of one Publish. Failed holds the ids
// of connections whose outbox rejected the frame.
type DeliveryReport struct {
	SessionID string
	EventType string
	Delivered int
	Failed    []string
}

// OK reports whether every target accepted the frame.
func (r DeliveryReport) OK() bool {
	return len(r.Failed) == 0
}

// Recorder receives delivery outcomes; metrics.Metrics implements it.
type Recorder interface {
	ObserveDelivery(eventType string, delivered, failed int)
}

// Fanout encodes an event once and hands it to each target's outbox. It is
// stateless; callers own the target list, which keeps room membership the
// single source of truth.
type Fanout struct {
	logger   *zap.Logger
	recorder Recorder
}

func New(logger *zap.Logger, recorder Recorder) *Fanout {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fanout{logger: logger, recorder: recorder}
}

// Publish delivers ev to every target except exclude. It never blocks on
// the network and one target's failure never affects another.
func (f *Fanout) Publish(sessionID string, targets []interfaces.Connection, ev types.Event, exclude string) DeliveryReport {
	report := DeliveryReport{SessionID: sessionID, EventType: ev.Type}

	data, err := json.Marshal(ev)
	if err != nil {
		f.logger.Error("failed to encode event",
			zap.String("session_id", sessionID),
			zap.String("event", ev.Type),
			zap.Error(err))
		for _, conn := range targets {
			if conn.ID() != exclude {
				report.Failed = append(report.Failed, conn.ID())
			}
		}
		f.record(report)
		return report
	}

	for _, conn := range targets {
		if conn.ID() == exclude {
			continue
		}
		if err := conn.Enqueue(data); err != nil {
			report.Failed = append(report.Failed, conn.ID())
			f.logger.Warn("delivery failed",
				zap.String("session_id", sessionID),
				zap.String("connection_id", conn.ID()),
				zap.String("event", ev.Type),
				zap.Error(err))
			continue
		}
		report.Delivered++
	}

	f.record(report)
	return report
}

// Send delivers ev to a single connection, used for snapshots and errors.
func (f *Fanout) Send(sessionID string, conn interfaces.Connection, ev types.Event) DeliveryReport {
	return f.Publish(sessionID, []interfaces.Connection{conn}, ev, "")
}

func (f *Fanout) record(r DeliveryReport) {
	if f.recorder != nil {
		f.recorder.ObserveDelivery(r.EventType, r.Delivered, len(r.Failed))
	}
}
