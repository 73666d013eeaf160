package hub

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"studysync/internal/fanout"
	"studysync/internal/validation"
	"studysync/pkg/interfaces"
	"studysync/pkg/types"
)

type member struct {
	conn interfaces.Connection
	info types.Member
}

// room is the actor for one live session. Every field below cmds is owned
// by the run goroutine and only touched from inside a command.
type room struct {
	id            string
	teacherUserID string // immutable after bootstrap
	registry      *Registry
	cmds          chan func(*room)
	done          chan struct{}

	passage    types.Passage
	highlights []types.Highlight
	seq        uint64
	lastStamp  timeStamp
	camera     bool
	ending     bool
	closing    bool
	members    map[string]*member
	order      []string // connection ids in join order
}

func newRoom(r *Registry, sessionID string, study *types.Study) *room {
	return &room{
		id:            sessionID,
		teacherUserID: study.TeacherUserID,
		registry:      r,
		cmds:          make(chan func(*room)),
		done:          make(chan struct{}),
		passage:       clonePassage(study.Passage),
		members:       make(map[string]*member),
	}
}

// run executes commands until one of them empties or ends the room.
// The room leaves the registry before done is closed, so a caller that
// sees errRoomClosed and retries always reaches a fresh room.
func (rm *room) run() {
	for cmd := range rm.cmds {
		cmd(rm)
		if rm.closing {
			rm.registry.detach(rm)
			close(rm.done)
			return
		}
	}
}

// do runs fn inside the actor and waits for its result. cmds is unbuffered,
// so an accepted command always runs to completion and replies before the
// actor can close done.
func (rm *room) do(fn func(rm *room) error) error {
	reply := make(chan error, 1)
	cmd := func(rm *room) {
		reply <- fn(rm)
	}

	select {
	case rm.cmds <- cmd:
	case <-rm.done:
		return errRoomClosed
	}
	return <-reply
}

func (rm *room) view() validation.SessionView {
	return validation.SessionView{SessionID: rm.id, TeacherUserID: rm.teacherUserID}
}

// admit checks that connectionID is a member and that ev passes
// validation, returning the member's verified user id as the author.
func (rm *room) admit(connectionID string, ev types.Inbound) (string, error) {
	if rm.ending {
		return "", fmt.Errorf("session %s is ending: %w", rm.id, types.ErrSessionNotFound)
	}
	m, ok := rm.members[connectionID]
	if !ok {
		return "", fmt.Errorf("%s: %w", ev.EventType(), types.ErrNotJoined)
	}
	identity := m.conn.Identity()
	if _, err := rm.registry.validator.Validate(ev, identity, rm.view()); err != nil {
		return "", err
	}
	return identity.UserID, nil
}

func (rm *room) targets() []interfaces.Connection {
	conns := make([]interfaces.Connection, 0, len(rm.order))
	for _, id := range rm.order {
		conns = append(conns, rm.members[id].conn)
	}
	return conns
}

func (rm *room) snapshot() types.SnapshotPayload {
	log := make([]types.Highlight, len(rm.highlights))
	copy(log, rm.highlights)
	return types.SnapshotPayload{
		SessionID:     rm.id,
		TeacherUserID: rm.teacherUserID,
		Passage:       clonePassage(rm.passage),
		HighlightLog:  log,
		Count:         len(rm.order),
		CameraActive:  rm.camera,
	}
}

func (rm *room) join(conn interfaces.Connection) types.SnapshotPayload {
	id := conn.ID()
	_, existing := rm.members[id]
	if !existing {
		identity := conn.Identity()
		rm.members[id] = &member{
			conn: conn,
			info: types.Member{
				ConnectionID: id,
				UserID:       identity.UserID,
				Role:         identity.Role,
				JoinedAt:     rm.registry.clock(),
			},
		}
		rm.order = append(rm.order, id)
	}

	snap := rm.snapshot()
	rm.report(rm.registry.fanout.Send(rm.id, conn, types.Event{Type: types.EventSessionSnapshot, Data: snap}))

	if !existing {
		rm.registry.presence.Joined(rm.id, id, rm.targets())
		rm.registry.logger.Debug("member joined",
			zap.String("session_id", rm.id),
			zap.String("connection_id", id),
			zap.String("user_id", rm.members[id].info.UserID),
			zap.Int("count", len(rm.order)))
	}
	return snap
}

func (rm *room) leave(connectionID string) bool {
	if _, ok := rm.members[connectionID]; !ok {
		return false
	}
	delete(rm.members, connectionID)
	for i, id := range rm.order {
		if id == connectionID {
			rm.order = append(rm.order[:i], rm.order[i+1:]...)
			break
		}
	}

	rm.registry.presence.Left(rm.id, connectionID, rm.targets())
	rm.registry.logger.Debug("member left",
		zap.String("session_id", rm.id),
		zap.String("connection_id", connectionID),
		zap.Int("count", len(rm.order)))

	if len(rm.order) == 0 {
		rm.closing = true
	}
	return true
}

func (rm *room) applyHighlight(author string, p types.HighlightPayload) types.Highlight {
	rm.seq++
	hl := types.Highlight{
		Text:         p.Text,
		Color:        p.Color,
		Start:        p.Start,
		End:          p.End,
		AuthorUserID: author,
		Timestamp:    rm.lastStamp.next(rm.registry.clock()),
		Seq:          rm.seq,
	}
	rm.highlights = append(rm.highlights, hl)

	rm.report(rm.registry.fanout.Publish(rm.id, rm.targets(), types.Event{Type: types.EventHighlightApplied, Data: hl}, ""))
	return hl
}

func (rm *room) replacePassage(p types.ChangePassagePayload) types.Passage {
	rm.passage = clonePassage(types.Passage{Reference: p.Reference, Verses: p.Verses})
	rm.highlights = nil

	passage := clonePassage(rm.passage)
	rm.report(rm.registry.fanout.Publish(rm.id, rm.targets(), types.Event{Type: types.EventPassageChanged, Data: passage}, ""))
	return passage
}

func (rm *room) setCamera(from string, active bool) {
	rm.camera = active
	ev := types.Event{Type: types.EventCameraState, Data: types.CameraStatePayload{SessionID: rm.id, Active: active}}
	rm.report(rm.registry.fanout.Publish(rm.id, rm.targets(), ev, from))
}

// end notifies every member and empties the room, which tears it down.
func (rm *room) end() {
	ev := types.Event{Type: types.EventSessionEnded, Data: types.SessionEndedPayload{SessionID: rm.id}}
	rm.report(rm.registry.fanout.Publish(rm.id, rm.targets(), ev, ""))

	rm.members = make(map[string]*member)
	rm.order = nil
	rm.closing = true
}

// report logs failed deliveries. The mutation has already committed and
// stays committed regardless of the outcome.
func (rm *room) report(r fanout.DeliveryReport) {
	if r.OK() {
		return
	}
	rm.registry.logger.Info("event not delivered to every member",
		zap.String("session_id", rm.id),
		zap.String("event", r.EventType),
		zap.Int("delivered", r.Delivered),
		zap.Strings("failed", r.Failed))
}

// timeStamp hands out wall-clock stamps that never move backwards.
type timeStamp struct {
	last time.Time
}

func (s *timeStamp) next(now time.Time) time.Time {
	if now.Before(s.last) {
		now = s.last
	}
	s.last = now
	return now
}

func clonePassage(p types.Passage) types.Passage {
	out := types.Passage{Reference: p.Reference}
	if len(p.Verses) > 0 {
		out.Verses = make([]types.Verse, len(p.Verses))
		copy(out.Verses, p.Verses)
	}
	return out
}
