package hub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"studysync/internal/fanout"
	"studysync/internal/presence"
	"studysync/internal/validation"
	"studysync/pkg/interfaces"
	"studysync/pkg/types"
)

// Loader fetches bootstrap data for a room. It must return an error
// wrapping types.ErrSessionNotFound for unknown or finished studies.
type Loader interface {
	Load(ctx context.Context, sessionID string) (*types.Study, error)
}

// StatusUpdater persists the completed status when a teacher ends a study.
type StatusUpdater interface {
	UpdateStudyStatus(ctx context.Context, studyID string, status types.StudyStatus) error
}

// Observer receives lifecycle and outcome signals; metrics.Metrics implements it.
type Observer interface {
	RoomOpened()
	RoomClosed()
	EventHandled(eventType string, err error)
}

// Deps are the collaborators a Registry needs. Store, Observer, Logger and
// Clock are optional.
type Deps struct {
	Loader    Loader
	Store     StatusUpdater
	Fanout    *fanout.Fanout
	Presence  *presence.Tracker
	Validator *validation.Validator
	Observer  Observer
	Logger    *zap.Logger
	Clock     func() time.Time
}

// Registry owns every live session. Each session is a room actor: one
// goroutine that executes that session's commands one at a time, so all
// operations on a session are totally ordered while distinct sessions run
// independently. The registry lock only guards the id -> room map and is
// never held across I/O.
type Registry struct {
	loader    Loader
	store     StatusUpdater
	fanout    *fanout.Fanout
	presence  *presence.Tracker
	validator *validation.Validator
	observer  Observer
	logger    *zap.Logger
	clock     func() time.Time

	mu     sync.Mutex
	rooms  map[string]*room
	closed bool
	empty  *sync.Cond
}

func NewRegistry(deps Deps) *Registry {
	r := &Registry{
		loader:    deps.Loader,
		store:     deps.Store,
		fanout:    deps.Fanout,
		presence:  deps.Presence,
		validator: deps.Validator,
		observer:  deps.Observer,
		logger:    deps.Logger,
		clock:     deps.Clock,
		rooms:     make(map[string]*room),
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	if r.clock == nil {
		r.clock = time.Now
	}
	if r.observer == nil {
		r.observer = noopObserver{}
	}
	if r.fanout == nil {
		r.fanout = fanout.New(r.logger, nil)
	}
	if r.presence == nil {
		r.presence = presence.NewTracker(r.fanout, r.logger)
	}
	if r.validator == nil {
		r.validator = validation.New()
	}
	r.empty = sync.NewCond(&r.mu)
	return r
}

// JoinRoom admits conn to sessionID, bootstrapping the room on first use.
// The joiner receives a snapshot of the current state and the rest of the
// room receives a presence delta. Joining a room the connection is already
// in just resends the snapshot.
func (r *Registry) JoinRoom(ctx context.Context, sessionID string, conn interfaces.Connection) (types.SnapshotPayload, error) {
	for {
		rm, err := r.acquire(ctx, sessionID)
		if err != nil {
			r.observer.EventHandled(types.EventJoinSession, err)
			return types.SnapshotPayload{}, err
		}

		var snap types.SnapshotPayload
		err = rm.do(func(rm *room) error {
			if rm.ending {
				return fmt.Errorf("join %s: %w", sessionID, types.ErrSessionNotFound)
			}
			snap = rm.join(conn)
			return nil
		})
		if errors.Is(err, errRoomClosed) {
			// Lost the race with the last leave; bootstrap again.
			if ctx.Err() != nil {
				return types.SnapshotPayload{}, ctx.Err()
			}
			continue
		}
		r.observer.EventHandled(types.EventJoinSession, err)
		return snap, err
	}
}

// LeaveRoom removes connectionID from sessionID and reports whether it was
// a member. The last leave tears the room down. It never creates a room.
func (r *Registry) LeaveRoom(sessionID, connectionID string) bool {
	rm := r.lookup(sessionID)
	if rm == nil {
		return false
	}

	var left bool
	err := rm.do(func(rm *room) error {
		left = rm.leave(connectionID)
		return nil
	})
	if err != nil {
		return false
	}
	r.observer.EventHandled(types.EventLeaveSession, nil)
	return left
}

// ApplyHighlight validates p against the room and, if accepted, appends
// the highlight and broadcasts it to every member including the author.
func (r *Registry) ApplyHighlight(sessionID, connectionID string, p types.HighlightPayload) (types.Highlight, error) {
	var hl types.Highlight
	err := r.withRoom(sessionID, func(rm *room) error {
		author, err := rm.admit(connectionID, p)
		if err != nil {
			return err
		}
		hl = rm.applyHighlight(author, p)
		return nil
	})
	r.observer.EventHandled(types.EventHighlight, err)
	return hl, err
}

// ReplacePassage swaps the passage and clears the highlight log in a
// single actor step, so no member ever observes one without the other.
func (r *Registry) ReplacePassage(sessionID, connectionID string, p types.ChangePassagePayload) (types.Passage, error) {
	var passage types.Passage
	err := r.withRoom(sessionID, func(rm *room) error {
		if _, err := rm.admit(connectionID, p); err != nil {
			return err
		}
		passage = rm.replacePassage(p)
		return nil
	})
	r.observer.EventHandled(types.EventChangePassage, err)
	return passage, err
}

// SetCamera records the teacher's camera state and relays it to the
// other members.
func (r *Registry) SetCamera(sessionID, connectionID string, p types.CameraStatePayload) error {
	err := r.withRoom(sessionID, func(rm *room) error {
		if _, err := rm.admit(connectionID, p); err != nil {
			return err
		}
		rm.setCamera(connectionID, p.Active)
		return nil
	})
	r.observer.EventHandled(types.EventCameraState, err)
	return err
}

// EndSession completes the study: the room stops admitting joins, the
// completed status is persisted, then every member is told and the room is
// torn down. If persisting fails the room keeps running.
func (r *Registry) EndSession(ctx context.Context, sessionID, connectionID string, p types.EndSessionPayload) error {
	err := r.endSession(ctx, sessionID, connectionID, p)
	r.observer.EventHandled(types.EventEndSession, err)
	return err
}

func (r *Registry) endSession(ctx context.Context, sessionID, connectionID string, p types.EndSessionPayload) error {
	rm := r.lookup(sessionID)
	if rm == nil {
		return fmt.Errorf("end %s: %w", sessionID, types.ErrSessionNotFound)
	}

	err := rm.do(func(rm *room) error {
		if _, err := rm.admit(connectionID, p); err != nil {
			return err
		}
		rm.ending = true
		return nil
	})
	if errors.Is(err, errRoomClosed) {
		return fmt.Errorf("end %s: %w", sessionID, types.ErrSessionNotFound)
	}
	if err != nil {
		return err
	}

	if r.store != nil {
		if err := r.store.UpdateStudyStatus(ctx, sessionID, types.StudyCompleted); err != nil {
			_ = rm.do(func(rm *room) error {
				rm.ending = false
				return nil
			})
			return fmt.Errorf("end %s: persist status: %w", sessionID, err)
		}
	}

	err = rm.do(func(rm *room) error {
		rm.end()
		return nil
	})
	if errors.Is(err, errRoomClosed) {
		// Every member left while the status was being persisted.
		return nil
	}
	return err
}

// Snapshot returns the current state of a live session.
func (r *Registry) Snapshot(sessionID string) (types.SnapshotPayload, error) {
	var snap types.SnapshotPayload
	err := r.withRoom(sessionID, func(rm *room) error {
		snap = rm.snapshot()
		return nil
	})
	return snap, err
}

// Stats returns a summary of a live session for the HTTP API.
func (r *Registry) Stats(sessionID string) (types.SessionStats, error) {
	var stats types.SessionStats
	err := r.withRoom(sessionID, func(rm *room) error {
		stats = types.SessionStats{
			SessionID:        rm.id,
			TeacherUserID:    rm.teacherUserID,
			Members:          len(rm.order),
			PassageReference: rm.passage.Reference,
			Highlights:       len(rm.highlights),
			CameraActive:     rm.camera,
		}
		return nil
	})
	return stats, err
}

// RoomCount is the number of live sessions.
func (r *Registry) RoomCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

// Shutdown stops admitting new rooms and waits until every room has torn
// down (members leave as their connections close) or ctx expires.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.mu.Lock()
		for len(r.rooms) > 0 {
			r.empty.Wait()
		}
		r.mu.Unlock()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		r.logger.Warn("session registry shutdown timed out", zap.Int("rooms", r.RoomCount()))
		return ctx.Err()
	}
}

// withRoom runs fn on an existing room. A missing or closing room means the
// session is not live.
func (r *Registry) withRoom(sessionID string, fn func(rm *room) error) error {
	rm := r.lookup(sessionID)
	if rm == nil {
		return fmt.Errorf("session %s: %w", sessionID, types.ErrSessionNotFound)
	}
	err := rm.do(fn)
	if errors.Is(err, errRoomClosed) {
		return fmt.Errorf("session %s: %w", sessionID, types.ErrSessionNotFound)
	}
	return err
}

func (r *Registry) lookup(sessionID string) *room {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rooms[sessionID]
}

// acquire returns the live room for sessionID, bootstrapping it if needed.
// The fetch runs without the registry lock; if two joins race, the first
// room registered wins and the other bootstrap result is discarded.
func (r *Registry) acquire(ctx context.Context, sessionID string) (*room, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrRegistryClosed
	}
	if rm, ok := r.rooms[sessionID]; ok {
		r.mu.Unlock()
		return rm, nil
	}
	r.mu.Unlock()

	study, err := r.loader.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrRegistryClosed
	}
	if rm, ok := r.rooms[sessionID]; ok {
		return rm, nil
	}
	rm := newRoom(r, sessionID, study)
	r.rooms[sessionID] = rm
	go rm.run()

	r.observer.RoomOpened()
	r.logger.Info("session room opened",
		zap.String("session_id", sessionID),
		zap.String("teacher_user_id", study.TeacherUserID))
	return rm, nil
}

// detach removes rm if it is still the registered room for its id.
func (r *Registry) detach(rm *room) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.rooms[rm.id] == rm {
		delete(r.rooms, rm.id)
	}
	r.observer.RoomClosed()
	r.logger.Info("session room closed", zap.String("session_id", rm.id))
	if len(r.rooms) == 0 {
		r.empty.Broadcast()
	}
}

type noopObserver struct{}

func (noopObserver) RoomOpened()                {}
func (noopObserver) RoomClosed()                {}
func (noopObserver) EventHandled(string, error) {}
