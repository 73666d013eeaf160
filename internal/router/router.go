package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"studysync/internal/fanout"
	"studysync/internal/validation"
	"studysync/pkg/interfaces"
	"studysync/pkg/types"
)

// Rooms is the session registry surface the router drives.
type Rooms interface {
	JoinRoom(ctx context.Context, sessionID string, conn interfaces.Connection) (types.SnapshotPayload, error)
	LeaveRoom(sessionID, connectionID string) bool
	ApplyHighlight(sessionID, connectionID string, p types.HighlightPayload) (types.Highlight, error)
	ReplacePassage(sessionID, connectionID string, p types.ChangePassagePayload) (types.Passage, error)
	SetCamera(sessionID, connectionID string, p types.CameraStatePayload) error
	EndSession(ctx context.Context, sessionID, connectionID string, p types.EndSessionPayload) error
}

// Client is a gateway connection that remembers which room it joined.
type Client interface {
	interfaces.Connection
	SessionID() string
	SetSessionID(sessionID string)
}

// Router decodes inbound frames from one connection and turns them into
// registry operations. Errors go back to the submitting connection only.
type Router struct {
	rooms     Rooms
	passages  interfaces.PassageProvider
	validator *validation.Validator
	limiter   *RateLimiter
	fanout    *fanout.Fanout
	logger    *zap.Logger
}

type Options struct {
	Passages  interfaces.PassageProvider
	Validator *validation.Validator
	Limiter   *RateLimiter
	Fanout    *fanout.Fanout
	Logger    *zap.Logger
}

func NewRouter(rooms Rooms, opts Options) *Router {
	r := &Router{
		rooms:     rooms,
		passages:  opts.Passages,
		validator: opts.Validator,
		limiter:   opts.Limiter,
		fanout:    opts.Fanout,
		logger:    opts.Logger,
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	if r.validator == nil {
		r.validator = validation.New()
	}
	if r.limiter == nil {
		r.limiter = NewRateLimiter(DefaultRateLimit)
	}
	if r.fanout == nil {
		r.fanout = fanout.New(r.logger, nil)
	}
	return r
}

// Limiter exposes the rate limiter so the gateway can forget closed
// connections and the app can run periodic cleanup.
func (r *Router) Limiter() *RateLimiter {
	return r.limiter
}

// Dispatch handles one inbound frame. A returned error has already been
// reported to the client as an error frame.
func (r *Router) Dispatch(ctx context.Context, client Client, frame []byte) error {
	err := r.dispatch(ctx, client, frame)
	if err != nil {
		r.fanout.Send(client.SessionID(), client, types.NewErrorEvent(err))
		r.logger.Debug("event rejected",
			zap.String("connection_id", client.ID()),
			zap.String("kind", string(types.KindOf(err))),
			zap.Error(err))
	}
	return err
}

func (r *Router) dispatch(ctx context.Context, client Client, frame []byte) error {
	var env types.Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	if env.Type == types.EventPing {
		r.fanout.Send(client.SessionID(), client, types.Event{Type: types.EventPong})
		return nil
	}

	if !r.limiter.Allow(client.ID()) {
		return ErrRateLimitReached
	}

	switch env.Type {
	case types.EventJoinSession:
		var p types.JoinSessionPayload
		if err := decode(env, &p); err != nil {
			return err
		}
		return r.join(ctx, client, p)

	case types.EventLeaveSession:
		r.leave(client)
		return nil

	case types.EventHighlight:
		var p types.HighlightPayload
		if err := decode(env, &p); err != nil {
			return err
		}
		sessionID, err := joined(client)
		if err != nil {
			return err
		}
		_, err = r.rooms.ApplyHighlight(sessionID, client.ID(), p)
		return err

	case types.EventChangePassage:
		var p types.ChangePassagePayload
		if err := decode(env, &p); err != nil {
			return err
		}
		return r.changePassage(ctx, client, p)

	case types.EventCameraState:
		var p types.CameraStatePayload
		if err := decode(env, &p); err != nil {
			return err
		}
		sessionID, err := joined(client)
		if err != nil {
			return err
		}
		return r.rooms.SetCamera(sessionID, client.ID(), p)

	case types.EventEndSession:
		var p types.EndSessionPayload
		if err := decode(env, &p); err != nil {
			return err
		}
		sessionID, err := joined(client)
		if err != nil {
			return err
		}
		if err := r.rooms.EndSession(ctx, sessionID, client.ID(), p); err != nil {
			return err
		}
		client.SetSessionID("")
		return nil

	default:
		return fmt.Errorf("%w: %q", ErrUnknownEvent, env.Type)
	}
}

// Join admits client to sessionID, leaving any other room first. The
// gateway uses it for the session named in the upgrade request.
func (r *Router) Join(ctx context.Context, client Client, sessionID string) (types.SnapshotPayload, error) {
	if current := client.SessionID(); current != "" && current != sessionID {
		r.leave(client)
	}

	snap, err := r.rooms.JoinRoom(ctx, sessionID, client)
	if err != nil {
		return types.SnapshotPayload{}, err
	}
	client.SetSessionID(sessionID)
	return snap, nil
}

func (r *Router) join(ctx context.Context, client Client, p types.JoinSessionPayload) error {
	if err := r.validator.Structural(p); err != nil {
		return err
	}
	_, err := r.Join(ctx, client, p.SessionID)
	return err
}

// Leave removes client from its current room, if any.
func (r *Router) Leave(client Client) {
	r.leave(client)
}

func (r *Router) leave(client Client) {
	sessionID := client.SessionID()
	if sessionID == "" {
		return
	}
	r.rooms.LeaveRoom(sessionID, client.ID())
	client.SetSessionID("")
}

// changePassage resolves verses from the passage provider when the client
// sent only a reference. The lookup runs here, on the submitting
// connection's goroutine, so a slow provider never stalls the room.
func (r *Router) changePassage(ctx context.Context, client Client, p types.ChangePassagePayload) error {
	sessionID, err := joined(client)
	if err != nil {
		return err
	}

	if len(p.Verses) == 0 {
		if err := r.validator.Structural(p); err != nil {
			return err
		}
		// Checked again inside the room; this only avoids a pointless lookup.
		if id := client.Identity(); id.Role != types.RoleTeacher {
			return fmt.Errorf("%s: %w", p.EventType(), types.ErrUnauthorized)
		}
		if r.passages == nil {
			return fmt.Errorf("%w: %v", types.ErrPassageUnavailable, errNoPassageProvider)
		}

		passage, err := r.passages.Lookup(ctx, p.Reference)
		if err != nil {
			if errors.Is(err, types.ErrPassageUnavailable) {
				return err
			}
			return fmt.Errorf("%w: %s: %v", types.ErrPassageUnavailable, p.Reference, err)
		}
		p.Verses = passage.Verses
		if passage.Reference != "" {
			p.Reference = passage.Reference
		}
	}

	_, err = r.rooms.ReplacePassage(sessionID, client.ID(), p)
	return err
}

func joined(client Client) (string, error) {
	sessionID := client.SessionID()
	if sessionID == "" {
		return "", ErrNotInSession
	}
	return sessionID, nil
}

func decode(env types.Envelope, v any) error {
	if len(env.Data) == 0 {
		return fmt.Errorf("%w: %s has no data", types.ErrValidation, env.Type)
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedFrame, env.Type, err)
	}
	return nil
}
