package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"studysync/internal/hub"
	"studysync/internal/router"
	"studysync/pkg/types"
)

// Close codes sent when admission fails after the upgrade.
const (
	CloseSessionNotFound = 4404
	CloseUnauthorized    = 4401
)

// Verifier turns a bearer credential into a verified identity.
type Verifier interface {
	Verify(token string) (types.Identity, error)
}

// Observer is told when sockets are admitted and released.
type Observer interface {
	ConnectionOpened()
	ConnectionClosed()
	AuthRejected(kind types.ErrorKind)
}

type Config struct {
	PingInterval   time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	BufferSize     int
	MaxMessageSize int64
	AllowedOrigins []string
}

// Handler is the connection gateway: it authenticates the upgrade request,
// admits the socket to its session, and pumps inbound frames to the router.
type Handler struct {
	cfg      Config
	verifier Verifier
	router   *router.Router
	registry *Registry
	observer Observer
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

func NewHandler(cfg Config, verifier Verifier, rt *router.Router, registry *Registry, observer Observer, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 100
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 60 * time.Second
	}
	if cfg.PingInterval <= 0 || cfg.PingInterval >= cfg.ReadTimeout {
		cfg.PingInterval = cfg.ReadTimeout * 9 / 10
	}

	h := &Handler{
		cfg:      cfg,
		verifier: verifier,
		router:   rt,
		registry: registry,
		observer: observer,
		logger:   logger,
	}
	h.upgrader = websocket.Upgrader{
		CheckOrigin:      h.checkOrigin,
		HandshakeTimeout: 10 * time.Second,
	}
	return h
}

// checkOrigin allows every origin when none are configured.
func (h *Handler) checkOrigin(r *http.Request) bool {
	if len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, allowed := range h.cfg.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// Serve handles GET /ws. Credential failures are answered with plain HTTP
// before the upgrade so no room state is ever touched for them.
func (h *Handler) Serve(c *gin.Context) {
	identity, err := h.authenticate(c.Request)
	if err != nil {
		kind := types.KindOf(err)
		if h.observer != nil {
			h.observer.AuthRejected(kind)
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, types.ErrorPayload{Kind: kind, Message: err.Error()})
		return
	}

	sessionID := c.Query("session_id")
	if sessionID == "" || !types.IsValidSessionID(sessionID) {
		c.AbortWithStatusJSON(http.StatusBadRequest, types.ErrorPayload{Kind: types.KindValidation, Message: ErrMissingSessionID.Error()})
		return
	}

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	conn := NewConnection(uuid.NewString(), identity, ws, h.cfg.BufferSize, h.cfg.WriteTimeout)
	if err := h.registry.RegisterConnection(conn); err != nil {
		h.logger.Error("failed to register connection", zap.Error(err))
		_ = conn.Close()
		return
	}
	if h.observer != nil {
		h.observer.ConnectionOpened()
	}

	go h.serve(conn, sessionID)
}

func (h *Handler) authenticate(r *http.Request) (types.Identity, error) {
	token := ""
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		token = strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	if token == "" {
		return types.Identity{}, ErrMissingCredential
	}
	return h.verifier.Verify(token)
}

// serve owns the connection from admission to release.
func (h *Handler) serve(conn *Connection, sessionID string) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	defer h.release(conn)

	log := h.logger.With(
		zap.String("connection_id", conn.ID()),
		zap.String("user_id", conn.Identity().UserID))

	if _, err := h.router.Join(ctx, conn, sessionID); err != nil {
		log.Info("admission rejected", zap.String("session_id", sessionID), zap.Error(err))
		if data, mErr := json.Marshal(types.NewErrorEvent(err)); mErr == nil {
			_ = conn.Enqueue(data)
		}
		conn.CloseWith(closeCode(err), string(types.KindOf(err)))
		<-conn.Done()
		return
	}
	log.Debug("connection admitted", zap.String("session_id", sessionID))

	go h.keepalive(conn)
	h.readPump(ctx, conn, log)
}

func closeCode(err error) int {
	switch {
	case errors.Is(err, types.ErrSessionNotFound):
		return CloseSessionNotFound
	case errors.Is(err, types.ErrUnauthorized):
		return CloseUnauthorized
	case errors.Is(err, hub.ErrRegistryClosed):
		return websocket.CloseGoingAway
	default:
		return websocket.CloseInternalServerErr
	}
}

func (h *Handler) readPump(ctx context.Context, conn *Connection, log *zap.Logger) {
	ws := conn.conn
	if h.cfg.MaxMessageSize > 0 {
		ws.SetReadLimit(h.cfg.MaxMessageSize)
	}
	_ = ws.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
	})

	for {
		messageType, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				log.Debug("websocket read failed", zap.Error(err))
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))

		if messageType != websocket.TextMessage {
			continue
		}
		_ = h.router.Dispatch(ctx, conn, data)
	}
}

// keepalive pings the peer until the connection closes. WriteControl may
// run concurrently with the writer goroutine.
func (h *Handler) keepalive(conn *Connection) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			deadline := time.Now().Add(h.cfg.WriteTimeout)
			if err := conn.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				_ = conn.Close()
				return
			}
		case <-conn.Done():
			return
		}
	}
}

// release leaves the room first so remaining members see the presence
// delta, then drops every per-connection record.
func (h *Handler) release(conn *Connection) {
	h.router.Leave(conn)
	h.router.Limiter().Forget(conn.ID())
	h.registry.UnregisterConnection(conn)
	_ = conn.Close()
	if h.observer != nil {
		h.observer.ConnectionClosed()
	}
}
