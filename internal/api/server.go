package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"studysync/internal/session"
	"studysync/pkg/types"
)

// Studies is the persisted study surface the API needs.
type Studies interface {
	CreateStudy(ctx context.Context, p session.CreateParams) (*types.Study, error)
	FindByJoinCode(ctx context.Context, code string) (*types.Study, error)
}

// Rooms reports on live sessions.
type Rooms interface {
	Stats(sessionID string) (types.SessionStats, error)
	RoomCount() int
}

// Connections reports on open sockets.
type Connections interface {
	GetStats() map[string]int
}

type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

type Verifier interface {
	Verify(token string) (types.Identity, error)
}

// Deps wires the server. Metrics and WebSocket are optional.
type Deps struct {
	Studies     Studies
	Rooms       Rooms
	Connections Connections
	Store       HealthChecker
	Verifier    Verifier
	WebSocket   gin.HandlerFunc
	Metrics     http.Handler
	Logger      *zap.Logger
}

// Server is the HTTP surface: health, metrics, study creation and lookup,
// live session stats and the WebSocket upgrade. It holds no session state.
type Server struct {
	deps    Deps
	logger  *zap.Logger
	engine  *gin.Engine
	started time.Time
}

func NewServer(deps Deps) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		deps:    deps,
		logger:  deps.Logger,
		engine:  gin.New(),
		started: time.Now(),
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := s.engine
	r.Use(gin.Recovery(), s.requestLogger(), corsMiddleware())

	r.GET("/health", s.health)
	r.GET("/ready", s.ready)
	if s.deps.Metrics != nil {
		r.GET("/metrics", gin.WrapH(s.deps.Metrics))
	}
	if s.deps.WebSocket != nil {
		r.GET("/ws", s.deps.WebSocket)
	}

	api := r.Group("/api")
	{
		api.GET("/sessions/:id", s.getSession)
		api.GET("/studies/join/:code", s.findByJoinCode)
		api.POST("/studies", s.requireTeacher(), s.createStudy)
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.engine.ServeHTTP(w, r)
}

type HealthResponse struct {
	Status      string         `json:"status"`
	Timestamp   time.Time      `json:"timestamp"`
	Uptime      string         `json:"uptime"`
	Sessions    int            `json:"sessions"`
	Connections map[string]int `json:"connections,omitempty"`
	Database    string         `json:"database,omitempty"`
}

type CreateStudyRequest struct {
	Reference  string        `json:"reference" binding:"required,max=100"`
	Verses     []types.Verse `json:"verses" binding:"omitempty,max=200,dive"`
	TTLMinutes int           `json:"ttlMinutes" binding:"omitempty,min=1,max=10080"`
}

type StudyResponse struct {
	ID               string            `json:"id"`
	JoinCode         string            `json:"joinCode"`
	Status           types.StudyStatus `json:"status"`
	PassageReference string            `json:"passageReference"`
	TeacherUserID    string            `json:"teacherUserId,omitempty"`
	ExpiresAt        *time.Time        `json:"expiresAt,omitempty"`
}

func studyResponse(st *types.Study) StudyResponse {
	resp := StudyResponse{
		ID:               st.ID,
		JoinCode:         st.JoinCode,
		Status:           st.Status,
		PassageReference: st.Passage.Reference,
	}
	if !st.ExpiresAt.IsZero() {
		t := st.ExpiresAt
		resp.ExpiresAt = &t
	}
	return resp
}

// health is liveness only; it never touches the store.
func (s *Server) health(c *gin.Context) {
	resp := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Uptime:    time.Since(s.started).Round(time.Second).String(),
	}
	if s.deps.Rooms != nil {
		resp.Sessions = s.deps.Rooms.RoomCount()
	}
	if s.deps.Connections != nil {
		resp.Connections = s.deps.Connections.GetStats()
	}
	c.JSON(http.StatusOK, resp)
}

// ready returns 503 until the study store answers.
func (s *Server) ready(c *gin.Context) {
	resp := HealthResponse{Status: "ready", Timestamp: time.Now().UTC(), Database: "healthy"}
	if s.deps.Store != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()
		if err := s.deps.Store.HealthCheck(ctx); err != nil {
			resp.Status = "unavailable"
			resp.Database = err.Error()
			c.JSON(http.StatusServiceUnavailable, resp)
			return
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) getSession(c *gin.Context) {
	stats, err := s.deps.Rooms.Stats(c.Param("id"))
	if err != nil {
		s.sendError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) findByJoinCode(c *gin.Context) {
	st, err := s.deps.Studies.FindByJoinCode(c.Request.Context(), c.Param("code"))
	if err != nil {
		s.sendError(c, err)
		return
	}
	c.JSON(http.StatusOK, studyResponse(st))
}

func (s *Server) createStudy(c *gin.Context) {
	var req CreateStudyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.ErrorPayload{Kind: types.KindValidation, Message: err.Error()})
		return
	}

	identity := c.MustGet(identityKey).(types.Identity)
	st, err := s.deps.Studies.CreateStudy(c.Request.Context(), session.CreateParams{
		TeacherUserID: identity.UserID,
		Reference:     req.Reference,
		Verses:        req.Verses,
		TTL:           time.Duration(req.TTLMinutes) * time.Minute,
	})
	if err != nil {
		s.sendError(c, err)
		return
	}

	resp := studyResponse(st)
	resp.TeacherUserID = st.TeacherUserID
	c.JSON(http.StatusCreated, resp)
}

const identityKey = "identity"

// requireTeacher admits only verified teacher credentials.
func (s *Server) requireTeacher() gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		token := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
		if !strings.HasPrefix(auth, "Bearer ") || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, types.ErrorPayload{
				Kind: types.KindInvalidCredential, Message: "bearer token required",
			})
			return
		}

		identity, err := s.deps.Verifier.Verify(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, types.ErrorPayload{Kind: types.KindOf(err), Message: err.Error()})
			return
		}
		if identity.Role != types.RoleTeacher {
			c.AbortWithStatusJSON(http.StatusForbidden, types.ErrorPayload{
				Kind: types.KindUnauthorized, Message: "only teachers can create studies",
			})
			return
		}
		c.Set(identityKey, identity)
		c.Next()
	}
}

func (s *Server) sendError(c *gin.Context, err error) {
	kind := types.KindOf(err)
	code := statusFor(kind)
	if code == http.StatusInternalServerError {
		s.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(code, types.ErrorPayload{Kind: kind, Message: "internal error"})
		return
	}
	c.JSON(code, types.ErrorPayload{Kind: kind, Message: err.Error()})
}

func statusFor(kind types.ErrorKind) int {
	switch kind {
	case types.KindSessionNotFound:
		return http.StatusNotFound
	case types.KindValidation:
		return http.StatusBadRequest
	case types.KindPassageUnavailable:
		return http.StatusUnprocessableEntity
	case types.KindInvalidCredential, types.KindExpiredCredential:
		return http.StatusUnauthorized
	case types.KindUnauthorized:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if c.FullPath() == "/ws" && c.Writer.Status() == http.StatusSwitchingProtocols {
			return
		}
		s.logger.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		h.Set("Access-Control-Max-Age", "86400")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
