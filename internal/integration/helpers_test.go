package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"studysync/internal/api"
	"studysync/internal/app"
	"studysync/internal/auth"
	"studysync/internal/config"
	"studysync/pkg/types"
)

const (
	testSecret  = "0123456789abcdef0123456789abcdef"
	readTimeout = 3 * time.Second
)

var romans828 = types.Verse{
	Reference: "Romans 8:28",
	Number:    28,
	Text:      "And we know that all things work together for good to them that love God",
}

var john316 = types.Verse{
	Reference: "John 3:16",
	Number:    16,
	Text:      "For God so loved the world",
}

// env is a full server: sqlite store, passage service stub, HTTP + WebSocket.
type env struct {
	t      *testing.T
	app    *app.Application
	server *httptest.Server
	issuer *auth.Issuer
}

func newEnv(t *testing.T) *env {
	t.Helper()

	passages := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var v types.Verse
		switch r.URL.Path {
		case "/verses/ROM/8/28":
			v = romans828
		case "/verses/JHN/3/16":
			v = john316
		default:
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"verses": []types.Verse{v}})
	}))
	t.Cleanup(passages.Close)

	cfg := config.DefaultConfig()
	cfg.Auth.Secret = testSecret
	cfg.Database.Path = filepath.Join(t.TempDir(), "studysync.db")
	cfg.Passage.BaseURL = passages.URL
	cfg.WebSocket.PingInterval = time.Second
	cfg.WebSocket.ReadTimeout = 5 * time.Second

	application, err := app.NewApplication(cfg, nil)
	require.NoError(t, err)

	server := httptest.NewServer(application.Handler())
	issuer, err := auth.NewIssuer(testSecret, cfg.Auth.Issuer)
	require.NoError(t, err)

	t.Cleanup(func() {
		server.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = application.Stop(ctx)
	})
	return &env{t: t, app: application, server: server, issuer: issuer}
}

func (e *env) token(userID string, role types.Role) string {
	e.t.Helper()
	tok, err := e.issuer.Issue(types.Identity{UserID: userID, Role: role}, time.Hour)
	require.NoError(e.t, err)
	return tok
}

// createStudy creates a study through the HTTP API as teacherID.
func (e *env) createStudy(teacherID, reference string) api.StudyResponse {
	e.t.Helper()
	body, _ := json.Marshal(api.CreateStudyRequest{Reference: reference})
	req, err := http.NewRequest(http.MethodPost, e.server.URL+"/api/studies", bytes.NewReader(body))
	require.NoError(e.t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.token(teacherID, types.RoleTeacher))

	resp, err := http.DefaultClient.Do(req)
	require.NoError(e.t, err)
	defer resp.Body.Close()
	require.Equal(e.t, http.StatusCreated, resp.StatusCode)

	var study api.StudyResponse
	require.NoError(e.t, json.NewDecoder(resp.Body).Decode(&study))
	return study
}

func (e *env) get(path string) *http.Response {
	e.t.Helper()
	resp, err := http.Get(e.server.URL + path)
	require.NoError(e.t, err)
	e.t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (e *env) wsURL(sessionID, token string) string {
	q := url.Values{"session_id": {sessionID}, "token": {token}}
	return "ws" + strings.TrimPrefix(e.server.URL, "http") + "/ws?" + q.Encode()
}

// client is one member's socket.
type client struct {
	t  *testing.T
	ws *websocket.Conn
}

func (e *env) connect(userID string, role types.Role, sessionID string) *client {
	e.t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(e.wsURL(sessionID, e.token(userID, role)), nil)
	require.NoError(e.t, err)
	c := &client{t: e.t, ws: ws}
	e.t.Cleanup(c.close)
	return c
}

func (c *client) close() {
	_ = c.ws.Close()
}

func (c *client) send(eventType string, data any) {
	c.t.Helper()
	require.NoError(c.t, c.ws.WriteJSON(types.Event{Type: eventType, Data: data}))
}

func (c *client) read() types.Envelope {
	c.t.Helper()
	require.NoError(c.t, c.ws.SetReadDeadline(time.Now().Add(readTimeout)))
	var env types.Envelope
	require.NoError(c.t, c.ws.ReadJSON(&env))
	return env
}

// expect returns the next frame of eventType, skipping presence frames
// unless presence is what is expected. Any other frame fails the test.
func (c *client) expect(eventType string, into any) {
	c.t.Helper()
	for {
		env := c.read()
		if env.Type == types.EventPresence && eventType != types.EventPresence {
			continue
		}
		require.Equal(c.t, eventType, env.Type, "frame: %s", string(env.Data))
		if into != nil {
			require.NoError(c.t, json.Unmarshal(env.Data, into))
		}
		return
	}
}

// quiet proves nothing else is queued for c by round-tripping a ping.
func (c *client) quiet() {
	c.t.Helper()
	c.send(types.EventPing, nil)
	c.expect(types.EventPong, nil)
}
