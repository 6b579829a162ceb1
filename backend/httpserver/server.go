// Package httpserver serves the qsync protocol over HTTP.
//
// Clients either POST each message to the sync endpoint, with the session
// kept in a cookie, or open a websocket on the stream endpoint, where the
// connection is the session.
package httpserver

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	qsync "github.com/CrimsonAS/qsync/backend"
)

const SessionCookie = "qsync_session"

// ApplicationFactory populates a new user instance with the components of
// the application.
type ApplicationFactory func(ui *qsync.UserInstance) error

type Options struct {
	SyncPath          string
	StreamPath        string
	CharacterEncoding string
	MaxMessageBytes   int64
	// SessionTimeout is how long an idle sync session is kept; see Sweep.
	SessionTimeout time.Duration
	Logger         *slog.Logger
}

type session struct {
	// mu serializes messages for the user instance
	mu       sync.Mutex
	ui       *qsync.UserInstance
	lastUsed time.Time
}

type Server struct {
	processor *qsync.InputProcessor
	app       ApplicationFactory
	opts      Options
	logger    *slog.Logger
	upgrader  websocket.Upgrader

	mu       sync.Mutex
	sessions map[string]*session
}

func New(processor *qsync.InputProcessor, app ApplicationFactory, opts Options) *Server {
	if opts.SyncPath == "" {
		opts.SyncPath = "/sync"
	}
	if opts.StreamPath == "" {
		opts.StreamPath = "/stream"
	}
	if opts.CharacterEncoding == "" {
		opts.CharacterEncoding = qsync.DefaultCharacterEncoding
	}
	if opts.MaxMessageBytes <= 0 {
		opts.MaxMessageBytes = 1 << 20
	}
	if opts.SessionTimeout <= 0 {
		opts.SessionTimeout = 30 * time.Minute
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Server{
		processor: processor,
		app:       app,
		opts:      opts,
		logger:    logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		sessions: make(map[string]*session),
	}
}

// Router returns a gin engine serving the sync and stream endpoints.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	s.Register(r)
	return r
}

// Register adds the endpoints to an existing router.
func (s *Server) Register(r gin.IRoutes) {
	r.POST(s.opts.SyncPath, s.handleSync)
	r.GET(s.opts.StreamPath, s.handleStream)
}

func (s *Server) newUserInstance() (*qsync.UserInstance, error) {
	ui := qsync.NewUserInstance()
	ui.CharacterEncoding = s.opts.CharacterEncoding
	if s.app != nil {
		if err := s.app(ui); err != nil {
			return nil, err
		}
	}
	return ui, nil
}

// sessionFor returns the session named by the request cookie, or creates a
// new one and sets the cookie.
func (s *Server) sessionFor(c *gin.Context) (string, *session, error) {
	now := time.Now()
	if id, err := c.Cookie(SessionCookie); err == nil {
		s.mu.Lock()
		sess, exists := s.sessions[id]
		if exists {
			sess.lastUsed = now
		}
		s.mu.Unlock()
		if exists {
			return id, sess, nil
		}
	}

	ui, err := s.newUserInstance()
	if err != nil {
		return "", nil, err
	}
	id := uuid.New().String()
	sess := &session{ui: ui, lastUsed: now}

	s.mu.Lock()
	s.sessions[id] = sess
	s.mu.Unlock()

	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(SessionCookie, id, 0, "/", "", false, true)
	s.logger.Info("session created", "session", id)
	return id, sess, nil
}

func (s *Server) handleSync(c *gin.Context) {
	id, sess, err := s.sessionFor(c)
	if err != nil {
		s.logger.Error("session setup failed", "error", err)
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	body := http.MaxBytesReader(c.Writer, c.Request.Body, s.opts.MaxMessageBytes)
	state := &qsync.SynchronizationState{}
	if err := s.processor.Process(c.Request.Context(), state, qsync.NewConnection(body, sess.ui)); err != nil {
		s.logger.Error("client message failed", "session", id, "error", err)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.AbortWithStatus(http.StatusRequestEntityTooLarge)
		} else {
			c.AbortWithStatus(http.StatusInternalServerError)
		}
		return
	}

	ack, err := qsync.MarshalAck(sess.ui, state)
	if err != nil {
		s.logger.Error("acknowledgement failed", "session", id, "error", err)
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	s.logger.Debug("client message processed", "session", id, "out_of_sync", state.OutOfSync())
	c.Data(http.StatusOK, "text/xml; charset=utf-8", ack)
}

func (s *Server) handleStream(c *gin.Context) {
	ui, err := s.newUserInstance()
	if err != nil {
		s.logger.Error("session setup failed", "error", err)
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}

	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	ws.SetReadLimit(s.opts.MaxMessageBytes)

	id := uuid.New().String()
	s.logger.Info("stream connected", "session", id)

	sess := qsync.NewSession(wsConn{ws}, ui, s.processor)
	if err := sess.Run(c.Request.Context()); err != nil {
		s.logger.Warn("stream ended", "session", id, "error", err)
	} else {
		s.logger.Info("stream disconnected", "session", id)
	}
	ws.Close()
}

// Sweep removes sync sessions that have been idle for longer than the
// session timeout, and returns how many were removed. Sessions processing a
// message are never removed.
func (s *Server) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, sess := range s.sessions {
		if now.Sub(sess.lastUsed) < s.opts.SessionTimeout || !sess.mu.TryLock() {
			continue
		}
		delete(s.sessions, id)
		sess.mu.Unlock()
		removed++
		s.logger.Info("session expired", "session", id)
	}
	return removed
}

// Sessions returns the number of sync sessions.
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// wsConn carries one message per websocket frame.
type wsConn struct {
	conn *websocket.Conn
}

func (w wsConn) ReadMessage() ([]byte, error) {
	_, data, err := w.conn.ReadMessage()
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return nil, io.EOF
	}
	return data, err
}

func (w wsConn) WriteMessage(data []byte) error {
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

func (w wsConn) Close() error {
	return w.conn.Close()
}
