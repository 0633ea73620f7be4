package admin

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/blukai/circlesync/internal/lobbyserver"
	"github.com/blukai/circlesync/internal/logging"
	"github.com/blukai/circlesync/internal/session"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/phuslu/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	writeTimeout    = 5 * time.Second
	shutdownTimeout = 5 * time.Second
)

// Sessions is the read side of the session table.
type Sessions interface {
	Snapshot() []session.Session
}

// Kicker forwards a kick to the dispatch loop. it fails with
// lobbyserver.ErrUnknownPeer for ids that aren't logged in.
type Kicker interface {
	RequestKick(id uint32) error
}

type sessionView struct {
	ID uint32  `json:"id"`
	X  float32 `json:"x"`
	Y  float32 `json:"y"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// read only feed, any origin may watch
		return true
	},
}

type Server struct {
	sessions Sessions
	kicker   Kicker
	feed     *Feed
	gatherer prometheus.Gatherer
	logger   *log.Logger

	engine *gin.Engine
}

func NewServer(
	sessions Sessions,
	kicker Kicker,
	feed *Feed,
	gatherer prometheus.Gatherer,
	logger *log.Logger,
) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		sessions: sessions,
		kicker:   kicker,
		feed:     feed,
		gatherer: gatherer,
		logger:   logging.OrDiscard(logger),

		engine: gin.New(),
	}

	s.engine.Use(gin.Recovery())
	s.engine.GET("/healthz", s.handleHealthz)
	s.engine.GET("/sessions", s.handleSessions)
	s.engine.DELETE("/sessions/:id", s.handleKick)
	s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	s.engine.GET("/watch", s.handleWatch)

	return s
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves on addr until ctx is done.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.engine}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("could not serve admin: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("could not shut admin down: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}

func (s *Server) handleSessions(c *gin.Context) {
	snapshot := s.sessions.Snapshot()
	views := make([]sessionView, len(snapshot))
	for i, sess := range snapshot {
		views[i] = sessionView{ID: sess.ID, X: sess.Position.X, Y: sess.Position.Y}
	}
	c.JSON(http.StatusOK, views)
}

func (s *Server) handleKick(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	if err := s.kicker.RequestKick(uint32(id)); err != nil {
		if errors.Is(err, lobbyserver.ErrUnknownPeer) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no such session"})
			return
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}

	s.logger.Info().
		Uint32("peer", uint32(id)).
		Str("remote", c.ClientIP()).
		Msg("kick requested")
	c.JSON(http.StatusAccepted, gin.H{"id": id})
}

func (s *Server) handleWatch(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// upgrader has already replied
		s.logger.Debug().Msgf("could not upgrade: %v", err)
		return
	}
	defer conn.Close()

	events, unsubscribe := s.feed.Subscribe()
	defer unsubscribe()

	// whoever is already here, so that the watcher starts complete
	for _, sess := range s.sessions.Snapshot() {
		err := s.write(conn, FeedEvent{Type: "joined", ID: sess.ID, X: sess.Position.X, Y: sess.Position.Y})
		if err != nil {
			return
		}
	}

	// watchers don't talk, reading is only there to notice them leave
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case data, ok := <-events:
			if !ok {
				s.logger.Debug().Msg("dropped slow watcher")
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
	}
}

func (s *Server) write(conn *websocket.Conn, ev FeedEvent) error {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(ev)
}
