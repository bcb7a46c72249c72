// Package httpserver exposes the conversation relay over HTTP: a WebSocket
// endpoint for the audio channel and a small REST surface for session
// history.
package httpserver

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/Sushantm15/30-Days-of-AI-Voice-Agents/internal/agent"
	applog "github.com/Sushantm15/30-Days-of-AI-Voice-Agents/internal/log"
	"github.com/Sushantm15/30-Days-of-AI-Voice-Agents/internal/pipeline"
	"github.com/Sushantm15/30-Days-of-AI-Voice-Agents/internal/wire"
)

// ConnectorFactory builds a fresh set of upstream connectors for one client
// connection. The recognizer in particular holds per-connection socket state.
type ConnectorFactory func() agent.Connectors

// Server routes client traffic into the session registry.
type Server struct {
	echo     *echo.Echo
	registry *agent.Registry
	connect  ConnectorFactory
	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

// New wires routes onto a configured Echo instance.
func New(registry *agent.Registry, connect ConnectorFactory) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	s := &Server{
		echo:     e,
		registry: registry,
		connect:  connect,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Browser demo clients connect from any origin.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: applog.WithComponent("http"),
	}

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/ws", s.handleWS)
	e.GET("/agent/chat/:id", s.handleHistory)
	e.DELETE("/agent/chat/:id", s.handleClear)
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.echo }

type historyResponse struct {
	SessionID string             `json:"session_id"`
	Messages  []pipeline.Message `json:"messages"`
}

func (s *Server) handleHistory(c echo.Context) error {
	sess, ok := s.registry.Lookup(c.Param("id"))
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "unknown session"})
	}
	messages := sess.History()
	if messages == nil {
		messages = []pipeline.Message{}
	}
	return c.JSON(http.StatusOK, historyResponse{SessionID: sess.ID, Messages: messages})
}

// handleClear wipes and drops the session. Unknown ids succeed: the end state
// is the same either way.
func (s *Server) handleClear(c echo.Context) error {
	s.registry.Clear(c.Param("id"))
	return c.NoContent(http.StatusNoContent)
}

// handleWS upgrades the connection and runs the session against it until
// either side goes away. The session is looked up by the session_id query
// parameter so clients can resume a conversation; absent ids get a fresh one.
func (s *Server) handleWS(c echo.Context) error {
	sess := s.registry.GetOrCreate(c.QueryParam("session_id"))

	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return nil
	}
	defer conn.Close()

	logger := applog.WithSession("ws", sess.ID)
	logger.Info().Msg("client connected")

	ctx, cancel := context.WithCancel(c.Request().Context())
	defer cancel()

	writer := newFrameWriter(conn)

	// Reader: binary frames feed the recognizer, text frames are control
	// messages. A malformed frame gets an error frame back; the connection
	// stays up.
	go func() {
		defer cancel()
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			in, err := wire.Decode(mt, data)
			if err != nil {
				logger.Debug().Err(err).Msg("malformed client frame")
				_ = writer.WriteEvent(pipeline.UpstreamError{Stage: pipeline.StageClient, Detail: "malformed frame"})
				continue
			}
			switch {
			case in.Audio != nil:
				if err := sess.HandleAudio(in.Audio); err != nil {
					logger.Debug().Err(err).Msg("audio frame dropped")
				}
			case in.Control != nil && in.Control.Type == wire.ControlClear:
				sess.Clear()
			}
		}
	}()

	if err := sess.Run(ctx, s.connect(), writer); err != nil {
		if errors.Is(err, agent.ErrAlreadyAttached) {
			msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "session already attached")
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeDeadline))
		} else {
			logger.Warn().Err(err).Msg("session run ended with error")
		}
	}
	logger.Info().Msg("client disconnected")
	return nil
}
