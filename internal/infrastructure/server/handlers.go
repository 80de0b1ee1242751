package server

import (
	"context"
	_ "embed"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/fuzzpriv/internal/harness"
	"github.com/GriffinCanCode/fuzzpriv/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/fuzzpriv/internal/shared/id"
	"github.com/GriffinCanCode/fuzzpriv/internal/transport"
)

//go:embed assets/fuzzpriv.js
var shimJS []byte

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"quitting": s.deps.Quit.Quitting(),
		"metrics":  s.metrics.Snapshot(),
	})
}

func (s *Server) shim(c *gin.Context) {
	c.Data(http.StatusOK, "application/javascript; charset=utf-8", shimJS)
}

// channel upgrades to a websocket and binds it to the command router.
func (s *Server) channel(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}

	peer := id.NewPeerID()
	tracing.FromContext(c.Request.Context()).SetTag("peer", peer.String())
	logger := s.logger.With(zap.String("peer", peer.String()))
	port := transport.NewWebSocketPort(conn, transport.WebSocketConfig{
		RPS:    float64(s.config.Channel.MessagesPerSecond),
		Burst:  s.config.Channel.Burst,
		OnDrop: s.metrics.WSFrameDropped,
	}, logger)
	s.deps.Router.Bind(port, s.deps.Loop)

	s.metrics.IncWSConnections()
	logger.Info("channel connected")
	go func() {
		<-port.Done()
		s.metrics.DecWSConnections()
		logger.Info("channel closed")
	}()
}

func (s *Server) harnessStatus(c *gin.Context) {
	var status harness.Status
	if err := s.deps.Loop.Do(c.Request.Context(), func() { status = s.deps.Harness.Status() }); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, status)
}

// quit triggers the quit sequence: mode=now (default), soon, or leakcheck
// (with leave_open=true to keep subjects open while counting).
func (s *Server) quit(c *gin.Context) {
	ctx := context.WithoutCancel(c.Request.Context())
	q := s.deps.Quit
	mode := c.DefaultQuery("mode", "now")
	tracing.FromContext(ctx).SetTag("quit.mode", mode)

	switch mode {
	case "now":
		if q.Quitting() {
			c.JSON(http.StatusConflict, gin.H{"error": "already quitting"})
			return
		}
		go q.RequestQuit(ctx, "control")
		c.JSON(http.StatusAccepted, gin.H{"mode": mode})

	case "soon":
		q.RequestQuitSoon(ctx, "control")
		c.JSON(http.StatusAccepted, gin.H{"mode": mode})

	case "leakcheck":
		report, ran := q.RequestQuitWithLeakCheck(ctx, c.Query("leave_open") == "true")
		if !ran {
			c.JSON(http.StatusConflict, gin.H{"error": "leak check already running"})
			return
		}
		if report == nil {
			c.JSON(http.StatusOK, gin.H{"mode": mode, "checked": false})
			return
		}
		c.JSON(http.StatusOK, gin.H{"mode": mode, "checked": true, "report": report, "lines": report.Lines()})

	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown mode " + url.QueryEscape(mode)})
	}
}
