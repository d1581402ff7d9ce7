// Package api implements the read-only observer HTTP API: battle status,
// history, and a live websocket feed of battle events.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/pokeproto-project/pokeproto/internal/config"
	"github.com/pokeproto-project/pokeproto/internal/db"
	"github.com/pokeproto-project/pokeproto/internal/events"
	"github.com/pokeproto-project/pokeproto/internal/peer"
)

// Server is the observer API server. Everything it exposes is read-only;
// the battle is driven from the interactive CLI and the wire protocol.
type Server struct {
	cfg      *config.Config
	eventBus *events.EventBus
	peer     *peer.Peer
	history  *db.HistoryStore

	httpServer *http.Server
	router     *gin.Engine
	feed       *feedHub
}

// NewServer creates the observer API server. history may be nil.
func NewServer(cfg *config.Config, eventBus *events.EventBus, p *peer.Peer, history *db.HistoryStore) *Server {
	if cfg.ApplicationData.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	return &Server{
		cfg:      cfg,
		eventBus: eventBus,
		peer:     p,
		history:  history,
		feed:     newFeedHub(),
	}
}

// Start runs the HTTP server until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.router = s.buildRouter()
	s.feed.subscribe(s.eventBus)

	addr := fmt.Sprintf(":%d", s.cfg.ApplicationData.API.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	log.Info().Str("addr", addr).Msg("observer API starting")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("observer API error: %w", err)
	}
	return nil
}

// buildRouter assembles the gin router with CORS and the read-only routes.
func (s *Server) buildRouter() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	corsCfg := cors.DefaultConfig()
	if origins := s.cfg.ApplicationData.API.AllowedOrigins; len(origins) > 0 {
		corsCfg.AllowOrigins = origins
	} else {
		corsCfg.AllowAllOrigins = true
	}
	corsCfg.AllowMethods = []string{"GET", "OPTIONS"}
	router.Use(cors.New(corsCfg))

	router.GET("/ping", s.handlePing)

	apiGroup := router.Group("/api")
	{
		apiGroup.GET("/status", s.handleStatus)
		apiGroup.GET("/battle", s.handleBattle)
		apiGroup.GET("/history", s.handleHistory)
	}

	router.GET("/ws", s.feed.handleWS)

	return router
}

// handlePing returns a simple health check response.
func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "pokeproto",
	})
}

// handleStatus returns session-level information.
func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"session_id": s.peer.SessionID(),
		"role":       s.peer.Role(),
		"peer_name":  s.peer.Name(),
		"opponent":   s.peer.PeerName(),
		"seed":       s.peer.Seed(),
		"started_at": s.peer.StartedAt().Format(time.RFC3339),
	})
}

// handleBattle returns the battle state snapshot.
func (s *Server) handleBattle(c *gin.Context) {
	machine := s.peer.Machine()
	if machine == nil {
		c.JSON(http.StatusOK, gin.H{"started": false})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"started":  true,
		"snapshot": machine.Snapshot(),
	})
}

// handleHistory returns recent finished battles.
func (s *Server) handleHistory(c *gin.Context) {
	if s.history == nil {
		c.JSON(http.StatusOK, gin.H{"battles": []interface{}{}})
		return
	}

	records, err := s.history.Recent(50)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"battles": records})
}
