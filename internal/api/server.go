// Package api serves the operator status surface: a small authenticated JSON
// API over the bot's managers plus a websocket stream of bus events.
package api

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"swing-trading-bot/config"
	"swing-trading-bot/internal/auth"
	"swing-trading-bot/internal/bot"
	"swing-trading-bot/internal/circuit"
	"swing-trading-bot/internal/drawdown"
	"swing-trading-bot/internal/events"
	"swing-trading-bot/internal/monitor"
	"swing-trading-bot/internal/regime"
	"swing-trading-bot/internal/rotation"
)

// Server is the HTTP status API.
type Server struct {
	cfg        config.ServerConfig
	router     *gin.Engine
	httpServer *http.Server
	bot        *bot.Bot
	protector  *drawdown.Protector
	regime     *regime.Detector
	rotation   *rotation.Manager
	monitor    *monitor.Monitor
	breaker    *circuit.Breaker
	auth       *auth.Service
	hub        *WSHub
	logger     zerolog.Logger
}

// Deps bundles what the server reads. Everything is read-only from here; the
// API never mutates trading state.
type Deps struct {
	Bot       *bot.Bot
	Protector *drawdown.Protector
	Regime    *regime.Detector
	Rotation  *rotation.Manager
	Monitor   *monitor.Monitor
	Breaker   *circuit.Breaker
	Auth      *auth.Service
	Bus       *events.Bus
}

// NewServer builds the router and websocket hub.
func NewServer(cfg config.ServerConfig, deps Deps, logger zerolog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	router.Use(cors.New(corsConfig))

	s := &Server{
		cfg:       cfg,
		router:    router,
		bot:       deps.Bot,
		protector: deps.Protector,
		regime:    deps.Regime,
		rotation:  deps.Rotation,
		monitor:   deps.Monitor,
		breaker:   deps.Breaker,
		auth:      deps.Auth,
		hub:       NewWSHub(deps.Bus, logger),
		logger:    logger.With().Str("component", "APIServer").Logger(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.GET("/health", s.handleHealth)
	s.router.POST("/api/v1/login", s.handleLogin)
	s.router.GET("/ws", s.handleWebSocket)

	v1 := s.router.Group("/api/v1")
	v1.Use(s.authMiddleware())
	{
		v1.GET("/status", s.handleStatus)
		v1.GET("/positions", s.handlePositions)
		v1.GET("/rotation", s.handleRotation)
	}
}

// Start runs the hub and the HTTP listener. Blocks until the listener stops.
func (s *Server) Start() error {
	go s.hub.Run()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	s.logger.Info().Str("addr", s.httpServer.Addr).Msg("status API listening")

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server failed: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// authMiddleware validates the bearer token when auth is configured. With no
// JWT secret the API runs open, which only makes sense on a private host.
func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.auth == nil || !s.auth.Enabled() {
			c.Next()
			return
		}

		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		if err := s.auth.Verify(token); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Next()
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"uptime":     s.bot.Uptime().String(),
		"ws_clients": s.hub.ClientCount(),
	})
}

func (s *Server) handleLogin(c *gin.Context) {
	if s.auth == nil || !s.auth.Enabled() {
		c.JSON(http.StatusNotFound, gin.H{"error": "auth disabled"})
		return
	}

	var req struct {
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "password required"})
		return
	}

	token, err := s.auth.Login(req.Password)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}

func (s *Server) handleStatus(c *gin.Context) {
	status := gin.H{
		"uptime":         s.bot.Uptime().String(),
		"entries_halted": s.bot.EntriesHalted(),
		"drawdown":       s.protector.State(),
		"regime":         s.regime.State(),
		"open_positions": s.monitor.Count(),
		"breaker":        s.breaker.Stats(),
	}
	if outcome := s.bot.LastOutcome(); outcome != nil {
		status["last_cycle"] = outcome
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) handlePositions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"positions": s.monitor.State()})
}

func (s *Server) handleRotation(c *gin.Context) {
	records := s.rotation.Records()
	out := make([]gin.H, 0, len(records))
	for _, r := range records {
		// A ticker with wins and no losses has an infinite profit factor,
		// which JSON cannot carry.
		var pf interface{} = r.ProfitFactor()
		if math.IsInf(r.ProfitFactor(), 1) {
			pf = nil
		}
		out = append(out, gin.H{
			"symbol":              r.Symbol,
			"tier":                r.Tier,
			"total_trades":        r.TotalTrades,
			"win_rate":            r.WinRate(),
			"profit_factor":       pf,
			"total_pnl":           r.TotalPnL,
			"consecutive_wins":    r.ConsecutiveWins,
			"consecutive_losses":  r.ConsecutiveLosses,
			"recovery_pass_count": r.RecoveryPassCount,
			"last_tier_change":    r.LastTierChange,
		})
	}
	c.JSON(http.StatusOK, gin.H{"rotation": out})
}
