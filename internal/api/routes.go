package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rawblock/mule-engine/internal/alerts"
	"github.com/rawblock/mule-engine/internal/cache"
	"github.com/rawblock/mule-engine/internal/config"
	"github.com/rawblock/mule-engine/internal/events"
	"github.com/rawblock/mule-engine/internal/heuristics"
	"github.com/rawblock/mule-engine/pkg/models"
	"go.uber.org/zap"
)

// SessionStore persists analysis sessions. *db.PostgresStore implements it.
type SessionStore interface {
	SaveSession(ctx context.Context, filename string, result *models.AnalysisResult) (string, error)
	ListSessions(ctx context.Context, limit int) ([]models.SessionSummary, error)
	GetSession(ctx context.Context, id string) (*models.SessionDetail, error)
	DeleteSession(ctx context.Context, id string) error
	Ping(ctx context.Context) error
}

// ResultCache memoizes upload results. *cache.ResultCache implements it.
type ResultCache interface {
	Get(ctx context.Context, key string) (*cache.Entry, error)
	Put(ctx context.Context, key string, entry *cache.Entry) error
	Invalidate(ctx context.Context, sessionID string) error
}

// Deps wires the router. Sessions, Cache, Events and Alerts are optional;
// leave them nil to run the engine without that backend.
type Deps struct {
	Analyzer *heuristics.Analyzer
	Sessions SessionStore
	Cache    ResultCache
	Events   events.Sink
	Alerts   *alerts.AlertManager
	Hub      *Hub
	Server   config.ServerConfig
	Logger   *zap.Logger
}

type APIHandler struct {
	analyzer *heuristics.Analyzer
	sessions SessionStore
	cache    ResultCache
	events   events.Sink
	alerts   *alerts.AlertManager
	wsHub    *Hub
	server   config.ServerConfig
	logger   *zap.Logger
	started  time.Time
}

// SetupRouter builds the engine. The returned func stops the router's
// background goroutines and must be called once the server has shut down.
func SetupRouter(d Deps) (*gin.Engine, func()) {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Events == nil {
		d.Events = events.NopSink{}
	}
	var stops []func()
	if d.Hub == nil {
		d.Hub = NewHub(d.Logger)
		go d.Hub.Run()
		stops = append(stops, d.Hub.Close)
	}

	r := gin.New()
	r.Use(ginzap.Ginzap(d.Logger, time.RFC3339, true))
	r.Use(ginzap.RecoveryWithZap(d.Logger, true))

	// CORS: no configured origins means any origin (development)
	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Content-Length", "Accept", "Authorization", "Cache-Control", "X-Requested-With"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(d.Server.AllowedOrigins) == 0 || (len(d.Server.AllowedOrigins) == 1 && d.Server.AllowedOrigins[0] == "*") {
		corsCfg.AllowOriginFunc = func(string) bool { return true }
	} else {
		corsCfg.AllowOrigins = d.Server.AllowedOrigins
	}
	r.Use(cors.New(corsCfg))

	handler := &APIHandler{
		analyzer: d.Analyzer,
		sessions: d.Sessions,
		cache:    d.Cache,
		events:   d.Events,
		alerts:   d.Alerts,
		wsHub:    d.Hub,
		server:   d.Server,
		logger:   d.Logger.Named("api"),
		started:  time.Now(),
	}

	burst := d.Server.RateLimitPerMinute / 6
	if burst < 1 {
		burst = 1
	}
	var limit gin.HandlerFunc = func(c *gin.Context) { c.Next() }
	if d.Server.RateLimitPerMinute > 0 {
		limiter := NewRateLimiter(d.Server.RateLimitPerMinute, burst)
		stops = append(stops, limiter.Stop)
		limit = limiter.Middleware()
	}
	auth := AuthMiddleware(d.Server.AuthToken, handler.logger)

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api/v1")
	{
		api.GET("/health", handler.handleHealth)
		api.GET("/stream", d.Hub.Subscribe)
		api.GET("/alerts", handler.handleGetAlerts)

		// Session history
		api.GET("/sessions", handler.handleListSessions)
		api.GET("/sessions/:id", handler.handleGetSession)
		api.GET("/sessions/:id/accounts/:account", handler.handleInvestigateAccount)
		api.DELETE("/sessions/:id", auth, handler.handleDeleteSession)

		// Engine
		api.POST("/upload", auth, limit, handler.handleUpload)
		api.POST("/analyze", auth, limit, handler.handleAnalyze)
	}

	return r, func() {
		for _, stop := range stops {
			stop()
		}
	}
}

func (h *APIHandler) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	database := "disabled"
	if h.sessions != nil {
		database = "connected"
		if err := h.sessions.Ping(ctx); err != nil {
			database = "unreachable"
		}
	}
	cacheState := "disabled"
	if h.cache != nil {
		cacheState = "enabled"
	}
	_, nop := h.events.(events.NopSink)
	eventState := "enabled"
	if nop {
		eventState = "disabled"
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"uptime":    time.Since(h.started).Round(time.Second).String(),
		"database":  database,
		"cache":     cacheState,
		"events":    eventState,
		"wsClients": h.wsHub.ClientCount(),
		"engine":    h.analyzer.Config(),
	})
}
