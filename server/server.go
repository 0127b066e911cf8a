package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Digital-Creators-Team/slot-progressives/auth"
	"github.com/Digital-Creators-Team/slot-progressives/config"
	"github.com/Digital-Creators-Team/slot-progressives/middleware"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// App represents the progressive service application
type App struct {
	engine             *gin.Engine
	config             *config.Config
	logger             zerolog.Logger
	services           Services
	httpServer         *http.Server
	onShutdown         []func()
	gameHandler        *GameHandler
	progressiveHandler *ProgressiveHandler
	streamHandler      *StreamHandler
}

// Options holds server configuration options
type Options struct {
	Config   *config.Config
	Logger   zerolog.Logger
	Services Services
}

// Router is an alias for gin.Engine for convenience
type Router = gin.Engine

// New creates a new progressive service application
func New(opts Options) *App {
	// Rates and percentages travel as JSON numbers.
	decimal.MarshalJSONWithoutQuotes = true

	if opts.Config.IsDevelopment() {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	app := &App{
		engine:   gin.New(),
		config:   opts.Config,
		logger:   opts.Logger,
		services: opts.Services,
	}

	broadcaster := NewBroadcaster(64)
	if opts.Services.Runtime != nil {
		broadcaster = opts.Services.Runtime.Broadcaster()
	}

	app.gameHandler = NewGameHandler(opts.Services, opts.Logger)
	app.progressiveHandler = NewProgressiveHandler(opts.Services, opts.Logger)
	app.streamHandler = NewStreamHandler(opts.Services.Game, broadcaster, opts.Logger)

	return app
}

// UseCommonMiddlewares adds common middlewares to the application
func (a *App) UseCommonMiddlewares() {
	// Recovery middleware (must be first)
	a.engine.Use(middleware.Recovery(a.logger))

	a.engine.Use(middleware.TraceID())
	a.engine.Use(middleware.Logging(a.logger))

	if len(a.config.Server.AllowOrigins) > 0 {
		a.engine.Use(middleware.CORS(a.config.Server.AllowOrigins))
	}
}

// UseMiddleware adds a custom middleware
func (a *App) UseMiddleware(m gin.HandlerFunc) {
	a.engine.Use(m)
}

// RegisterHealthCheck adds health check endpoints
func (a *App) RegisterHealthCheck() {
	a.engine.GET("/health", a.healthCheck)
	a.engine.GET("/api/health", a.healthCheck)
}

func (a *App) healthCheck(c *gin.Context) {
	disabled := a.services.Disabler != nil && a.services.Disabler.Disabled()
	c.JSON(http.StatusOK, gin.H{
		"status":    lo.Ternary(disabled, "disabled", "healthy"),
		"timestamp": time.Now(),
		"service":   a.config.Environment,
		"disabled":  disabled,
		"runtime":   a.services.Runtime != nil && a.services.Runtime.Connected(),
	})
}

// RegisterRoutes registers the game and operator API routes
//
// Flow: HTTP Request -> route group -> handler -> progressive service
//
// Game routes (no operator token, called by the game runtime):
//   - POST /api/game/activate      -> GameHandler.Activate
//   - POST /api/game/deactivate    -> GameHandler.Deactivate
//   - GET  /api/game/levels        -> GameHandler.GetLevels
//   - POST /api/game/wager         -> GameHandler.Wager
//   - POST /api/game/trigger       -> GameHandler.Trigger
//   - POST /api/game/commit        -> GameHandler.Commit
//   - GET  /api/game/transactions  -> GameHandler.GetTransactions
//   - GET  /api/game/history       -> GameHandler.GetHistory
//   - GET  /api/game/stream        -> StreamHandler.StreamSSE
//   - GET  /api/game/stream/ws     -> StreamHandler.StreamWebSocket
//
// Operator routes (JWT, mutations need the technician role):
//   - /api/progressives/levels, /shared, /linked, /faults
func (a *App) RegisterRoutes() {
	timeout := middleware.Timeout(a.config.Server.RequestTimeout)

	gameRoutes := a.engine.Group("/api/game")
	{
		// Streams stay open, so they skip the request timeout.
		gameRoutes.GET("/stream", a.streamHandler.StreamSSE)
		gameRoutes.GET("/stream/ws", a.streamHandler.StreamWebSocket)

		calls := gameRoutes.Group("", timeout)
		calls.POST("/activate", a.gameHandler.Activate)
		calls.POST("/deactivate", a.gameHandler.Deactivate)
		calls.GET("/levels", a.gameHandler.GetLevels)
		calls.POST("/wager", a.gameHandler.Wager)
		calls.POST("/trigger", a.gameHandler.Trigger)
		calls.POST("/commit", a.gameHandler.Commit)
		calls.GET("/transactions", a.gameHandler.GetTransactions)
		calls.GET("/history", a.gameHandler.GetHistory)
	}

	secret := a.config.JWT.Secret
	view := auth.JWTMiddleware(secret, a.logger)
	edit := auth.RequireRole(secret, a.logger, auth.RoleTechnician)

	ops := a.engine.Group("/api/progressives", timeout)
	{
		ops.GET("/levels", view, a.progressiveHandler.ViewLevels)
		ops.GET("/levels/:deviceId", view, a.progressiveHandler.ViewLevel)
		ops.POST("/levels/assign", edit, a.progressiveHandler.AssignLevels)
		ops.POST("/levels/lock", edit, a.progressiveHandler.LockLevels)
		ops.POST("/levels/validate", edit, a.progressiveHandler.ValidateLevels)

		ops.GET("/shared", view, a.progressiveHandler.ViewSharedLevels)
		ops.GET("/shared/:id", view, a.progressiveHandler.ViewSharedLevel)
		ops.POST("/shared", edit, a.progressiveHandler.AddSharedLevel)
		ops.PUT("/shared/:id", edit, a.progressiveHandler.UpdateSharedLevel)
		ops.DELETE("/shared/:id", edit, a.progressiveHandler.RemoveSharedLevel)

		ops.GET("/linked", view, a.progressiveHandler.ViewLinkedLevels)
		ops.GET("/linked/:name", view, a.progressiveHandler.ViewLinkedLevel)
		ops.POST("/linked", edit, a.progressiveHandler.AddLinkedLevels)
		ops.DELETE("/linked/:name", edit, a.progressiveHandler.RemoveLinkedLevel)

		ops.GET("/faults", view, a.progressiveHandler.ViewFaults)
		ops.DELETE("/faults/:key", auth.RequireRole(secret, a.logger, auth.RoleOperator, auth.RoleTechnician), a.progressiveHandler.ClearFault)
	}

	a.logger.Info().Msg("Progressive routes registered: /api/game, /api/progressives")
}

// Router returns the Gin engine for custom route registration
func (a *App) Router() *gin.Engine {
	return a.engine
}

// Group creates a route group
func (a *App) Group(path string, handlers ...gin.HandlerFunc) *gin.RouterGroup {
	return a.engine.Group(path, handlers...)
}

// OnShutdown registers a function to be called on shutdown
func (a *App) OnShutdown(fn func()) {
	a.onShutdown = append(a.onShutdown, fn)
}

// Run starts the HTTP server and blocks until SIGINT or SIGTERM.
func (a *App) Run() error {
	errChan := a.listen()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
		return a.shutdown()
	case err := <-errChan:
		return err
	}
}

// RunWithContext starts the HTTP server and blocks until ctx is done.
func (a *App) RunWithContext(ctx context.Context) error {
	errChan := a.listen()

	select {
	case <-ctx.Done():
		return a.shutdown()
	case err := <-errChan:
		return err
	}
}

func (a *App) listen() <-chan error {
	a.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.config.Server.Port),
		Handler:      a.engine,
		ReadTimeout:  a.config.Server.ReadTimeout,
		WriteTimeout: a.config.Server.WriteTimeout,
		IdleTimeout:  a.config.Server.IdleTimeout,
	}

	errChan := make(chan error, 1)
	go func() {
		a.logger.Info().
			Int("port", a.config.Server.Port).
			Str("environment", a.config.Environment).
			Msg("Starting HTTP server")

		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()
	return errChan
}

func (a *App) shutdown() error {
	a.logger.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Close streams and stop accepting calls before the providers go away.
	a.streamHandler.Close()
	err := a.httpServer.Shutdown(ctx)
	if err != nil {
		a.logger.Error().Err(err).Msg("Error during server shutdown")
	}

	for _, fn := range a.onShutdown {
		fn()
	}

	if err != nil {
		return err
	}
	a.logger.Info().Msg("Server shutdown complete")
	return nil
}

// Config returns the application configuration
func (a *App) Config() *config.Config {
	return a.config
}

// Logger returns the application logger
func (a *App) Logger() zerolog.Logger {
	return a.logger
}
