package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	redisStore "github.com/gin-contrib/sessions/redis"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/yukikurage/task-hierarchy-api/internal/config"
	"github.com/yukikurage/task-hierarchy-api/internal/constants"
	"github.com/yukikurage/task-hierarchy-api/internal/handlers"
	"github.com/yukikurage/task-hierarchy-api/internal/middleware"
	"github.com/yukikurage/task-hierarchy-api/internal/services"
	"gorm.io/gorm"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API server",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	gin.SetMode(a.cfg.GinMode)

	store, err := newSessionStore(a.cfg)
	if err != nil {
		return err
	}

	r := newRouter(a.db, a.service, store, a.log)

	srv := &http.Server{
		Addr:              ":" + a.cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		a.log.Info("server starting", "addr", srv.Addr, "db_driver", a.cfg.DBDriver, "ai_enabled", a.cfg.OpenAIAPIKey != "")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	a.log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// newSessionStore returns a Redis-backed store when a Redis host is
// configured and a signed cookie store otherwise.
func newSessionStore(cfg *config.Config) (sessions.Store, error) {
	options := sessions.Options{
		Path:     "/",
		MaxAge:   86400 * 7, // 7 days
		HttpOnly: true,
		Secure:   cfg.GinMode == gin.ReleaseMode,
		SameSite: http.SameSiteLaxMode,
	}

	if cfg.RedisHost == "" {
		store := cookie.NewStore([]byte(cfg.SessionSecret))
		store.Options(options)
		return store, nil
	}

	store, err := redisStore.NewStore(
		10, // pool size
		"tcp",
		cfg.RedisHost+":"+cfg.RedisPort,
		"", // username
		"", // password
		[]byte(cfg.SessionSecret),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create Redis session store: %w", err)
	}
	store.Options(options)
	return store, nil
}

// newRouter wires middleware and routes. store may be nil, in which case the
// actor is taken from the X-Actor-ID header only.
func newRouter(db *gorm.DB, service *services.TaskService, store sessions.Store, log *slog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestID(), middleware.RequestLogger(log))
	if store != nil {
		r.Use(sessions.Sessions(constants.SessionCookieName, store))
	}
	r.Use(middleware.ResolveActor())

	r.GET("/health", handlers.NewHealthHandler(db).Health)

	taskHandler := handlers.NewTaskHandler(service, log)
	taskHandler.RegisterRoutes(r.Group("/api"))

	return r
}
