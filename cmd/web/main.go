package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/memstore"
	"github.com/gin-gonic/gin"

	"github.com/brcampos/staffdesk/internal/auth"
	"github.com/brcampos/staffdesk/internal/config"
	"github.com/brcampos/staffdesk/internal/logger"
	"github.com/brcampos/staffdesk/internal/model"
	"github.com/brcampos/staffdesk/internal/repository/postgres"
	"github.com/brcampos/staffdesk/internal/users"
	"github.com/brcampos/staffdesk/internal/web"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.New(0).Fatal("failed to load config", "error", err.Error())
	}

	lg := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	conn, err := postgres.NewConnection(ctx, cfg.DatabaseDSN)
	if err != nil {
		lg.Fatal("failed to connect to database", "error", err.Error())
	}
	defer conn.Close()

	store := postgres.NewUserRepository(conn)

	gin.SetMode(cfg.GinMode)
	router, err := setupRouter(cfg, lg, store)
	if err != nil {
		lg.Fatal("failed to set up router", "error", err.Error())
	}

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		lg.Info("starting server", "addr", srv.Addr, "mode", cfg.GinMode)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			lg.Fatal("server failed", "error", err.Error())
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		lg.Error("shutdown incomplete", "error", err.Error())
	}
	lg.Info("server stopped")
}

// setupRouter wires the middleware chain and routes: security headers,
// session load, anti-forgery check, then the handlers.
func setupRouter(cfg *config.Config, lg *logger.Logger, store model.UserStore) (*gin.Engine, error) {
	router := gin.Default()
	router.Use(web.SecureHeaders())

	sessionStore := memstore.NewStore([]byte(cfg.SessionSecret))
	sessionStore.Options(sessions.Options{
		Path:     "/",
		MaxAge:   auth.SessionMaxAgeSeconds(),
		HttpOnly: true,
		Secure:   cfg.GinMode == gin.ReleaseMode,
		SameSite: http.SameSiteLaxMode,
	})
	router.Use(sessions.Sessions(auth.SessionCookieName, sessionStore))

	authManager, err := auth.NewManager(store, lg, cfg.BcryptCost)
	if err != nil {
		return nil, err
	}
	router.Use(authManager.VerifyCSRF())

	router.SetHTMLTemplate(web.Templates())

	h := users.NewHandler(store, authManager, lg, cfg.BcryptCost)

	router.GET("/", h.Home)
	router.GET("/login", h.LoginForm)
	router.POST("/login", authManager.ThrottleLogin(), authManager.Login)
	router.POST("/logout", authManager.Logout)
	router.GET("/perfil", authManager.RequireLogin(), h.Profile)

	usersRoutes := router.Group("/users")
	{
		usersRoutes.GET("", authManager.RequireLogin(), h.List)
		usersRoutes.GET("/new", h.NewForm)
		usersRoutes.POST("", h.Create)
		usersRoutes.GET("/:id/edit", authManager.RequireLogin(), h.EditForm)
		usersRoutes.POST("/:id/update", authManager.RequireLogin(), h.Update)
		usersRoutes.POST("/:id/delete", authManager.RequireLogin(), h.Delete)
	}

	return router, nil
}
