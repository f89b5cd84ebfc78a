package app

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/thoka/discourse-login-helper/config"
	"github.com/thoka/discourse-login-helper/server"
	"github.com/thoka/discourse-login-helper/services/logging"
	"github.com/thoka/discourse-login-helper/session"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type App struct {
	fx     *fx.App
	config *config.Config
	logger *logging.Service
	db     *gorm.DB
	server *server.Server
}

// New assembles the application. Configuration comes from the environment
// unless WithConfig is given.
func New(opts ...Option) (*App, error) {
	options := &Options{}
	for _, opt := range opts {
		opt(options)
	}

	a := &App{}

	fxOptions := []fx.Option{
		config.NewProvider(options.Config),
		Modules,
		fx.Populate(&a.config, &a.logger, &a.db, &a.server),
	}
	if options.SessionStore != nil {
		fxOptions = append(fxOptions, fx.Supply(&session.Options{Store: options.SessionStore}))
	}
	if options.Quiet {
		fxOptions = append(fxOptions, fx.NopLogger)
	}
	fxOptions = append(fxOptions, options.FxOptions...)

	a.fx = fx.New(fxOptions...)
	if err := a.fx.Err(); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *App) Start(ctx context.Context) error {
	return a.fx.Start(ctx)
}

func (a *App) Stop(ctx context.Context) error {
	return a.fx.Stop(ctx)
}

// Run starts the application and blocks until SIGINT or SIGTERM.
func (a *App) Run() {
	if err := a.Start(context.Background()); err != nil {
		log.Fatalf("Failed to start application: %v", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		a.logger.Info("received shutdown signal, stopping gracefully", zap.String("signal", sig.String()))
	case sig := <-a.fx.Wait():
		a.logger.Info("application requested shutdown", zap.Int("exit_code", sig.ExitCode))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := a.Stop(ctx); err != nil {
		a.logger.Error("failed to stop application gracefully", zap.Error(err))
	}
}

func (a *App) Echo() *echo.Echo {
	return a.server.Echo()
}

func (a *App) Server() *server.Server {
	return a.server
}

func (a *App) DB() *gorm.DB {
	return a.db
}

func (a *App) Logger() *logging.Service {
	return a.logger
}

func (a *App) Config() *config.Config {
	return a.config
}
