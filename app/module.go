package app

import (
	"context"
	"time"

	"github.com/heptiolabs/healthcheck"
	"github.com/thoka/discourse-login-helper/config"
	"github.com/thoka/discourse-login-helper/database"
	"github.com/thoka/discourse-login-helper/handlers"
	"github.com/thoka/discourse-login-helper/middleware/accessgate"
	"github.com/thoka/discourse-login-helper/server"
	"github.com/thoka/discourse-login-helper/services/linkrewriter"
	"github.com/thoka/discourse-login-helper/services/logging"
	"github.com/thoka/discourse-login-helper/services/loginmail"
	"github.com/thoka/discourse-login-helper/services/logintoken"
	"github.com/thoka/discourse-login-helper/services/mail"
	"github.com/thoka/discourse-login-helper/services/metrics"
	"github.com/thoka/discourse-login-helper/services/ratelimit"
	"github.com/thoka/discourse-login-helper/services/redemption"
	"github.com/thoka/discourse-login-helper/services/templates"
	"github.com/thoka/discourse-login-helper/services/totp"
	"github.com/thoka/discourse-login-helper/services/users"
	"github.com/thoka/discourse-login-helper/session"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const healthTimeout = 2 * time.Second

// Modules is the complete login helper, minus configuration.
var Modules = fx.Options(
	logging.Module,
	database.Module,
	metrics.Module,
	server.NewProvider(),
	ratelimit.Module,
	users.Module,
	logintoken.Module,
	totp.Module,
	mail.Module,
	linkrewriter.Module,
	templates.Module,
	session.Module,
	loginmail.Module,
	redemption.Module,
	handlers.Module,
	fx.Provide(ProvideGate),
	fx.Provide(ProvideSweeper),
	fx.Invoke(RegisterObservers),
	fx.Invoke(RegisterRoutes),
	fx.Invoke(RegisterHealthChecks),
	fx.Invoke(StartSweeper),
)

func ProvideGate(cfg *config.Config, logger *logging.Service) *accessgate.Gate {
	return accessgate.New(cfg, session.IsAuthenticated, logger.Named("accessgate"))
}

func RegisterObservers(m *metrics.Metrics, loginMail *loginmail.Service, redeemer *redemption.Service, queue *mail.Queue) {
	loginMail.SetObserver(m)
	redeemer.SetObserver(m)
	queue.SetObserver(m)
}

// RegisterRoutes installs the session and access gate middleware and the
// login helper routes. The session middleware must wrap the gate so the gate
// can tell logged-in users apart.
func RegisterRoutes(srv *server.Server, manager *session.Manager, gate *accessgate.Gate, pages *templates.Service, h *handlers.Handler) {
	srv.SetRenderer(pages.Renderer())
	srv.Use(session.Middleware(manager))
	srv.Use(gate.Middleware())
	h.Register(srv)
}

type pinger interface {
	Ping(ctx context.Context) error
}

func RegisterHealthChecks(srv *server.Server, db *gorm.DB, store ratelimit.Store) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}

	srv.AddLivenessCheck("goroutines", healthcheck.GoroutineCountCheck(10000))
	srv.AddReadinessCheck("database", healthcheck.DatabasePingCheck(sqlDB, healthTimeout))

	if p, ok := store.(pinger); ok {
		srv.AddReadinessCheck("ratelimit-store", healthcheck.Timeout(func() error {
			ctx, cancel := context.WithTimeout(context.Background(), healthTimeout)
			defer cancel()
			return p.Ping(ctx)
		}, healthTimeout))
	}
	return nil
}

type SweeperParams struct {
	fx.In

	Config  *config.Config
	DB      *gorm.DB
	Tokens  *logintoken.Service
	TOTP    *totp.Service
	Store   ratelimit.Store
	Tracker *session.Tracker `optional:"true"`
	Logger  *logging.Service
}

// ProvideSweeper collects the expiry cleanups of every table that grows with
// use.
func ProvideSweeper(p SweeperParams) *Sweeper {
	sweeper := NewSweeper(p.Config.LoginHelper.TokenCleanupInterval, p.Logger.Named("cleanup"),
		CleanupTask{Name: "login_tokens", Run: p.Tokens.CleanupExpired},
		CleanupTask{Name: "totp_used_codes", Run: p.TOTP.CleanupUsedCodes},
	)

	if p.Tracker != nil {
		sweeper.Add(CleanupTask{Name: "user_sessions", Run: p.Tracker.CleanupExpired})
	}
	if p.Config.Session.Enabled && p.Config.Session.Store == "database" {
		sweeper.Add(CleanupTask{Name: "sessions", Run: func(ctx context.Context) (int64, error) {
			return session.DeleteExpiredSessions(ctx, p.DB)
		}})
	}
	if dbStore, ok := p.Store.(*ratelimit.DatabaseStore); ok {
		sweeper.Add(CleanupTask{Name: "rate_limit_counters", Run: dbStore.DeleteExpired})
	}

	return sweeper
}

func StartSweeper(lc fx.Lifecycle, sweeper *Sweeper, logger *logging.Service) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if logger != nil {
				logger.Debug("starting cleanup worker", zap.Duration("interval", sweeper.interval))
			}
			sweeper.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			sweeper.Stop()
			return nil
		},
	})
}
