package session

import (
	"fmt"
	"net/http"

	"github.com/alexedwards/scs/v2"
	"github.com/thoka/discourse-login-helper/config"
	"github.com/thoka/discourse-login-helper/services/logging"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

type Manager struct {
	*scs.SessionManager
	config  config.SessionConfig
	tracker *Tracker
	logger  *logging.Service
}

type Options struct {
	Store scs.Store
}

type ManagerParams struct {
	fx.In

	Config  *config.Config
	Options *Options `optional:"true"`
	DB      *gorm.DB `optional:"true"`
	Tracker *Tracker `optional:"true"`
	Logger  *logging.Service
}

func ProvideSessionManager(p ManagerParams) (*Manager, error) {
	return NewManager(p.Config, p.Options, p.DB, p.Tracker, p.Logger)
}

// NewManager returns nil when sessions are disabled; callers treat a nil
// manager as "nobody is ever logged in".
func NewManager(cfg *config.Config, opts *Options, db *gorm.DB, tracker *Tracker, logger *logging.Service) (*Manager, error) {
	if !cfg.Session.Enabled {
		return nil, nil
	}

	store, err := selectStore(cfg.Session.Store, opts, db)
	if err != nil {
		return nil, err
	}

	sm := scs.New()
	sm.Store = store
	sm.Lifetime = cfg.Session.MaxAge
	sm.IdleTimeout = cfg.Session.MaxAge
	sm.Cookie = scs.SessionCookie{
		Name:     cfg.Session.Name,
		Path:     cfg.Session.Path,
		Domain:   cfg.Session.Domain,
		Secure:   cfg.Session.Secure,
		HttpOnly: cfg.Session.HttpOnly,
		SameSite: sameSiteMode(cfg.Session.SameSite),
		Persist:  true,
	}

	return &Manager{
		SessionManager: sm,
		config:         cfg.Session,
		tracker:        tracker,
		logger:         logger,
	}, nil
}

func selectStore(name string, opts *Options, db *gorm.DB) (scs.Store, error) {
	if opts != nil && opts.Store != nil {
		return opts.Store, nil
	}
	switch name {
	case "memory":
		return NewMemoryStore(), nil
	case "database":
		store, err := NewDatabaseStore(db)
		if err != nil {
			return nil, fmt.Errorf("failed to create database session store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported session store: %s", name)
	}
}

func sameSiteMode(mode string) http.SameSite {
	switch mode {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}

func ProvideTracker(db *gorm.DB, logger *logging.Service) *Tracker {
	if db == nil {
		return nil
	}
	return NewTracker(db, logger)
}

var Module = fx.Module("session",
	fx.Provide(ProvideTracker),
	fx.Provide(ProvideSessionManager),
)
