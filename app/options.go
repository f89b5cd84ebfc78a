package app

import (
	"github.com/alexedwards/scs/v2"
	"github.com/thoka/discourse-login-helper/config"
	"go.uber.org/fx"
)

type Options struct {
	Config       *config.Config
	SessionStore scs.Store
	FxOptions    []fx.Option
	Quiet        bool
}

type Option func(*Options)

// WithConfig skips loading the environment and uses cfg as is.
func WithConfig(cfg *config.Config) Option {
	return func(opts *Options) {
		opts.Config = cfg
	}
}

// WithSessionStore overrides the session store chosen by SESSION_STORE.
func WithSessionStore(store scs.Store) Option {
	return func(opts *Options) {
		opts.SessionStore = store
	}
}

func WithFxOptions(fxOpts ...fx.Option) Option {
	return func(opts *Options) {
		opts.FxOptions = append(opts.FxOptions, fxOpts...)
	}
}

// WithoutFxLogs silences fx's own startup output.
func WithoutFxLogs() Option {
	return func(opts *Options) {
		opts.Quiet = true
	}
}
