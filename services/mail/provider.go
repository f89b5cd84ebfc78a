package mail

import (
	"context"

	"github.com/thoka/discourse-login-helper/config"
	"github.com/thoka/discourse-login-helper/services/logging"
	"go.uber.org/fx"
)

func ProvideMailService(cfg *config.Config, logger *logging.Service) (*Service, error) {
	return NewService(&cfg.Mail, logger)
}

func ProvideQueue(lc fx.Lifecycle, cfg *config.Config, service *Service, logger *logging.Service) *Queue {
	queue := NewQueue(&cfg.Mail, service, logger)

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			queue.Start(ctx)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return queue.Stop(ctx)
		},
	})

	return queue
}

var Module = fx.Options(
	fx.Provide(ProvideMailService),
	fx.Provide(ProvideQueue),
)
