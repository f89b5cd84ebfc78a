package templates

import (
	"github.com/thoka/discourse-login-helper/config"
	"github.com/thoka/discourse-login-helper/services/logging"
	"go.uber.org/fx"
)

// ProvideService loads the pages eagerly so a broken override fails startup.
func ProvideService(cfg *config.Config, logger *logging.Service) (*Service, error) {
	svc := New(&cfg.Templates, logger)
	if err := svc.LoadTemplates(); err != nil {
		return nil, err
	}
	return svc, nil
}

var Module = fx.Options(
	fx.Provide(ProvideService),
)
