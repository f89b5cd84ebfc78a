package loginmail

import (
	"github.com/thoka/discourse-login-helper/config"
	"github.com/thoka/discourse-login-helper/services/logging"
	"github.com/thoka/discourse-login-helper/services/logintoken"
	"github.com/thoka/discourse-login-helper/services/mail"
	"github.com/thoka/discourse-login-helper/services/ratelimit"
	"github.com/thoka/discourse-login-helper/services/users"
	"go.uber.org/fx"
)

var Module = fx.Options(
	fx.Provide(ProvideService),
)

func ProvideService(cfg *config.Config, limiter *ratelimit.Limiter, userService *users.Service, tokens *logintoken.Service, queue *mail.Queue, logger *logging.Service) (*Service, error) {
	return NewService(cfg, limiter, userService, tokens, queue, logger.Named("loginmail"))
}
