package redemption

import (
	"github.com/thoka/discourse-login-helper/config"
	"github.com/thoka/discourse-login-helper/services/logging"
	"github.com/thoka/discourse-login-helper/services/logintoken"
	"github.com/thoka/discourse-login-helper/services/totp"
	"github.com/thoka/discourse-login-helper/services/users"
	"github.com/thoka/discourse-login-helper/session"
	"go.uber.org/fx"
)

var Module = fx.Options(
	fx.Provide(ProvideService),
)

type ServiceParams struct {
	fx.In

	Config   *config.Config
	Tokens   *logintoken.Service
	Accounts *users.Service
	TOTP     *totp.Service    `optional:"true"`
	Sessions *session.Manager `optional:"true"`
	Logger   *logging.Service
}

func ProvideService(p ServiceParams) *Service {
	var secondFactor SecondFactor
	if p.Config.TOTP.Enabled && p.TOTP != nil {
		secondFactor = p.TOTP
	}

	var sessions Sessions
	if p.Sessions != nil {
		sessions = p.Sessions
	}

	return NewService(p.Config, p.Tokens, p.Accounts, secondFactor, sessions, p.Logger.Named("redemption"))
}
