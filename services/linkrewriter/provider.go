package linkrewriter

import (
	"github.com/thoka/discourse-login-helper/config"
	mailservice "github.com/thoka/discourse-login-helper/services/mail"
	"go.uber.org/fx"
)

var Module = fx.Options(
	fx.Provide(NewFromConfig),
	fx.Invoke(RegisterMailHook),
)

// RegisterMailHook installs the rewriter on every outbound email.
func RegisterMailHook(cfg *config.Config, rewriter *Rewriter, mailer *mailservice.Service) {
	mailer.AddComposeHook(NewMailHook(rewriter, cfg.LoginHelper.Enabled))
}
