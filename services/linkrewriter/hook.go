package linkrewriter

import (
	"net/mail"
	"strings"
)

// MailHook applies the rewriter to outbound mail, using the recipient's
// address as the login hint.
type MailHook struct {
	rewriter *Rewriter
	enabled  bool
}

func NewMailHook(rewriter *Rewriter, enabled bool) *MailHook {
	return &MailHook{
		rewriter: rewriter,
		enabled:  enabled,
	}
}

func (h *MailHook) RewriteHTML(recipient, body string) string {
	hint := recipientHint(recipient)
	if !h.enabled || hint == "" {
		return body
	}
	return h.rewriter.RewriteAll(body, hint)
}

func (h *MailHook) RewriteText(recipient, body string) string {
	hint := recipientHint(recipient)
	if !h.enabled || hint == "" {
		return body
	}
	return h.rewriter.RewriteText(body, hint)
}

func recipientHint(recipient string) string {
	if addr, err := mail.ParseAddress(recipient); err == nil {
		return addr.Address
	}
	return strings.TrimSpace(recipient)
}
