package provider

import (
	"context"
	"time"

	"github.com/mailsweep/mailsweep/config"
	"github.com/mailsweep/mailsweep/interfaces"
	"github.com/mailsweep/mailsweep/internal/credential"
	"github.com/mailsweep/mailsweep/internal/enum"
	"github.com/mailsweep/mailsweep/internal/errs"
)

// Factory builds a connected MailProvider from the credential stored in the
// session. Providers are request-scoped: build, use, Close.
type Factory struct {
	yahooCfg *config.YahooImapConfig
	timeout  time.Duration
}

func NewFactory(cfg *config.Config) *Factory {
	return &Factory{
		yahooCfg: cfg.YahooImapConfig,
		timeout:  time.Duration(cfg.AppConfig.ProviderTimeoutSeconds) * time.Second,
	}
}

func (f *Factory) Build(ctx context.Context, name enum.Provider, email string, cred *credential.Credential) (interfaces.MailProvider, error) {
	if cred == nil || !cred.Present() {
		return nil, errs.ErrAuthRequired
	}

	switch name {
	case enum.ProviderGmail:
		return NewGmailProvider(ctx, email, cred)
	case enum.ProviderMicrosoft:
		return NewOutlookProvider(email, cred, f.timeout)
	case enum.ProviderYahoo:
		return NewYahooProvider(ctx, email, cred, f.yahooCfg)
	default:
		return nil, errs.ErrUnknownProvider
	}
}
