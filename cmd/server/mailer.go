package main

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/keithlinneman/linnemanlabs-contact/internal/cfg"
	"github.com/keithlinneman/linnemanlabs-contact/internal/log"
	"github.com/keithlinneman/linnemanlabs-contact/internal/mail"
	"github.com/keithlinneman/linnemanlabs-contact/internal/xerrors"
)

// needsAWS reports whether the configured provider or key source talks to AWS.
func needsAWS(conf cfg.App) bool {
	return provider(conf) == mail.ProviderSES ||
		(provider(conf) == mail.ProviderResend && conf.ResendAPIKey == "" && conf.ResendAPIKeySSMParam != "")
}

func provider(conf cfg.App) string {
	return strings.ToLower(strings.TrimSpace(conf.EmailProvider))
}

// newSender builds the configured email provider. awsCfg is only read when
// needsAWS(conf) is true.
func newSender(ctx context.Context, L log.Logger, conf cfg.App) (mail.Sender, error) {
	var awsCfg aws.Config
	if needsAWS(conf) {
		var err error
		awsCfg, err = config.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, xerrors.Wrap(err, "load aws config")
		}
	}

	switch provider(conf) {
	case mail.ProviderSES:
		return mail.NewSESSender(sesv2.NewFromConfig(awsCfg)), nil

	case mail.ProviderLog:
		L.Warn(ctx, "email provider is log, messages will not be delivered")
		return &mail.LogSender{Logger: L}, nil

	default:
		key := conf.ResendAPIKey
		if key == "" {
			var err error
			key, err = mail.ResolveAPIKey(ctx, ssm.NewFromConfig(awsCfg), conf.ResendAPIKeySSMParam)
			if err != nil {
				return nil, xerrors.Wrapf(err, "resolve resend api key from %s", conf.ResendAPIKeySSMParam)
			}
			L.Info(ctx, "loaded resend api key from ssm", "ssm_param", conf.ResendAPIKeySSMParam)
		}
		return mail.NewResendSender(key)
	}
}
