package mail

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/keithlinneman/linnemanlabs-contact/internal/xerrors"
)

// ssmParamGetter is the subset of the SSM API used to read a SecureString.
type ssmParamGetter interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// ResolveAPIKey reads the provider credential from SSM parameter name,
// decrypting SecureString values.
func ResolveAPIKey(ctx context.Context, client ssmParamGetter, name string) (string, error) {
	if client == nil {
		return "", xerrors.New("ssm client is not configured")
	}
	if name == "" {
		return "", xerrors.New("ssm parameter name is empty")
	}
	out, err := client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", xerrors.Wrapf(err, "ssm get parameter %s", name)
	}
	if out.Parameter == nil {
		return "", xerrors.Newf("ssm parameter %s has no value", name)
	}
	key := strings.TrimSpace(aws.ToString(out.Parameter.Value))
	if key == "" {
		return "", xerrors.Newf("ssm parameter %s is empty", name)
	}
	return key, nil
}
