// Package secrets resolves configuration secrets that are kept in SSM Parameter Store
package secrets

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/keithlinneman/linnemanlabs-editor/internal/xerrors"
)

// SSMGetParameterAPI is the subset of the ssm client used here
type SSMGetParameterAPI interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// FetchSSM reads a SecureString parameter and returns its trimmed value
func FetchSSM(ctx context.Context, client SSMGetParameterAPI, name string) (string, error) {
	out, err := client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", xerrors.Wrapf(err, "get SSM parameter %s", name)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return "", xerrors.Newf("SSM parameter %s has no value", name)
	}

	v := strings.TrimSpace(*out.Parameter.Value)
	if v == "" {
		return "", xerrors.Newf("SSM parameter %s is empty", name)
	}
	return v, nil
}

// Resolve returns value when set, otherwise the value of the SSM parameter param.
// Both empty returns "" with no error.
func Resolve(ctx context.Context, client SSMGetParameterAPI, value, param string) (string, error) {
	if value != "" || param == "" {
		return value, nil
	}
	if client == nil {
		return "", xerrors.Newf("SSM parameter %s configured but no SSM client available", param)
	}
	return FetchSSM(ctx, client, param)
}
