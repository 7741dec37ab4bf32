package secrets

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
)

type fakeSSM struct {
	values  map[string]string
	err     error
	calls   int
	decrypt bool
}

func (f *fakeSSM) GetParameter(_ context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	f.calls++
	f.decrypt = aws.ToBool(in.WithDecryption)
	if f.err != nil {
		return nil, f.err
	}
	v, ok := f.values[aws.ToString(in.Name)]
	if !ok {
		return &ssm.GetParameterOutput{}, nil
	}
	return &ssm.GetParameterOutput{Parameter: &types.Parameter{Value: aws.String(v)}}, nil
}

func TestFetchSSM(t *testing.T) {
	f := &fakeSSM{values: map[string]string{"/editor/session-key": "  secret-value\n"}}
	v, err := FetchSSM(context.Background(), f, "/editor/session-key")
	if err != nil {
		t.Fatalf("FetchSSM: %v", err)
	}
	if v != "secret-value" {
		t.Fatalf("value = %q, want trimmed secret-value", v)
	}
	if !f.decrypt {
		t.Fatal("GetParameter must request decryption")
	}
}

func TestFetchSSM_Failures(t *testing.T) {
	tests := []struct {
		name string
		f    *fakeSSM
		want string
	}{
		{"api error", &fakeSSM{err: errors.New("AccessDenied")}, "AccessDenied"},
		{"no value", &fakeSSM{}, "has no value"},
		{"blank value", &fakeSSM{values: map[string]string{"/p": "   "}}, "is empty"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FetchSSM(context.Background(), tt.f, "/p")
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestResolve(t *testing.T) {
	f := &fakeSSM{values: map[string]string{"/p": "from-ssm"}}
	ctx := context.Background()

	if v, err := Resolve(ctx, f, "inline", "/p"); err != nil || v != "inline" {
		t.Fatalf("inline value: got %q, %v", v, err)
	}
	if f.calls != 0 {
		t.Fatal("inline value must not hit SSM")
	}
	if v, err := Resolve(ctx, f, "", "/p"); err != nil || v != "from-ssm" {
		t.Fatalf("ssm value: got %q, %v", v, err)
	}
	if v, err := Resolve(ctx, f, "", ""); err != nil || v != "" {
		t.Fatalf("neither set: got %q, %v", v, err)
	}
	if _, err := Resolve(ctx, nil, "", "/p"); err == nil {
		t.Fatal("expected error without a client")
	}
}
