package paramstore

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/stretchr/testify/require"
)

type fakeSSM struct {
	out     *ssm.GetParameterOutput
	err     error
	gotName string
}

func (f *fakeSSM) GetParameter(_ context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	if in != nil && in.Name != nil {
		f.gotName = *in.Name
	}
	return f.out, f.err
}

func TestNew_NilAPI(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)
}

func TestGetParameter(t *testing.T) {
	val := "cw-token"
	api := &fakeSSM{out: &ssm.GetParameterOutput{Parameter: &types.Parameter{Value: &val}}}
	c, err := New(api)
	require.NoError(t, err)

	got, err := c.GetParameter(context.Background(), " /support-relay/chatwoot-api-key ")
	require.NoError(t, err)
	require.Equal(t, "cw-token", got)
	require.Equal(t, "/support-relay/chatwoot-api-key", api.gotName)
}

func TestGetParameter_EmptyName(t *testing.T) {
	c, err := New(&fakeSSM{})
	require.NoError(t, err)
	_, err = c.GetParameter(context.Background(), "   ")
	require.Error(t, err)
}

func TestGetParameter_APIError(t *testing.T) {
	api := &fakeSSM{err: errors.New("access denied")}
	c, err := New(api)
	require.NoError(t, err)
	_, err = c.GetParameter(context.Background(), "/support-relay/chatwoot-api-key")
	require.Error(t, err)
	require.Contains(t, err.Error(), "access denied")
}

func TestGetParameter_MissingValue(t *testing.T) {
	api := &fakeSSM{out: &ssm.GetParameterOutput{}}
	c, err := New(api)
	require.NoError(t, err)
	_, err = c.GetParameter(context.Background(), "/support-relay/chatwoot-api-key")
	require.Error(t, err)
}
