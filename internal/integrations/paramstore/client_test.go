package paramstore

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/stretchr/testify/require"
)

// fakeAPI is a simple fake implementing ssmAPI for tests.
type fakeAPI struct {
	getOut   *ssm.GetParameterOutput
	getErr   error
	lastGet  *ssm.GetParameterInput
	values   map[string]string
	batchErr error
	batches  [][]string
}

func (f *fakeAPI) GetParameter(_ context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	f.lastGet = in
	return f.getOut, f.getErr
}

func (f *fakeAPI) GetParameters(_ context.Context, in *ssm.GetParametersInput, _ ...func(*ssm.Options)) (*ssm.GetParametersOutput, error) {
	f.batches = append(f.batches, in.Names)
	if f.batchErr != nil {
		return nil, f.batchErr
	}
	out := &ssm.GetParametersOutput{}
	for _, n := range in.Names {
		if v, ok := f.values[n]; ok {
			out.Parameters = append(out.Parameters, types.Parameter{Name: aws.String(n), Value: aws.String(v)})
		} else {
			out.InvalidParameters = append(out.InvalidParameters, n)
		}
	}
	return out, nil
}

func TestNew_NilAPI(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "must not be nil")
}

func TestGetParameter_HappyPath_SecureString(t *testing.T) {
	api := &fakeAPI{getOut: &ssm.GetParameterOutput{Parameter: &types.Parameter{
		Name: aws.String("/estate/open-ai-token"), Value: aws.String("sk-test"), Type: types.ParameterTypeSecureString,
	}}}
	client, err := New(api)
	require.NoError(t, err)

	v, err := client.GetParameter(context.Background(), " /estate/open-ai-token ")
	require.NoError(t, err)
	require.Equal(t, "sk-test", v)
	require.Equal(t, "/estate/open-ai-token", *api.lastGet.Name)
	require.True(t, *api.lastGet.WithDecryption)
}

func TestGetParameter_Errors(t *testing.T) {
	tests := []struct {
		name    string
		client  *Client
		param   string
		wantErr string
		isNF    bool
	}{
		{name: "not initialized", client: &Client{}, param: "p", wantErr: "not initialized"},
		{name: "empty name", client: &Client{api: &fakeAPI{}}, param: "  ", wantErr: "required"},
		{
			name:    "missing value",
			client:  &Client{api: &fakeAPI{getOut: &ssm.GetParameterOutput{Parameter: &types.Parameter{Name: aws.String("p")}}}},
			param:   "p",
			wantErr: "missing value",
		},
		{name: "api error", client: &Client{api: &fakeAPI{getErr: errors.New("boom")}}, param: "p", wantErr: "boom"},
		{
			name:    "not found",
			client:  &Client{api: &fakeAPI{getErr: &types.ParameterNotFound{Message: aws.String("nope")}}},
			param:   "p",
			wantErr: "not found",
			isNF:    true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.client.GetParameter(context.Background(), tt.param)
			require.Error(t, err)
			require.ErrorContains(t, err, tt.wantErr)
			require.Equal(t, tt.isNF, errors.Is(err, ErrNotFound))
		})
	}
}

func TestGetParameters_SkipsMissingAndBatches(t *testing.T) {
	api := &fakeAPI{values: map[string]string{"/estate/config/daily_limit": "50"}}
	client, err := New(api)
	require.NoError(t, err)

	names := []string{"/estate/config/daily_limit"}
	for i := 0; i < 11; i++ {
		names = append(names, fmt.Sprintf("/estate/config/unused_%d", i))
	}
	values, err := client.GetParameters(context.Background(), names...)
	require.NoError(t, err)
	require.Equal(t, map[string]string{"/estate/config/daily_limit": "50"}, values)
	require.Len(t, api.batches, 2)
	require.Len(t, api.batches[0], 10)
	require.Len(t, api.batches[1], 2)
}

func TestGetParameters_ApiError(t *testing.T) {
	client, err := New(&fakeAPI{batchErr: errors.New("throttled")})
	require.NoError(t, err)
	_, err = client.GetParameters(context.Background(), "a")
	require.ErrorContains(t, err, "throttled")
}
