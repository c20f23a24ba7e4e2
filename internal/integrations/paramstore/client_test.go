package paramstore

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/stretchr/testify/require"
)

// fakeAPI is a simple fake implementing ssmAPI for tests.
type fakeAPI struct {
	getOut *ssm.GetParameterOutput
	getErr error
	calls  int
	last   *ssm.GetParameterInput
}

func (f *fakeAPI) GetParameter(_ context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	f.calls++
	f.last = in
	return f.getOut, f.getErr
}

func strPtr(s string) *string { return &s }

func withValue(v string) *fakeAPI {
	return &fakeAPI{getOut: &ssm.GetParameterOutput{Parameter: &types.Parameter{Name: strPtr("p"), Value: strPtr(v)}}}
}

func TestGetParameter_HappyPath(t *testing.T) {
	api := withValue(`{"k":"v"}`)
	client, err := New(api)
	require.NoError(t, err)
	v, err := client.GetParameter(context.Background(), "p")
	require.NoError(t, err)
	require.Equal(t, `{"k":"v"}`, v)
	require.True(t, *api.last.WithDecryption)
}

func TestGetParameter_CachesSuccessfulReads(t *testing.T) {
	api := withValue("gpt-4o-mini")
	client, err := New(api)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		v, err := client.GetParameter(context.Background(), "/booksoul/config/openai_model")
		require.NoError(t, err)
		require.Equal(t, "gpt-4o-mini", v)
	}
	require.Equal(t, 1, api.calls)
}

func TestGetParameter_DoesNotCacheFailures(t *testing.T) {
	api := &fakeAPI{getErr: errors.New("throttled")}
	client, err := New(api)
	require.NoError(t, err)
	_, err = client.GetParameter(context.Background(), "p")
	require.Error(t, err)

	api.getErr = nil
	api.getOut = withValue("ok").getOut
	v, err := client.GetParameter(context.Background(), "p")
	require.NoError(t, err)
	require.Equal(t, "ok", v)
	require.Equal(t, 2, api.calls)
}

func TestGetParameter_MissingValue(t *testing.T) {
	api := &fakeAPI{getOut: &ssm.GetParameterOutput{Parameter: &types.Parameter{Name: strPtr("p"), Value: nil}}}
	client, err := New(api)
	require.NoError(t, err)
	_, err = client.GetParameter(context.Background(), "p")
	require.Error(t, err)
	require.Contains(t, err.Error(), "missing value")
}

func TestGetParameter_ApiError(t *testing.T) {
	client, err := New(&fakeAPI{getErr: errors.New("boom")})
	require.NoError(t, err)
	_, err = client.GetParameter(context.Background(), "p")
	require.ErrorContains(t, err, "boom")
}

func TestGetParameter_ClientNotInitialized(t *testing.T) {
	_, err := (&Client{}).GetParameter(context.Background(), "p")
	require.Error(t, err)
	require.Contains(t, err.Error(), "not initialized")
}

func TestGetParameter_EmptyName(t *testing.T) {
	client, err := New(&fakeAPI{})
	require.NoError(t, err)
	_, err = client.GetParameter(context.Background(), "  ")
	require.Error(t, err)
	require.Contains(t, err.Error(), "required")
}

func TestNew_NilAPI(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)
}

type fakeGetter struct {
	val string
	err error
}

func (f *fakeGetter) GetParameter(_ context.Context, _ string) (string, error) {
	return f.val, f.err
}

func TestToken(t *testing.T) {
	tok, err := Token(context.Background(), &fakeGetter{val: `{"token":"123:abc"}`}, "/booksoul/telegram-token")
	require.NoError(t, err)
	require.Equal(t, "123:abc", tok)
}

func TestToken_Errors(t *testing.T) {
	cases := []struct {
		name string
		g    Getter
		key  string
		want string
	}{
		{"nil getter", nil, "/x", "nil"},
		{"empty name", &fakeGetter{val: `{"token":"t"}`}, " ", "empty"},
		{"getter error", &fakeGetter{err: errors.New("ssm unavailable")}, "/x", "ssm unavailable"},
		{"malformed", &fakeGetter{val: `{"broken`}, "/x", "unmarshal"},
		{"missing field", &fakeGetter{val: `{"other":"v"}`}, "/x", "is empty"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Token(context.Background(), tc.g, tc.key)
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestJoinPath(t *testing.T) {
	require.Equal(t, "/booksoul/telegram-token", JoinPath("/booksoul/", "telegram-token"))
	require.Equal(t, "/booksoul/config/openai_model", JoinPath(" /booksoul", "/config/openai_model"))
}
