package line

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/require"
)

type fakeGetter struct {
	val   string
	err   error
	calls int32
	name  string
}

func (f *fakeGetter) GetParameter(_ context.Context, name string) (string, error) {
	atomic.AddInt32(&f.calls, 1)
	f.name = name
	return f.val, f.err
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient(nil, "/estate")
	require.Error(t, err)

	_, err = NewClient(&fakeGetter{}, " / ")
	require.Error(t, err)
}

func TestNotify_PushesTextMessage(t *testing.T) {
	var got pushRequest
	var auth, path string
	var decodeErr error
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		auth = r.Header.Get("Authorization")
		decodeErr = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	g := &fakeGetter{val: `{"token":"line-token"}`}
	c, err := NewClient(g, "/estate/", WithBaseURL(srv.URL))
	require.NoError(t, err)

	require.NoError(t, c.Notify(context.Background(), "U123", "Your checklist is ready."))
	require.NoError(t, c.Notify(context.Background(), "U123", "again"))

	require.NoError(t, decodeErr)
	require.Equal(t, "/v2/bot/message/push", path)
	require.Equal(t, "Bearer line-token", auth)
	require.Equal(t, "U123", got.To)
	require.Equal(t, []textMessage{{Type: "text", Text: "again"}}, got.Messages)
	require.Equal(t, "/estate/line-channel-token", g.name)
	require.EqualValues(t, 1, atomic.LoadInt32(&g.calls))
}

func TestNotify_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"message":"rate limit"}`))
	}))
	defer srv.Close()

	tests := []struct {
		name    string
		getter  *fakeGetter
		channel string
		message string
		wantErr string
		status  int
	}{
		{name: "empty channel", getter: &fakeGetter{val: `{"token":"t"}`}, message: "hi", wantErr: "channel id"},
		{name: "empty message", getter: &fakeGetter{val: `{"token":"t"}`}, channel: "U1", message: " ", wantErr: "message"},
		{name: "token error", getter: &fakeGetter{err: errors.New("ssm down")}, channel: "U1", message: "hi", wantErr: "ssm down"},
		{name: "empty token", getter: &fakeGetter{val: `{}`}, channel: "U1", message: "hi", wantErr: "token is empty"},
		{name: "status", getter: &fakeGetter{val: `{"token":"t"}`}, channel: "U1", message: "hi", wantErr: "429", status: 429},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewClient(tt.getter, "/estate", WithBaseURL(srv.URL))
			require.NoError(t, err)
			err = c.Notify(context.Background(), tt.channel, tt.message)
			require.ErrorContains(t, err, tt.wantErr)
			if tt.status != 0 {
				var se *HTTPStatusError
				require.True(t, errors.As(err, &se))
				require.Equal(t, tt.status, se.HTTPStatusCode())
			}
		})
	}
}

func TestTruncate(t *testing.T) {
	require.Equal(t, "short", truncate("short", 10))
	long := strings.Repeat("相", 12)
	out := truncate(long, 10)
	require.Equal(t, 10, utf8.RuneCountInString(out))
	require.True(t, strings.HasSuffix(out, "…"))
}
