package clients

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMakeRequestHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	c := NewBaseClient(srv.URL)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.Get(ctx, "/slow")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestEnvTokenReadsOnEveryCall(t *testing.T) {
	t.Setenv("STUDYBUDDY_TEST_TOKEN", "first")
	tokens := EnvToken("STUDYBUDDY_TEST_TOKEN")
	assert.Equal(t, "first", tokens.Token())

	t.Setenv("STUDYBUDDY_TEST_TOKEN", " second\n")
	assert.Equal(t, "second", tokens.Token())
}

func TestSendJSONSetsHeaders(t *testing.T) {
	var contentType, auth, custom string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		contentType = r.Header.Get("Content-Type")
		auth = r.Header.Get("Authorization")
		custom = r.Header.Get("X-Client")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := NewBaseClient(srv.URL)
	c.SetHeader("X-Client", "cli")
	c.SetTokenSource(StaticToken("abc"))

	var out struct {
		OK bool `json:"ok"`
	}
	require.NoError(t, c.SendJSON(context.Background(), http.MethodPost, "/x", map[string]int{"a": 1}, &out))
	assert.True(t, out.OK)
	assert.Equal(t, "application/json", contentType)
	assert.Equal(t, "Bearer abc", auth)
	assert.Equal(t, "cli", custom)
}

func TestSendJSONAcceptsEmptyResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewBaseClient(srv.URL)
	out := struct {
		OK bool `json:"ok"`
	}{OK: true}
	require.NoError(t, c.SendJSON(context.Background(), http.MethodPost, "/x", nil, &out))
	assert.True(t, out.OK)
}
