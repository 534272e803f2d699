package transform

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGoogleBackendTranslate(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "gtx", q.Get("client"))
		assert.Equal(t, "en", q.Get("sl"))
		assert.Equal(t, "hi", q.Get("tl"))
		assert.Equal(t, "t", q.Get("dt"))
		assert.Equal(t, "Hello. World.", q.Get("q"))
		_, _ = w.Write([]byte(`[[["नमस्ते। ","Hello. ",null,null,10],["दुनिया।","World.",null,null,10]],null,"en"]`))
	}))
	defer srv.Close()

	backend := NewGoogleBackend(GoogleOptions{Endpoint: srv.URL, SourceLang: "en", TargetLang: "hi"})
	out, err := backend.Transform(context.Background(), "Hello. World.")
	require.NoError(t, err)
	assert.Equal(t, "नमस्ते। दुनिया।", out)
}

func TestGoogleBackendStatusClassification(t *testing.T) {
	t.Parallel()

	cases := []struct {
		status    int
		permanent bool
	}{
		{http.StatusBadRequest, true},
		{http.StatusForbidden, true},
		{http.StatusRequestTimeout, false},
		{http.StatusTooManyRequests, false},
		{http.StatusInternalServerError, false},
		{http.StatusServiceUnavailable, false},
	}

	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		}))
		backend := NewGoogleBackend(GoogleOptions{Endpoint: srv.URL, TargetLang: "hi"})
		_, err := backend.Transform(context.Background(), "text")
		srv.Close()

		require.Error(t, err, "status %d", tc.status)
		assert.Equal(t, tc.permanent, IsPermanent(err), "status %d", tc.status)
	}
}

func TestGoogleBackendMalformedBodyIsTransient(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>captcha</html>"))
	}))
	defer srv.Close()

	backend := NewGoogleBackend(GoogleOptions{Endpoint: srv.URL, TargetLang: "hi"})
	_, err := backend.Transform(context.Background(), "text")
	require.Error(t, err)
	assert.False(t, IsPermanent(err))
}

func TestGoogleBackendRetriedThroughClient(t *testing.T) {
	t.Parallel()

	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`[[["ok","text",null,null,1]]]`))
	}))
	defer srv.Close()

	client := fastClient(NewGoogleBackend(GoogleOptions{Endpoint: srv.URL, TargetLang: "hi"}))
	out, err := client.Transform(context.Background(), "text")
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, 2, calls)
}
