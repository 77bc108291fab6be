package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	lenserr "github.com/codelens-ai/codelens/internal/errors"
)

func fastClient(host string) *Client {
	c := NewClient(ClientConfig{Host: host, Model: "test-model"})
	c.retry.BaseDelay = time.Millisecond
	c.retry.MaxDelay = 2 * time.Millisecond
	return c
}

func TestGenerate_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/generate", r.URL.Path)
		var req generateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req.Model)
		assert.False(t, req.Stream)
		json.NewEncoder(w).Encode(generateResponse{Response: "the answer", Done: true})
	}))
	defer srv.Close()

	out, err := fastClient(srv.URL).Generate(context.Background(), "question")
	require.NoError(t, err)
	assert.Equal(t, "the answer", out)
}

func TestGenerate_RetriesTransient(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(generateResponse{Response: "recovered", Done: true})
	}))
	defer srv.Close()

	out, err := fastClient(srv.URL).Generate(context.Background(), "question")
	require.NoError(t, err)
	assert.Equal(t, "recovered", out)
	assert.Equal(t, int32(2), calls.Load())
}

func TestGenerate_PermanentNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := fastClient(srv.URL).Generate(context.Background(), "question")
	require.Error(t, err)
	assert.False(t, lenserr.IsRetryable(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestGenerate_EmptyPromptRejected(t *testing.T) {
	_, err := fastClient("http://localhost:0").Generate(context.Background(), "   ")
	require.Error(t, err)
	assert.Equal(t, lenserr.ErrCodeQueryEmpty, lenserr.GetCode(err))
}

func TestAvailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/tags", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	assert.True(t, fastClient(srv.URL).Available(context.Background()))

	srv.Close()
	assert.False(t, fastClient(srv.URL).Available(context.Background()))
}
