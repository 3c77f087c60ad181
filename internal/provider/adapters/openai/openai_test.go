package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bluefx/bluefx-server/internal/provider/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAdapter(t *testing.T, handler http.Handler) *Adapter {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	adapter, err := New(Config{APIKey: "sk-test", BaseURL: server.URL})
	require.NoError(t, err)
	return adapter
}

func TestSubmitReturnsTerminalJobWithDataURLs(t *testing.T) {
	b64 := base64.StdEncoding.EncodeToString([]byte("pngbytes"))
	adapter := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/images/generations", r.URL.Path)
		require.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-image-1", req["model"])
		assert.Equal(t, "b64_json", req["response_format"])

		fmt.Fprintf(w, `{"data":[{"b64_json":%q}]}`, b64)
	}))

	job, err := adapter.Submit(context.Background(), domain.GenerationInput{
		Prompt:     "youtube thumbnail, bold text",
		Parameters: map[string]any{"size": "1792x1024"},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.JobSucceeded, job.Status)
	require.Len(t, job.Outputs, 1)
	assert.Equal(t, "data:image/png;base64,"+b64, job.Outputs[0])
	assert.NotEmpty(t, job.ExternalID)
}

func TestSubmitAPIErrorYieldsFailedJob(t *testing.T) {
	adapter := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"message":"content policy violation"}}`)
	}))

	job, err := adapter.Submit(context.Background(), domain.GenerationInput{Prompt: "x"})
	require.NoError(t, err)
	assert.Equal(t, domain.JobFailed, job.Status)
	assert.Equal(t, "content policy violation", job.Error)
}

func TestSubmitRejectsEmptyPrompt(t *testing.T) {
	adapter := newTestAdapter(t, http.NotFoundHandler())
	_, err := adapter.Submit(context.Background(), domain.GenerationInput{})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestGetJobUnsupported(t *testing.T) {
	adapter := newTestAdapter(t, http.NotFoundHandler())
	_, err := adapter.GetJob(context.Background(), "openai-x")
	assert.ErrorIs(t, err, domain.ErrPollingUnsupported)
}
