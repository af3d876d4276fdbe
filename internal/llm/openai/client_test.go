package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chatResponse(content string) map[string]any {
	return map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"content": content}},
		},
	}
}

func TestSummarize(t *testing.T) {
	var gotAuth string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		require.NoError(t, json.NewEncoder(w).Encode(
			chatResponse(`{"summary":"An invoice for office supplies.","topics":["finance"]}`)))
	}))
	defer srv.Close()

	c := NewClient(Config{APIKey: "test-key", BaseURL: srv.URL, Model: "gpt-4o-mini"}, nil)

	digest, err := c.Summarize(context.Background(), "Invoice #42, office supplies, total $118.50")
	require.NoError(t, err)
	assert.Equal(t, "An invoice for office supplies.", digest.Summary)
	assert.Equal(t, []string{"finance"}, digest.Topics)

	assert.Equal(t, "Bearer test-key", gotAuth)
	assert.Equal(t, "gpt-4o-mini", gotBody["model"])
}

func TestSummarizeRejectsMalformedDigest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewEncoder(w).Encode(chatResponse(`{"topics":["no summary field"]}`)))
	}))
	defer srv.Close()

	c := NewClient(Config{APIKey: "k", BaseURL: srv.URL}, nil)

	_, err := c.Summarize(context.Background(), "text")
	assert.ErrorContains(t, err, "schema validation failed")
}

func TestSummarizeUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"rate limited"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(Config{APIKey: "k", BaseURL: srv.URL}, nil)

	_, err := c.Summarize(context.Background(), "text")
	assert.ErrorContains(t, err, "openai status 429")
}

func TestRecognizePage(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		require.NoError(t, json.NewEncoder(w).Encode(chatResponse("Page two text.")))
	}))
	defer srv.Close()

	c := NewClient(Config{APIKey: "k", BaseURL: srv.URL, VisionModel: "gpt-4o"}, nil)

	text, err := c.RecognizePage(context.Background(), []byte{0x89, 0x50, 0x4e, 0x47}, 2)
	require.NoError(t, err)
	assert.Equal(t, "Page two text.", text)
	assert.Equal(t, "gpt-4o", gotBody["model"])
}

func TestNoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewEncoder(w).Encode(map[string]any{"choices": []any{}}))
	}))
	defer srv.Close()

	c := NewClient(Config{APIKey: "k", BaseURL: srv.URL}, nil)

	_, err := c.Summarize(context.Background(), "text")
	assert.ErrorContains(t, err, "no choices")
}
