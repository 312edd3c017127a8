package openai

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/goccy/go-json"
	"github.com/poiesic/embedvector/ai"
	"github.com/poiesic/embedvector/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func embeddingServer(t *testing.T, empty bool) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input []string `json:"input"`
			Model string   `json:"model"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		type item struct {
			Object    string    `json:"object"`
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		}
		data := []item{}
		for i := range req.Input {
			vec := []float32{float32(i + 1), 0.5}
			if empty {
				vec = []float32{}
			}
			data = append(data, item{Object: "embedding", Embedding: vec, Index: i})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"data":   data,
			"model":  req.Model,
			"usage":  map[string]int{"prompt_tokens": 1, "total_tokens": 1},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestEmbedder(t *testing.T) {
	srv := embeddingServer(t, false)
	e, err := NewEmbedder(ai.NewConfig(ai.WithAPIKey("sk-test"), ai.WithBaseURL(srv.URL)))
	require.NoError(t, err)

	v, err := e.EmbedText(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0.5}, v)

	vs, err := e.EmbedTexts(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, vs, 2)
	assert.Equal(t, []float32{2, 0.5}, vs[1])
}

func TestEmbedderNoEmbedding(t *testing.T) {
	srv := embeddingServer(t, true)
	e, err := NewEmbedder(ai.NewConfig(ai.WithAPIKey("sk-test"), ai.WithBaseURL(srv.URL)))
	require.NoError(t, err)

	_, err = e.EmbedText(context.Background(), "hello")
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrNoEmbeddingFound)
}
