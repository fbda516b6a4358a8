package embeddings_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/corpusd/internal/embeddings"
)

// embedServer fakes a TEI /embed endpoint returning one fixed-size vector
// per input.
func embedServer(t *testing.T, dim int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/embed", r.URL.Path)

		var req struct {
			Inputs []string `json:"inputs"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		vectors := make([][]float32, len(req.Inputs))
		for i := range vectors {
			v := make([]float32, dim)
			for j := range v {
				v[j] = float32(i + 1)
			}
			vectors[i] = v
		}
		require.NoError(t, json.NewEncoder(w).Encode(vectors))
	}))
}

func TestNewService_RequiresBaseURL(t *testing.T) {
	_, err := embeddings.NewService(embeddings.Config{})
	require.Error(t, err)
	assert.ErrorIs(t, err, embeddings.ErrInvalidConfig)
}

func TestEmbedDocuments(t *testing.T) {
	srv := embedServer(t, 4)
	defer srv.Close()

	svc, err := embeddings.NewService(embeddings.Config{BaseURL: srv.URL})
	require.NoError(t, err)

	vectors, err := svc.EmbedDocuments(context.Background(), []string{"alpha", "beta"})
	require.NoError(t, err)
	require.Len(t, vectors, 2)
	assert.Len(t, vectors[0], 4)
	assert.Len(t, vectors[1], 4)
	assert.Equal(t, float32(1), vectors[0][0])
	assert.Equal(t, float32(2), vectors[1][0])
}

func TestEmbedDocuments_EmptyInput(t *testing.T) {
	svc, err := embeddings.NewService(embeddings.Config{BaseURL: "http://localhost:1"})
	require.NoError(t, err)

	_, err = svc.EmbedDocuments(context.Background(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, embeddings.ErrEmptyInput)
}

func TestEmbedDocuments_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	svc, err := embeddings.NewService(embeddings.Config{BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = svc.EmbedDocuments(context.Background(), []string{"alpha"})
	require.Error(t, err)
	assert.ErrorIs(t, err, embeddings.ErrEmbeddingFailed)
	assert.Contains(t, err.Error(), "503")
}

func TestEmbedDocuments_CountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewEncoder(w).Encode([][]float32{{1, 2}}))
	}))
	defer srv.Close()

	svc, err := embeddings.NewService(embeddings.Config{BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = svc.EmbedDocuments(context.Background(), []string{"alpha", "beta"})
	require.Error(t, err)
	assert.ErrorIs(t, err, embeddings.ErrEmbeddingFailed)
}

func TestEmbedQuery(t *testing.T) {
	srv := embedServer(t, 3)
	defer srv.Close()

	svc, err := embeddings.NewService(embeddings.Config{BaseURL: srv.URL})
	require.NoError(t, err)

	vector, err := svc.EmbedQuery(context.Background(), "question")
	require.NoError(t, err)
	assert.Len(t, vector, 3)
}

func TestDimension_LockedOnFirstSuccess(t *testing.T) {
	dim := 4
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		v := make([]float32, dim)
		require.NoError(t, json.NewEncoder(w).Encode([][]float32{v}))
	}))
	defer srv.Close()

	svc, err := embeddings.NewService(embeddings.Config{BaseURL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, 0, svc.Dimension())

	_, err = svc.EmbedQuery(context.Background(), "probe")
	require.NoError(t, err)
	assert.Equal(t, 4, svc.Dimension())

	// A response with a different dimension is rejected, and the locked
	// dimension does not move.
	dim = 7
	_, err = svc.EmbedQuery(context.Background(), "drifted")
	require.Error(t, err)
	assert.ErrorIs(t, err, embeddings.ErrDimensionMismatch)
	assert.Equal(t, 4, svc.Dimension())
}

func TestAuthorizationHeader(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewEncoder(w).Encode([][]float32{{1}}))
	}))
	defer srv.Close()

	svc, err := embeddings.NewService(embeddings.Config{BaseURL: srv.URL, APIKey: "sk-test"})
	require.NoError(t, err)

	_, err = svc.EmbedQuery(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, "Bearer sk-test", gotAuth)
}
