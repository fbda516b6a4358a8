package syncer_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/corpusd/internal/ingest"
	"github.com/fyrsmithlabs/corpusd/internal/syncer"
	"github.com/fyrsmithlabs/corpusd/internal/tracker"
	"github.com/fyrsmithlabs/corpusd/internal/vectorstore"
)

// fakeProvider returns deterministic 4-dimensional vectors derived from the
// text length. Set fail to force embedding errors.
type fakeProvider struct {
	mu    sync.Mutex
	calls int
	fail  bool
}

func (f *fakeProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail {
		return nil, errors.New("embedding service down")
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 1, 0, 0}
	}
	return out, nil
}

func (f *fakeProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := f.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (f *fakeProvider) Dimension() int { return 4 }

func (f *fakeProvider) embedCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fixture struct {
	engine   *syncer.Engine
	store    *vectorstore.ChromemStore
	provider *fakeProvider
	tracker  *tracker.Tracker
	dir      string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()

	tr, err := tracker.New(filepath.Join(dir, "hashes.json"))
	require.NoError(t, err)

	store, err := vectorstore.NewChromemStore(vectorstore.ChromemConfig{}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	provider := &fakeProvider{}
	engine, err := syncer.New(tr, ingest.New(ingest.Config{}), provider, store, syncer.Options{
		Collection: "test_corpus",
	}, nil)
	require.NoError(t, err)
	require.NoError(t, engine.Init(context.Background()))

	return &fixture{engine: engine, store: store, provider: provider, tracker: tr, dir: dir}
}

func (f *fixture) writeDoc(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(f.dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func (f *fixture) chunksFor(t *testing.T, source string) []vectorstore.SearchResult {
	t.Helper()
	results, err := f.store.Search(context.Background(), "test_corpus",
		[]float32{1, 1, 0, 0}, 100, map[string]any{"source": source})
	require.NoError(t, err)
	return results
}

func TestNew_Validation(t *testing.T) {
	tr, err := tracker.New("hashes.json")
	require.NoError(t, err)
	store, err := vectorstore.NewChromemStore(vectorstore.ChromemConfig{}, nil)
	require.NoError(t, err)
	defer store.Close()

	_, err = syncer.New(tr, ingest.New(ingest.Config{}), &fakeProvider{}, store, syncer.Options{
		Collection: "Bad Name",
	}, nil)
	assert.ErrorIs(t, err, vectorstore.ErrInvalidCollectionName)

	_, err = syncer.New(nil, nil, nil, nil, syncer.Options{Collection: "ok"}, nil)
	assert.ErrorIs(t, err, syncer.ErrInvalidConfig)
}

func TestAddOrUpdate_IndexesNewDocument(t *testing.T) {
	f := newFixture(t)
	path := f.writeDoc(t, "intro.md", "# Intro\n\nsome body text")

	status, err := f.engine.AddOrUpdate(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, syncer.StatusIndexed, status)

	chunks := f.chunksFor(t, path)
	require.Len(t, chunks, 1)
	assert.Contains(t, chunks[0].Text, "some body text")

	hashes, err := f.tracker.Load()
	require.NoError(t, err)
	assert.Contains(t, hashes, path)
}

func TestAddOrUpdate_UnchangedSkipsEmbedding(t *testing.T) {
	f := newFixture(t)
	path := f.writeDoc(t, "intro.md", "stable content")

	status, err := f.engine.AddOrUpdate(context.Background(), path)
	require.NoError(t, err)
	require.Equal(t, syncer.StatusIndexed, status)
	callsAfterFirst := f.provider.embedCalls()

	status, err = f.engine.AddOrUpdate(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, syncer.StatusUnchanged, status)
	assert.Equal(t, callsAfterFirst, f.provider.embedCalls())
}

func TestAddOrUpdate_ChangeReplacesAllChunks(t *testing.T) {
	f := newFixture(t)
	path := f.writeDoc(t, "doc.md", "# One\n\nfirst\n\n# Two\n\nsecond")

	_, err := f.engine.AddOrUpdate(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, f.chunksFor(t, path), 2)

	// Shrink the document; stale chunks must not survive.
	f.writeDoc(t, "doc.md", "# Only\n\nnew body")
	status, err := f.engine.AddOrUpdate(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, syncer.StatusIndexed, status)

	chunks := f.chunksFor(t, path)
	require.Len(t, chunks, 1)
	assert.Contains(t, chunks[0].Text, "new body")
}

func TestAddOrUpdate_EmbedFailureKeepsPriorState(t *testing.T) {
	f := newFixture(t)
	path := f.writeDoc(t, "doc.md", "original content")

	_, err := f.engine.AddOrUpdate(context.Background(), path)
	require.NoError(t, err)
	hashesBefore, err := f.tracker.Load()
	require.NoError(t, err)

	f.writeDoc(t, "doc.md", "updated content")
	f.provider.fail = true

	status, err := f.engine.AddOrUpdate(context.Background(), path)
	require.Error(t, err)
	assert.Equal(t, syncer.StatusFailed, status)

	// Prior chunks and hash are untouched.
	chunks := f.chunksFor(t, path)
	require.Len(t, chunks, 1)
	assert.Contains(t, chunks[0].Text, "original content")

	hashesAfter, err := f.tracker.Load()
	require.NoError(t, err)
	assert.Equal(t, hashesBefore, hashesAfter)

	// Once the service recovers the change is picked up.
	f.provider.fail = false
	status, err = f.engine.AddOrUpdate(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, syncer.StatusIndexed, status)
	assert.Contains(t, f.chunksFor(t, path)[0].Text, "updated content")
}

func TestAddOrUpdate_EmptyDocument(t *testing.T) {
	f := newFixture(t)
	path := f.writeDoc(t, "empty.txt", "   \n\n  ")

	status, err := f.engine.AddOrUpdate(context.Background(), path)
	require.Error(t, err)
	assert.ErrorIs(t, err, syncer.ErrNoContent)
	assert.Equal(t, syncer.StatusFailed, status)

	hashes, err := f.tracker.Load()
	require.NoError(t, err)
	assert.NotContains(t, hashes, path)
}

func TestAddOrUpdate_MissingFile(t *testing.T) {
	f := newFixture(t)

	status, err := f.engine.AddOrUpdate(context.Background(), filepath.Join(f.dir, "absent.md"))
	require.Error(t, err)
	assert.Equal(t, syncer.StatusFailed, status)
}

func TestRemove(t *testing.T) {
	f := newFixture(t)
	path := f.writeDoc(t, "doc.md", "to be removed")

	_, err := f.engine.AddOrUpdate(context.Background(), path)
	require.NoError(t, err)

	require.NoError(t, f.engine.Remove(context.Background(), path))

	assert.Empty(t, f.chunksFor(t, path))
	hashes, err := f.tracker.Load()
	require.NoError(t, err)
	assert.NotContains(t, hashes, path)
}

func TestRemove_UntrackedPathIsNoop(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.engine.Remove(context.Background(), filepath.Join(f.dir, "never-seen.md")))
}

func TestAddOrUpdate_ConcurrentSamePath(t *testing.T) {
	f := newFixture(t)
	path := f.writeDoc(t, "doc.md", "concurrent content")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.AddOrUpdate(context.Background(), path)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	// Per-path serialization plus the hash check mean exactly one full
	// index happened; no duplicate chunks.
	chunks := f.chunksFor(t, path)
	assert.Len(t, chunks, 1)
}

func TestAddOrUpdate_DistinctPathsConcurrently(t *testing.T) {
	f := newFixture(t)

	paths := make([]string, 5)
	for i := range paths {
		paths[i] = f.writeDoc(t, fmt.Sprintf("doc%d.txt", i), fmt.Sprintf("content %d", i))
	}

	var wg sync.WaitGroup
	for _, p := range paths {
		wg.Add(1)
		go func(p string) {
			defer wg.Done()
			status, err := f.engine.AddOrUpdate(context.Background(), p)
			assert.NoError(t, err)
			assert.Equal(t, syncer.StatusIndexed, status)
		}(p)
	}
	wg.Wait()

	for _, p := range paths {
		assert.Len(t, f.chunksFor(t, p), 1)
	}
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "unchanged", syncer.StatusUnchanged.String())
	assert.Equal(t, "indexed", syncer.StatusIndexed.String())
	assert.Equal(t, "removed", syncer.StatusRemoved.String())
	assert.Equal(t, "failed", syncer.StatusFailed.String())
}
