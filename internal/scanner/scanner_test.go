package scanner_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/corpusd/internal/scanner"
	"github.com/fyrsmithlabs/corpusd/internal/syncer"
)

// fakeSyncer records the paths it was asked to sync and returns canned
// statuses per path.
type fakeSyncer struct {
	mu       sync.Mutex
	seen     []string
	statuses map[string]syncer.Status
	errs     map[string]error
}

func (f *fakeSyncer) AddOrUpdate(ctx context.Context, path string) (syncer.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, path)
	if err, ok := f.errs[path]; ok {
		return syncer.StatusFailed, err
	}
	if status, ok := f.statuses[path]; ok {
		return status, nil
	}
	return syncer.StatusIndexed, nil
}

func (f *fakeSyncer) paths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.seen...)
}

func supported(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".md" || ext == ".txt"
}

func writeFile(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("content of "+name), 0o644))
	return path
}

func TestScan_WalksTreeAndCounts(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.md")
	b := writeFile(t, dir, "nested/b.txt")
	writeFile(t, dir, "image.png")
	writeFile(t, dir, "deep/more/c.md")

	fake := &fakeSyncer{statuses: map[string]syncer.Status{
		b: syncer.StatusUnchanged,
	}}
	sc := scanner.New(fake, supported, 2, nil)

	result, err := sc.Scan(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, 2, result.Indexed)
	assert.Equal(t, 1, result.Unchanged)
	assert.Equal(t, 1, result.Skipped)
	assert.Zero(t, result.Failed)
	assert.Contains(t, fake.paths(), a)
	assert.Contains(t, fake.paths(), b)
	assert.Len(t, fake.paths(), 3)
}

func TestScan_PerFileFailureDoesNotAbort(t *testing.T) {
	dir := t.TempDir()
	bad := writeFile(t, dir, "bad.md")
	writeFile(t, dir, "good.md")

	fake := &fakeSyncer{errs: map[string]error{
		bad: errors.New("parse failure"),
	}}
	sc := scanner.New(fake, supported, 1, nil)

	result, err := sc.Scan(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Indexed)
	assert.Equal(t, 1, result.Failed)
	assert.Len(t, fake.paths(), 2)
}

func TestScan_MissingRootIsFatal(t *testing.T) {
	sc := scanner.New(&fakeSyncer{}, supported, 1, nil)
	_, err := sc.Scan(context.Background(), filepath.Join(t.TempDir(), "absent"))
	require.Error(t, err)
}

func TestScan_EmptyTree(t *testing.T) {
	sc := scanner.New(&fakeSyncer{}, supported, 4, nil)
	result, err := sc.Scan(context.Background(), t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, scanner.Result{}, result)
}

func TestScan_CancelledContext(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.md")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sc := scanner.New(&fakeSyncer{}, supported, 1, nil)
	_, err := sc.Scan(ctx, dir)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
