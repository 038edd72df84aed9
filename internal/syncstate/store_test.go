package syncstate

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tempStatePath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "last_sync.json")
}

func uriSet(uris ...string) map[string]struct{} {
	out := make(map[string]struct{}, len(uris))
	for _, u := range uris {
		out[u] = struct{}{}
	}
	return out
}

func TestFileStore_EmptyDefaultsForUnseenSource(t *testing.T) {
	store, err := NewFileStore(tempStatePath(t))
	require.NoError(t, err)

	state, err := store.SourceState("bluesky")
	require.NoError(t, err)
	assert.Empty(t, state.LastTimestamp)
	assert.Empty(t, state.SeenURIs)
}

func TestFileStore_UpdateThenReadBack(t *testing.T) {
	path := tempStatePath(t)
	store, err := NewFileStore(path)
	require.NoError(t, err)

	uris := uriSet("at://test/1", "at://test/2")
	require.NoError(t, store.UpdateSourceState("bluesky", "2026-01-15T10:00:00Z", uris))

	// Re-open from disk: update must have persisted immediately.
	reopened, err := NewFileStore(path)
	require.NoError(t, err)
	state, err := reopened.SourceState("bluesky")
	require.NoError(t, err)
	assert.Equal(t, "2026-01-15T10:00:00Z", state.LastTimestamp)
	assert.Equal(t, uris, state.SeenURIs)
}

func TestFileStore_SourcesAreIndependent(t *testing.T) {
	store, err := NewFileStore(tempStatePath(t))
	require.NoError(t, err)

	require.NoError(t, store.UpdateSourceState("bluesky", "2026-01-15T10:00:00Z", uriSet("at://test/1")))
	require.NoError(t, store.UpdateSourceState("scholarshipdb", "2026-02-01T00:00:00Z", uriSet("scholarshipdb://abc")))

	bsky, err := store.SourceState("bluesky")
	require.NoError(t, err)
	sdb, err := store.SourceState("scholarshipdb")
	require.NoError(t, err)

	assert.Equal(t, "2026-01-15T10:00:00Z", bsky.LastTimestamp)
	assert.Equal(t, "2026-02-01T00:00:00Z", sdb.LastTimestamp)
	assert.NotContains(t, bsky.SeenURIs, "scholarshipdb://abc")

	sources, err := store.Sources()
	require.NoError(t, err)
	assert.Equal(t, []string{"bluesky", "scholarshipdb"}, sources)
}

func TestFileStore_MigratesLegacyDocument(t *testing.T) {
	path := tempStatePath(t)
	legacy := `{
		"last_timestamp": "2026-01-01T00:00:00Z",
		"seen_uris": ["at://test/1", "at://test/2"],
		"updated_at": "2026-01-01T01:00:00Z"
	}`
	require.NoError(t, os.WriteFile(path, []byte(legacy), 0o644))

	store, err := NewFileStore(path)
	require.NoError(t, err)

	// Legacy data is attributed to the bluesky source.
	state, err := store.SourceState("bluesky")
	require.NoError(t, err)
	assert.Equal(t, "2026-01-01T00:00:00Z", state.LastTimestamp)
	assert.Equal(t, uriSet("at://test/1", "at://test/2"), state.SeenURIs)

	// The migrated form is persisted before any read returns.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Contains(t, doc, "version")
	assert.Contains(t, doc, "sources")
}

func TestFileStore_MigrationIsIdempotent(t *testing.T) {
	path := tempStatePath(t)
	legacy := `{"last_timestamp": "2026-01-01T00:00:00Z", "seen_uris": ["at://test/1"]}`
	require.NoError(t, os.WriteFile(path, []byte(legacy), 0o644))

	first, err := NewFileStore(path)
	require.NoError(t, err)
	firstState, err := first.SourceState("bluesky")
	require.NoError(t, err)

	// Loading the already-migrated file again yields the same result.
	second, err := NewFileStore(path)
	require.NoError(t, err)
	secondState, err := second.SourceState("bluesky")
	require.NoError(t, err)

	assert.Equal(t, firstState.LastTimestamp, secondState.LastTimestamp)
	assert.Equal(t, firstState.SeenURIs, secondState.SeenURIs)
}

func TestFileStore_CorruptFileTreatedAsEmpty(t *testing.T) {
	path := tempStatePath(t)
	require.NoError(t, os.WriteFile(path, []byte("{not json at all"), 0o644))

	store, err := NewFileStore(path)
	require.NoError(t, err, "corrupt state must not be fatal")

	state, err := store.SourceState("bluesky")
	require.NoError(t, err)
	assert.Empty(t, state.LastTimestamp)
	assert.Empty(t, state.SeenURIs)
}

func TestFileStore_MissingFileTreatedAsEmpty(t *testing.T) {
	store, err := NewFileStore(filepath.Join(t.TempDir(), "nope", "..", "fresh.json"))
	require.NoError(t, err)

	state, err := store.SourceState("scholarshipdb")
	require.NoError(t, err)
	assert.Empty(t, state.SeenURIs)
}

func TestFileStore_ClearSource(t *testing.T) {
	path := tempStatePath(t)
	store, err := NewFileStore(path)
	require.NoError(t, err)

	require.NoError(t, store.UpdateSourceState("bluesky", "2026-01-15T10:00:00Z", uriSet("at://test/1")))
	require.NoError(t, store.ClearSource("bluesky"))

	state, err := store.SourceState("bluesky")
	require.NoError(t, err)
	assert.Empty(t, state.LastTimestamp)
	assert.Empty(t, state.SeenURIs)

	// Clearing a source that has no state is a no-op.
	require.NoError(t, store.ClearSource("scholarshipdb"))
}

func TestFileStore_UpdateReplacesState(t *testing.T) {
	path := tempStatePath(t)
	store, err := NewFileStore(path)
	require.NoError(t, err)

	require.NoError(t, store.UpdateSourceState("bluesky", "2026-01-10T00:00:00Z", uriSet("at://a", "at://b")))
	require.NoError(t, store.UpdateSourceState("bluesky", "2026-01-20T00:00:00Z", uriSet("at://c")))

	state, err := store.SourceState("bluesky")
	require.NoError(t, err)
	assert.Equal(t, "2026-01-20T00:00:00Z", state.LastTimestamp)
	assert.Equal(t, uriSet("at://c"), state.SeenURIs, "update replaces, not merges")
}
