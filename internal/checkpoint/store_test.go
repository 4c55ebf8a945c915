package checkpoint

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sessionPayload struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
	Phase     string `json:"phase"`
	TickIndex int    `json:"tick_index"`
}

func steppingClock(start time.Time, step time.Duration) func() time.Time {
	cur := start
	return func() time.Time {
		t := cur
		cur = cur.Add(step)
		return t
	}
}

func TestSaveThenLoadLatestRoundTrip(t *testing.T) {
	dir := t.TempDir()
	start := time.Date(2025, 10, 29, 12, 0, 0, 0, time.UTC)
	store := NewStore(dir, WithClock(steppingClock(start, time.Second)))

	want := sessionPayload{SessionID: "exec-1", Status: "running", Phase: "phase_1", TickIndex: 3}
	saved, err := store.Save("exec-1", want)
	require.NoError(t, err)
	assert.Equal(t, "session_exec-1_20251029_120000.json", filepath.Base(FileName("exec-1", saved.TakenAt)))

	fresh := NewStore(dir)
	cp, ok := fresh.LoadLatest("exec-1")
	require.True(t, ok)
	require.NoError(t, cp.Verify())

	var got sessionPayload
	require.NoError(t, cp.Decode(&got))
	assert.Equal(t, want, got)

	canonical, err := Canonicalize(want)
	require.NoError(t, err)
	recanonical, err := Canonicalize(cp.Payload)
	require.NoError(t, err)
	assert.Equal(t, string(canonical), string(recanonical))
}

func TestLoadLatestPicksNewest(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir, WithClock(steppingClock(time.Date(2025, 10, 29, 12, 0, 0, 0, time.UTC), time.Second)))

	for i := 0; i < 3; i++ {
		saved, err := store.Save("exec-1", map[string]int{"tick_index": i})
		require.NoError(t, err)
		// Distinct mtimes on coarse filesystems.
		path := filepath.Join(dir, FileName("exec-1", saved.TakenAt))
		mt := time.Now().Add(time.Duration(i) * time.Second)
		require.NoError(t, os.Chtimes(path, mt, mt))
	}

	cp, ok := store.LoadLatest("exec-1")
	require.True(t, ok)
	var got map[string]int
	require.NoError(t, cp.Decode(&got))
	assert.Equal(t, 2, got["tick_index"])
}

func TestLoadLatestRejectsTamperedChecksum(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)
	saved, err := store.Save("exec-1", map[string]string{"status": "running"})
	require.NoError(t, err)

	entries, err := store.List("exec-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)

	saved.Payload = json.RawMessage(`{"status":"completed"}`)
	data, err := json.Marshal(saved)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(entries[0].Path, data, 0o644))

	cp, ok := store.LoadLatest("exec-1")
	assert.False(t, ok)
	assert.Nil(t, cp)
}

func TestLoadLatestMissingDir(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "nope"))
	cp, ok := store.LoadLatest("exec-1")
	assert.False(t, ok)
	assert.Nil(t, cp)
}

func TestListIgnoresOtherSessions(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)
	_, err := store.Save("a", map[string]int{"x": 1})
	require.NoError(t, err)
	_, err = store.Save("a_b", map[string]int{"x": 2})
	require.NoError(t, err)

	entries, err := store.List("a")
	require.NoError(t, err)
	require.Len(t, entries, 1)

	cp, ok := store.LoadLatest("a")
	require.True(t, ok)
	var got map[string]int
	require.NoError(t, cp.Decode(&got))
	assert.Equal(t, 1, got["x"])
}

func TestSameSecondSavesDoNotCollide(t *testing.T) {
	dir := t.TempDir()
	fixed := time.Date(2025, 10, 29, 12, 0, 0, 0, time.UTC)
	store := NewStore(dir, WithClock(func() time.Time { return fixed }))

	_, err := store.Save("exec-1", map[string]string{"status": "monitoring_initialized"})
	require.NoError(t, err)
	_, err = store.Save("exec-1", map[string]string{"status": "running"})
	require.NoError(t, err)

	entries, err := store.List("exec-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "session_exec-1_20251029_120000-2.json", entries[1].Name)
}

func TestRetentionCompactsOldest(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir,
		WithRetention(3),
		WithClock(steppingClock(time.Date(2025, 10, 29, 12, 0, 0, 0, time.UTC), time.Minute)),
	)
	for i := 0; i < 5; i++ {
		_, err := store.Save("exec-1", map[string]int{"tick_index": i})
		require.NoError(t, err)
	}
	entries, err := store.List("exec-1")
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestCanonicalizeSortsKeysAndStripsWhitespace(t *testing.T) {
	out, err := Canonicalize(json.RawMessage(`{ "b": 1, "a": {"d": true, "c": [1, 2]} }`))
	require.NoError(t, err)
	assert.Equal(t, `{"a":{"c":[1,2],"d":true},"b":1}`, string(out))
}
