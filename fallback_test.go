package audit_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	audit "github.com/fanengagement/go-audit"
	"github.com/fanengagement/go-audit/memstore"
)

func TestNewFileSink_RequiresPath(t *testing.T) {
	_, err := audit.NewFileSink(audit.FileSinkConfig{})
	assert.Error(t, err)
}

func TestFileSink_AppendsJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit-fallback.jsonl")
	sink, err := audit.NewFileSink(audit.FileSinkConfig{Path: path, MaxSizeMB: 1})
	require.NoError(t, err)

	first := []audit.Event{*testEvent(t), *testEvent(t)}
	second := []audit.Event{*testEvent(t)}
	require.NoError(t, sink.Write(context.Background(), first))
	require.NoError(t, sink.Write(context.Background(), second))
	require.NoError(t, sink.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[2], second[0].ID.String())
}

func TestReplay_InsertsSpilledEvents(t *testing.T) {
	var spilled bytes.Buffer
	sink := audit.NewWriterSink(&spilled)
	events := []audit.Event{*testEvent(t), *testEvent(t), *testEvent(t)}
	require.NoError(t, sink.Write(context.Background(), events))

	store := memstore.New()
	res, err := audit.Replay(context.Background(), bytes.NewReader(spilled.Bytes()), store, 2)
	require.NoError(t, err)

	assert.Equal(t, audit.ReplayResult{Read: 3, Inserted: 3}, res)
	for _, e := range events {
		got, err := store.Get(context.Background(), e.ID)
		require.NoError(t, err)
		assert.True(t, got.Timestamp.Equal(e.Timestamp))
	}
}

func TestReplay_IsIdempotent(t *testing.T) {
	var spilled bytes.Buffer
	require.NoError(t, audit.NewWriterSink(&spilled).Write(context.Background(),
		[]audit.Event{*testEvent(t), *testEvent(t)}))

	store := memstore.New()
	for range 2 {
		_, err := audit.Replay(context.Background(), bytes.NewReader(spilled.Bytes()), store, 10)
		require.NoError(t, err)
	}
	assert.Equal(t, 2, store.Len())
}

func TestReplay_SkipsMalformedLines(t *testing.T) {
	var spilled bytes.Buffer
	require.NoError(t, audit.NewWriterSink(&spilled).Write(context.Background(), []audit.Event{*testEvent(t)}))
	spilled.WriteString("not json\n\n{\"id\":\"00000000-0000-0000-0000-000000000000\"}\n")

	store := memstore.New()
	res, err := audit.Replay(context.Background(), &spilled, store, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Read)
	assert.Equal(t, 2, res.Skipped)
	assert.Equal(t, 1, store.Len())
}

func TestReplay_StoreError(t *testing.T) {
	var spilled bytes.Buffer
	require.NoError(t, audit.NewWriterSink(&spilled).Write(context.Background(), []audit.Event{*testEvent(t)}))

	store := newFlakyStore()
	store.setErr(errStorageDown)
	_, err := audit.Replay(context.Background(), &spilled, store, 10)
	assert.ErrorIs(t, err, errStorageDown)
}
