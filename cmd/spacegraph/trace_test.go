package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spacegraph/internal/codec"
	"spacegraph/internal/domain"
	"spacegraph/internal/repository/sqlite"
)

var t0 = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func seedTrace(t *testing.T, path string) {
	t.Helper()
	repo, err := sqlite.New(path)
	require.NoError(t, err)
	defer repo.Close()

	ctx := context.Background()
	require.NoError(t, repo.Record(ctx, 1, []domain.Incoming{
		{Source: "h", Seq: 0, At: t0, Delta: domain.UpsertNode{ID: "p", Kind: domain.NodeKindProcess}},
		{Source: "h", Seq: 1, At: t0, Delta: domain.UpsertNode{ID: "f", Kind: domain.NodeKindFile}},
	}))
	require.NoError(t, repo.Record(ctx, 2, []domain.Incoming{
		{Source: "h", Seq: 2, At: t0.Add(time.Second), Delta: domain.UpsertEdge{From: "p", To: "f", Kind: domain.EdgeKindOpens}},
	}))
}

// isolate keeps the config search away from the host
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("SPACEGRAPH_CONFIG", "")
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv("HOME", dir)
	return dir
}

func run(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		traceDB, traceFile, configPath = "", "", ""
	})
	require.NoError(t, rootCmd.Execute())
	return out.String()
}

func TestExportThenReplayFile(t *testing.T) {
	dir := isolate(t)
	db := filepath.Join(dir, "trace.db")
	seedTrace(t, db)

	out := filepath.Join(dir, "trace.jsonl.zst")
	msg := run(t, "export", "--db", db, "-o", out)
	assert.Contains(t, msg, "exported 3 records")

	f, err := os.Open(out)
	require.NoError(t, err)
	defer f.Close()
	tr, err := codec.NewTraceReader(f)
	require.NoError(t, err)
	defer tr.Close()
	rec, err := tr.Next()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), rec.Tick)

	var fromDB, fromFile replayResult
	require.NoError(t, json.Unmarshal([]byte(run(t, "replay", "--db", db)), &fromDB))
	require.NoError(t, json.Unmarshal([]byte(run(t, "replay", "--file", out)), &fromFile))

	assert.Equal(t, 2, fromDB.Ticks)
	assert.Equal(t, 2, fromDB.Stats.Nodes)
	assert.Equal(t, 1, fromDB.Stats.Edges)
	assert.Equal(t, fromDB.Digest, fromFile.Digest)
}

func TestReplayWithoutTrace(t *testing.T) {
	isolate(t)
	rootCmd.SetArgs([]string{"replay"})
	rootCmd.SetErr(&bytes.Buffer{})
	assert.Error(t, rootCmd.Execute())
}
