package journal

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewWriter_CreatesDirIfMissing(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "journal")
	w := NewWriter(dir)
	require.Equal(t, dir, w.dir)
	info, err := os.Stat(dir)
	require.NoError(t, err)
	require.True(t, info.IsDir())
}

func TestWriteCycle_NilRecordErrors(t *testing.T) {
	w := NewWriter(t.TempDir())
	_, err := w.WriteCycle(nil)
	require.Error(t, err)
}

func TestWriteCycle_WritesJSONAndIncrementsSequence(t *testing.T) {
	w := NewWriter(t.TempDir())
	w.nowFn = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

	path1, err := w.WriteCycle(&CycleRecord{TraderID: "strat-1", Success: true})
	require.NoError(t, err)
	path2, err := w.WriteCycle(&CycleRecord{TraderID: "strat-1", Success: false, ErrorMessage: "timeout"})
	require.NoError(t, err)
	require.NotEqual(t, path1, path2)

	data, err := os.ReadFile(path2)
	require.NoError(t, err)
	var rec CycleRecord
	require.NoError(t, json.Unmarshal(data, &rec))
	require.Equal(t, 2, rec.CycleNumber)
	require.Equal(t, "timeout", rec.ErrorMessage)
}
