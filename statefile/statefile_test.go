package statefile

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReadJSONMissingFile(t *testing.T) {
	var out map[string]string
	ok, err := ReadJSON(filepath.Join(t.TempDir(), "absent.json"), &out)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestWriteThenReadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "state.json")
	in := map[string]any{"keys": map[string]any{"abc": "def"}}
	require.NoError(t, WriteJSON(path, in))

	var out map[string]any
	ok, err := ReadJSON(path, &out)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "def", out["keys"].(map[string]any)["abc"])
}

func TestWriteJSONLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	require.NoError(t, WriteJSON(path, map[string]int{"a": 1}))
	require.NoError(t, WriteJSON(path, map[string]int{"a": 2}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestAppendLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	require.NoError(t, AppendLine(path, []byte(`{"event":"a"}`)))
	require.NoError(t, AppendLine(path, []byte(`{"event":"b"}`)))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 2)
	require.Equal(t, `{"event":"a"}`, lines[0])
}
