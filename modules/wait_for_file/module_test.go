package wait_for_file

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/hopgrid/internal/config"
	"github.com/vk/hopgrid/internal/registry"
	"github.com/vk/hopgrid/internal/testutil"
)

func TestWaitForFile_AlreadyThere(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ready.flag")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	out := testutil.RunEntry(t, testutil.EntryRun{
		Type:    "wait_for_file",
		Options: config.Options{"file": "${DIR}/ready.flag", "add_to_result": true},
		Params:  map[string]string{"DIR": dir},
		Modules: []registry.Module{&Module{}},
	})

	require.NoError(t, out.Err)
	assert.True(t, out.Result.Success)
	assert.Contains(t, out.Result.Files, path)
}

func TestWaitForFile_Appears(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "later.csv")
	go func() {
		time.Sleep(200 * time.Millisecond)
		_ = os.WriteFile(filepath.Join(dir, "other.csv"), nil, 0o644)
		_ = os.WriteFile(path, []byte("x"), 0o644)
	}()

	out := testutil.RunEntry(t, testutil.EntryRun{
		Type:    "wait_for_file",
		Options: config.Options{"file": path, "timeout": "5s"},
		Modules: []registry.Module{&Module{}},
	})

	require.NoError(t, out.Err)
	assert.True(t, out.Result.Success)
	assert.Contains(t, out.Logs, "File found.")
}

func TestWaitForFile_Timeout(t *testing.T) {
	testCases := []struct {
		name             string
		successOnTimeout bool
		wantErr          bool
	}{
		{name: "fails", wantErr: true},
		{name: "success on timeout", successOnTimeout: true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			out := testutil.RunEntry(t, testutil.EntryRun{
				Type: "wait_for_file",
				Options: config.Options{
					"file":               filepath.Join(t.TempDir(), "never"),
					"timeout":            100,
					"success_on_timeout": tc.successOnTimeout,
				},
				Modules: []registry.Module{&Module{}},
			})
			if tc.wantErr {
				assert.ErrorIs(t, out.Err, ErrTimeout)
				assert.False(t, out.Result.Success)
				return
			}
			require.NoError(t, out.Err)
			assert.True(t, out.Result.Success)
		})
	}
}

func TestNewEntry_RequiresFile(t *testing.T) {
	_, err := newEntry(nil, config.Options{})
	assert.ErrorContains(t, err, `option "file" is required`)
}
