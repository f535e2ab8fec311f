package yaml_adapter

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/hopgrid/internal/config"
)

const definitions = `
transformations:
  - name: copy_orders
    rowset_size: 200
    parameters:
      SCHEMA: public
    steps:
      - name: read
        type: table_input
        options:
          connection: postgres
          sql: SELECT * FROM ${SCHEMA}.orders
          commit_size: 100
          ratio: 0.25
          fields:
            - name: id
              type: integer
      - name: write
        type: table_output
        copies: 2
        error_handling:
          target: rejects
          codes_field: error_code
          max_percent_errors: 10
          min_percent_rows: 100
      - name: rejects
        type: dummy
    hops:
      - from: read
        to: write
        distribution: copy-to-all
      - from: write
        to: rejects
        error: true
---
jobs:
  - name: nightly
    entries:
      - name: begin
        type: start
        options:
          schedule: "0 2 * * *"
      - name: load
        type: trans
        keep_errors: true
        options:
          trans: copy_orders
    hops:
      - from: begin
        to: load
        condition: success
      - from: load
        to: begin
        enabled: false
`

func TestLoader_Load(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "defs.yaml"), []byte(definitions), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	model, err := NewLoader().Load(context.Background(), dir)
	require.NoError(t, err)

	tr, err := model.Transformation("copy_orders")
	require.NoError(t, err)
	assert.Equal(t, 200, tr.RowSetSize)
	assert.Equal(t, "public", tr.Parameters["SCHEMA"])

	read := tr.StepByName("read")
	require.NotNil(t, read)
	assert.Equal(t, 1, read.Copies)
	assert.Equal(t, "SELECT * FROM ${SCHEMA}.orders", read.Options.String("sql", ""))
	assert.Equal(t, 100, read.Options.Int("commit_size", 0))
	assert.Equal(t, 0.25, read.Options["ratio"])
	require.Len(t, read.Options.Objects("fields"), 1)

	write := tr.StepByName("write")
	assert.Equal(t, 2, write.Copies)
	require.NotNil(t, write.ErrorHandling)
	assert.Equal(t, "rejects", write.ErrorHandling.Target)
	assert.Equal(t, 10, write.ErrorHandling.MaxPercentErrors)
	assert.Equal(t, int64(100), write.ErrorHandling.MinPercentRows)

	assert.Equal(t, config.CopyToAll, tr.Hops[0].Distribution)
	assert.True(t, tr.Hops[1].Error)
	assert.NotNil(t, tr.StepByName("rejects").Options)

	j, err := model.Job("nightly")
	require.NoError(t, err)
	assert.Equal(t, "0 2 * * *", j.EntryByName("begin").Options.String("schedule", ""))
	assert.True(t, j.EntryByName("load").KeepErrors)
	assert.Equal(t, config.OnSuccess, j.Hops[0].Condition)
	assert.False(t, j.Hops[0].Disabled)
	assert.True(t, j.Hops[1].Disabled)
}

func TestLoader_Errors(t *testing.T) {
	testCases := []struct {
		name    string
		content string
		wantErr string
	}{
		{name: "unknown field", content: "jobs:\n  - name: x\n    colour: red\n", wantErr: "field colour not found"},
		{name: "malformed", content: "jobs: [", wantErr: "failed to decode YAML file"},
		{name: "duplicate", content: "jobs:\n  - name: x\n  - name: x\n", wantErr: `job "x" defined more than once`},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "defs.yml")
			require.NoError(t, os.WriteFile(path, []byte(tc.content), 0o644))
			_, err := NewLoader().Load(context.Background(), path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}
