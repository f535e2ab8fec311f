package generate_rows

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/hopgrid/internal/config"
	"github.com/vk/hopgrid/internal/registry"
	"github.com/vk/hopgrid/internal/row"
	"github.com/vk/hopgrid/internal/testutil"
)

func TestGenerateRows(t *testing.T) {
	out := testutil.RunStep(t, testutil.StepRun{
		Type: "generate_rows",
		Options: config.Options{
			"limit": "${ROWS}",
			"fields": []any{
				map[string]any{"name": "id", "type": "integer", "value": 7},
				map[string]any{"name": "label", "value": "${PREFIX}-x"},
			},
		},
		Params:  map[string]string{"ROWS": "4", "PREFIX": "batch"},
		Modules: []registry.Module{&Module{}},
	})

	require.NoError(t, out.Err)
	assert.True(t, out.Result.Success)
	require.Len(t, out.Out(), 4)
	for _, r := range out.Out() {
		assert.Equal(t, row.Row{int64(7), "batch-x"}, r)
	}
	assert.Equal(t, []string{"id", "label"}, out.Metas[testutil.Output].Names())
}

func TestGenerateRows_NeverEndingStopsOnTimeout(t *testing.T) {
	out := testutil.RunStep(t, testutil.StepRun{
		Type: "generate_rows",
		Options: config.Options{
			"never_ending": true,
			"interval":     "5ms",
			"fields":       []any{map[string]any{"name": "a", "value": "x"}},
		},
		Modules: []registry.Module{&Module{}},
		Timeout: 100 * time.Millisecond,
	})

	assert.NotEmpty(t, out.Out())
	assert.True(t, out.Result.Stopped)
	assert.Zero(t, out.Result.NrErrors)
}

func TestGenerateRows_InvalidOptions(t *testing.T) {
	testCases := []struct {
		name    string
		options config.Options
		wantErr string
	}{
		{name: "bad limit", options: config.Options{"limit": "many"}, wantErr: `invalid limit "many"`},
		{name: "bad value", options: config.Options{"fields": []any{map[string]any{"name": "n", "type": "integer", "value": "x"}}}, wantErr: `field "n"`},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			out := testutil.RunStep(t, testutil.StepRun{Type: "generate_rows", Options: tc.options, Modules: []registry.Module{&Module{}}})
			require.Error(t, out.Err)
			assert.Contains(t, out.Err.Error(), tc.wantErr)
			assert.False(t, out.Result.Success)
		})
	}
}
