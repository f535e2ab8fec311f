package fields

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/hopgrid/internal/config"
	"github.com/vk/hopgrid/internal/row"
	"github.com/vk/hopgrid/internal/variables"
)

func TestParseAndValues(t *testing.T) {
	fs, err := Parse([]config.Options{
		{"name": "greeting", "value": "hello ${WHO}"},
		{"name": "count", "type": "integer", "value": "42"},
		{"name": "day", "type": "date", "format": "2006-01-02", "value": "2024-03-01"},
		{"name": "empty", "type": "number", "value": ""},
		{"name": "flag", "type": "boolean", "value": true},
	})
	require.NoError(t, err)
	require.Len(t, fs, 5)
	assert.Equal(t, row.TypeString, fs[0].Meta.Type)

	values, err := Values(fs, variables.NewProcess(map[string]string{"WHO": "world"}))
	require.NoError(t, err)
	assert.Equal(t, "hello world", values[0])
	assert.Equal(t, int64(42), values[1])
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), values[2])
	assert.Nil(t, values[3])
	assert.Equal(t, true, values[4])

	meta := row.NewMeta(Metas(fs)...)
	assert.NoError(t, meta.Conforms(values))
}

func TestParse_Errors(t *testing.T) {
	testCases := []struct {
		name    string
		fields  []config.Options
		wantErr string
	}{
		{name: "missing name", fields: []config.Options{{"type": "string"}}, wantErr: `option "name" is required`},
		{name: "bad type", fields: []config.Options{{"name": "a", "type": "colour"}}, wantErr: "unknown value type"},
		{name: "duplicate", fields: []config.Options{{"name": "a"}, {"name": "a"}}, wantErr: "declared more than once"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(tc.fields)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestValues_ConversionError(t *testing.T) {
	fs, err := Parse([]config.Options{{"name": "n", "type": "integer", "value": "abc"}})
	require.NoError(t, err)
	_, err = Values(fs, variables.NewProcess(nil))
	assert.ErrorContains(t, err, `field "n"`)
}
