package env_vars

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/hopgrid/internal/config"
	"github.com/vk/hopgrid/internal/registry"
	"github.com/vk/hopgrid/internal/testutil"
)

func TestEnvVars_Prefix(t *testing.T) {
	t.Setenv("HOPGRID_T_DB_HOST", "db.local")
	t.Setenv("HOPGRID_T_DB_PORT", "5432")
	t.Setenv("OTHER_T_VALUE", "x")

	out := testutil.RunEntry(t, testutil.EntryRun{
		Type:    "env_vars",
		Options: config.Options{"prefix": "HOPGRID_T_", "strip_prefix": true, "level": "process"},
		Modules: []registry.Module{&Module{}},
	})

	require.NoError(t, out.Err)
	v, _ := out.Process.Get("DB_HOST")
	assert.Equal(t, "db.local", v)
	v, _ = out.Process.Get("DB_PORT")
	assert.Equal(t, "5432", v)
	_, ok := out.Process.Get("OTHER_T_VALUE")
	assert.False(t, ok)
}

func TestEnvVars_Names(t *testing.T) {
	t.Setenv("HOPGRID_T_TOKEN", "secret")

	out := testutil.RunEntry(t, testutil.EntryRun{
		Type:    "env_vars",
		Options: config.Options{"names": []any{"HOPGRID_T_TOKEN", "HOPGRID_T_ABSENT"}},
		Modules: []registry.Module{&Module{}},
	})

	require.NoError(t, out.Err)
	v, ok := out.Job.Scope().Local("HOPGRID_T_TOKEN")
	assert.True(t, ok)
	assert.Equal(t, "secret", v)
	_, ok = out.Job.Scope().Local("HOPGRID_T_ABSENT")
	assert.False(t, ok)
}
