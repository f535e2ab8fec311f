package result

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/hopgrid/internal/row"
)

func TestNew_IsSuccessful(t *testing.T) {
	r := New()
	assert.True(t, r.Success)
	assert.Zero(t, r.NrErrors)
	assert.Nil(t, r.ExitStatus)
}

func TestClone_IsIndependent(t *testing.T) {
	meta := row.NewMeta(row.ValueMeta{Name: "n", Type: row.TypeInteger})
	r := New()
	r.AddRow(meta, row.Row{int64(1)})
	r.AddFile(File{Path: "/tmp/a.csv", Origin: "out"})
	r.SetExitStatus(3)

	c := r.Clone()
	c.Rows[0].Row[0] = int64(99)
	c.AddFile(File{Path: "/tmp/b.csv"})
	*c.ExitStatus = 4

	assert.Equal(t, int64(1), r.Rows[0].Row[0])
	assert.Len(t, r.Files, 1)
	assert.Equal(t, 3, *r.ExitStatus)
}

func TestAdd_Aggregates(t *testing.T) {
	a := New()
	a.Lines.Written = 5
	a.AddFile(File{Path: "a", Type: FileLog})

	b := New()
	b.Lines.Written = 7
	b.Lines.Rejected = 1
	b.Fail(2)
	b.AddFile(File{Path: "b", Type: FileGeneral})

	a.Add(b)

	assert.Equal(t, int64(12), a.Lines.Written)
	assert.Equal(t, int64(1), a.Lines.Rejected)
	assert.Equal(t, int64(2), a.NrErrors)
	assert.False(t, a.Success)
	assert.Len(t, a.Files, 2)
	require.Len(t, a.FilesOfType(FileLog), 1)
	assert.Equal(t, "a", a.FilesOfType(FileLog)[0].Path)
}

func TestParseFileType(t *testing.T) {
	ft, err := ParseFileType("errorline")
	require.NoError(t, err)
	assert.Equal(t, FileErrorLine, ft)
	assert.Equal(t, "ERRORLINE", ft.String())

	_, err = ParseFileType("bogus")
	assert.Error(t, err)
}
