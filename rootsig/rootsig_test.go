package rootsig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSortsTables(t *testing.T) {
	m := New(Table{RootIndex: 3, TableCapacity: 1}, Table{RootIndex: 0, TableCapacity: 4})
	assert.Equal(t, []Table{{0, 4}, {3, 1}}, m.Tables)
	assert.Equal(t, uint32(5), m.TotalCapacity())
	assert.Equal(t, uint32(4), m.NumParameters())

	tbl, ok := m.Table(3)
	assert.True(t, ok)
	assert.Equal(t, uint32(1), tbl.TableCapacity)
	_, ok = m.Table(1)
	assert.False(t, ok)

	assert.Panics(t, func() { New(Table{RootIndex: 0, TableCapacity: 0}) })
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		md   Metadata
		want error
	}{
		{
			name: "duplicate table",
			md:   Metadata{Tables: []Table{{0, 1}, {0, 2}}},
			want: ErrDuplicateRootIndex,
		},
		{
			name: "view shares table index",
			md:   Metadata{Tables: []Table{{1, 1}}, Views: []View{{1, ViewCBV}}},
			want: ErrDuplicateRootIndex,
		},
		{
			name: "zero capacity",
			md:   Metadata{Tables: []Table{{2, 0}}},
			want: ErrZeroCapacity,
		},
		{
			name: "unknown kind",
			md:   Metadata{Views: []View{{0, "sampler"}}},
			want: ErrUnknownViewKind,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.md.Validate(), tt.want)
		})
	}

	big := Metadata{Tables: []Table{{MaxRootIndex + 1, 1}}}
	assert.Error(t, big.Validate())

	var nilMD *Metadata
	assert.NoError(t, nilMD.Validate())
	assert.Zero(t, nilMD.TotalCapacity())
	assert.Zero(t, nilMD.NumParameters())
	assert.Nil(t, nilMD.Clone())
	assert.Equal(t, "tables[] views[]", nilMD.String())
}

func TestViewLookupAndString(t *testing.T) {
	m := &Metadata{
		Tables: []Table{{0, 4}, {1, 2}},
		Views:  []View{{2, ViewCBV}},
	}
	v, ok := m.View(2)
	require.True(t, ok)
	assert.Equal(t, ViewCBV, v.Kind)
	_, ok = m.View(0)
	assert.False(t, ok)
	assert.Equal(t, "tables[0:4 1:2] views[2:cbv]", m.String())

	c := m.Clone()
	c.Tables[0].TableCapacity = 9
	assert.Equal(t, uint32(4), m.Tables[0].TableCapacity)
}

func TestParseFormats(t *testing.T) {
	want := &Metadata{
		Tables: []Table{{0, 4}, {1, 2}},
		Views:  []View{{2, ViewCBV}},
	}
	inputs := map[Format]string{
		FormatYAML: `
tables:
  - root_index: 1
    table_capacity: 2
  - root_index: 0
    table_capacity: 4
views:
  - root_index: 2
    kind: CBV
`,
		FormatTOML: `
[[tables]]
root_index = 1
table_capacity = 2

[[tables]]
root_index = 0
table_capacity = 4

[[views]]
root_index = 2
kind = "cbv"
`,
		FormatJSON: `{
  "tables": [{"root_index": 1, "table_capacity": 2}, {"root_index": 0, "table_capacity": 4}],
  "views": [{"root_index": 2, "kind": "cbv"}]
}`,
	}
	for format, src := range inputs {
		t.Run(string(format), func(t *testing.T) {
			got, err := Parse([]byte(src), format)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}

func TestParseRejects(t *testing.T) {
	_, err := Parse([]byte("tables:\n  - root_index: 0\n    capacity: 4\n"), FormatYAML)
	assert.Error(t, err, "unknown field")

	_, err = Parse([]byte(`{"tables":[{"root_index":0,"table_capacity":0}]}`), FormatJSON)
	assert.ErrorIs(t, err, ErrZeroCapacity)

	_, err = Parse(nil, "xml")
	assert.ErrorIs(t, err, ErrUnknownFormat)
}

func TestLoadFileAndMarshal(t *testing.T) {
	dir := t.TempDir()
	src := New(Table{RootIndex: 0, TableCapacity: 4}, Table{RootIndex: 1, TableCapacity: 2})

	for _, name := range []string{"sig.yaml", "sig.yml", "sig.toml", "sig.json"} {
		t.Run(name, func(t *testing.T) {
			format, err := FormatFromPath(name)
			require.NoError(t, err)
			data, err := Marshal(src, format)
			require.NoError(t, err)

			path := filepath.Join(dir, name)
			require.NoError(t, os.WriteFile(path, data, 0o600))
			got, err := LoadFile(path)
			require.NoError(t, err)
			assert.Equal(t, src.Tables, got.Tables)
		})
	}

	_, err := FormatFromPath("sig.ini")
	assert.ErrorIs(t, err, ErrUnknownFormat)
	_, err = LoadFile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
	_, err = Marshal(src, "xml")
	assert.ErrorIs(t, err, ErrUnknownFormat)
}
