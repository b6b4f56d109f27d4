// Package rootsig describes the binding layout a pipeline state expects.
//
// A root signature is an ordered list of root parameters. Descriptor table
// parameters carry a declared capacity (the number of descriptors the table
// spans); root view parameters bind a raw GPU address directly and carry no
// capacity. The command context only needs the table part, which is the
// ordered mapping root index -> table capacity:
//
//	tables:
//	  - root_index: 0
//	    table_capacity: 4
//	  - root_index: 1
//	    table_capacity: 2
//	views:
//	  - root_index: 2
//	    kind: cbv
//
// Metadata is immutable once handed to a pipeline state; consumers only read it.
package rootsig

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Errors returned by Validate and the loaders.
var (
	// ErrDuplicateRootIndex is returned when two parameters share a root index.
	ErrDuplicateRootIndex = errors.New("rootsig: duplicate root index")

	// ErrZeroCapacity is returned when a table declares no descriptors.
	ErrZeroCapacity = errors.New("rootsig: table capacity must be greater than zero")

	// ErrUnknownViewKind is returned for a view kind other than cbv, srv or uav.
	ErrUnknownViewKind = errors.New("rootsig: unknown root view kind")

	// ErrUnknownFormat is returned when a file extension or format name is not recognized.
	ErrUnknownFormat = errors.New("rootsig: unknown metadata format")
)

// MaxRootIndex bounds root indices. D3D12 root signatures are limited to 64
// DWORDs, so no valid layout has more parameters than that.
const MaxRootIndex = 63

// Table declares a descriptor table parameter.
type Table struct {
	RootIndex     uint32 `yaml:"root_index" toml:"root_index" json:"root_index"`
	TableCapacity uint32 `yaml:"table_capacity" toml:"table_capacity" json:"table_capacity"`
}

// ViewKind is the kind of a root view parameter.
type ViewKind string

// Root view kinds.
const (
	ViewCBV ViewKind = "cbv"
	ViewSRV ViewKind = "srv"
	ViewUAV ViewKind = "uav"
)

// View declares a root view parameter, bound by GPU address.
type View struct {
	RootIndex uint32   `yaml:"root_index" toml:"root_index" json:"root_index"`
	Kind      ViewKind `yaml:"kind" toml:"kind" json:"kind"`
}

// Metadata is the root-signature description a pipeline state exposes.
// Tables are kept sorted by root index.
type Metadata struct {
	Tables []Table `yaml:"tables" toml:"tables" json:"tables"`
	Views  []View  `yaml:"views,omitempty" toml:"views,omitempty" json:"views,omitempty"`
}

// New builds metadata from tables, sorting them by root index.
// It panics if the result does not validate; use it for literals in code.
func New(tables ...Table) *Metadata {
	m := &Metadata{Tables: slices.Clone(tables)}
	m.normalize()
	if err := m.Validate(); err != nil {
		panic(err)
	}
	return m
}

// Validate checks root index uniqueness, bounds, capacities and view kinds.
func (m *Metadata) Validate() error {
	if m == nil {
		return nil
	}
	var seen [MaxRootIndex + 1]bool
	mark := func(idx uint32) error {
		if idx > MaxRootIndex {
			return fmt.Errorf("rootsig: root index %d exceeds %d", idx, MaxRootIndex)
		}
		if seen[idx] {
			return fmt.Errorf("%w: %d", ErrDuplicateRootIndex, idx)
		}
		seen[idx] = true
		return nil
	}
	for _, t := range m.Tables {
		if err := mark(t.RootIndex); err != nil {
			return err
		}
		if t.TableCapacity == 0 {
			return fmt.Errorf("%w (root index %d)", ErrZeroCapacity, t.RootIndex)
		}
	}
	for _, v := range m.Views {
		if err := mark(v.RootIndex); err != nil {
			return err
		}
		switch v.Kind {
		case ViewCBV, ViewSRV, ViewUAV:
		default:
			return fmt.Errorf("%w: %q (root index %d)", ErrUnknownViewKind, v.Kind, v.RootIndex)
		}
	}
	return nil
}

// TotalCapacity returns the sum of all table capacities.
func (m *Metadata) TotalCapacity() uint32 {
	if m == nil {
		return 0
	}
	var n uint32
	for _, t := range m.Tables {
		n += t.TableCapacity
	}
	return n
}

// NumParameters returns one past the highest root index in use.
func (m *Metadata) NumParameters() uint32 {
	if m == nil {
		return 0
	}
	var n uint32
	for _, t := range m.Tables {
		n = max(n, t.RootIndex+1)
	}
	for _, v := range m.Views {
		n = max(n, v.RootIndex+1)
	}
	return n
}

// Table returns the table declared at rootIndex, if any.
func (m *Metadata) Table(rootIndex uint32) (Table, bool) {
	if m == nil {
		return Table{}, false
	}
	i, ok := slices.BinarySearchFunc(m.Tables, rootIndex, func(t Table, idx uint32) int {
		return int(t.RootIndex) - int(idx)
	})
	if !ok {
		return Table{}, false
	}
	return m.Tables[i], true
}

// View returns the root view declared at rootIndex, if any.
func (m *Metadata) View(rootIndex uint32) (View, bool) {
	if m == nil {
		return View{}, false
	}
	for _, v := range m.Views {
		if v.RootIndex == rootIndex {
			return v, true
		}
	}
	return View{}, false
}

// Clone returns a deep copy.
func (m *Metadata) Clone() *Metadata {
	if m == nil {
		return nil
	}
	return &Metadata{Tables: slices.Clone(m.Tables), Views: slices.Clone(m.Views)}
}

// String returns a compact description, e.g. "tables[0:4 1:2] views[2:cbv]".
func (m *Metadata) String() string {
	if m == nil {
		return "tables[] views[]"
	}
	var b strings.Builder
	b.WriteString("tables[")
	for i, t := range m.Tables {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%d:%d", t.RootIndex, t.TableCapacity)
	}
	b.WriteString("] views[")
	for i, v := range m.Views {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%d:%s", v.RootIndex, v.Kind)
	}
	b.WriteByte(']')
	return b.String()
}

func (m *Metadata) normalize() {
	slices.SortFunc(m.Tables, func(a, b Table) int { return int(a.RootIndex) - int(b.RootIndex) })
	slices.SortFunc(m.Views, func(a, b View) int { return int(a.RootIndex) - int(b.RootIndex) })
	for i := range m.Views {
		m.Views[i].Kind = ViewKind(strings.ToLower(string(m.Views[i].Kind)))
	}
}
