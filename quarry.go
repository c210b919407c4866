// Package quarry is a tiled column storage engine: fixed-shape array columns
// backed by bucket-granular files with an explicit, per-table file-growth and
// zero-fill policy. It exists to make the cost model of columnar writes
// visible: how a table grows its backing files, whether fresh regions are
// explicitly zeroed or left to sparse-file semantics, and how the choice of
// write granularity (cell, row, or whole-column bulk) changes the number of
// extension and zero-fill events a workload produces.
package quarry

import (
	"quarry/internal/base"
	"quarry/internal/bucket"
	"quarry/internal/column"
	"quarry/internal/manager"
)

// Re-exported core types. Descriptors and errors live in internal/base so
// the leaf packages can share them without importing the facade.
type (
	ColumnDescriptor = base.ColumnDescriptor
	DataType         = base.DataType
	Shape            = base.Shape
	ConfigError      = base.ConfigError
	IOError          = base.IOError
	Snapshot         = bucket.Snapshot
)

const (
	TypeBool      = base.TypeBool
	TypeInt32     = base.TypeInt32
	TypeFloat32   = base.TypeFloat32
	TypeFloat64   = base.TypeFloat64
	TypeComplex64 = base.TypeComplex64
)

// Cell and row payload validation errors, surfaced from the write paths.
var (
	ErrPayloadSize = column.ErrPayloadSize
	ErrRowRange    = column.ErrRowRange
	ErrNotOpen     = manager.ErrNotOpen
	ErrNoColumn    = manager.ErrNoColumn
)

// Table is an open table: one storage manager routing writes to per-column
// data files under a single directory.
type Table struct {
	m *manager.Manager
}

// Column is the per-column handle exposing the three write granularities and
// their symmetric reads.
type Column = column.Writer

// Open opens or creates the table at dir with the given column descriptors.
// The directory is exclusively locked until Close.
func Open(dir string, descs []ColumnDescriptor, opts ...Option) (*Table, error) {
	settings, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}
	m, err := manager.OpenOrCreate(dir, descs, settings.cfg, settings.log)
	if err != nil {
		return nil, err
	}
	return &Table{m: m}, nil
}

// Column returns the handle for the named column.
func (t *Table) Column(name string) (*Column, error) {
	return t.m.Column(name)
}

// PutRow writes one cell into each named column of a row. There is no
// cross-column atomicity: on failure, columns already written stay written
// and the error names the failing column.
func (t *Table) PutRow(row int64, cells map[string][]byte) error {
	return t.m.PutRow(row, cells)
}

// Flush writes all dirty tiles back to disk without closing the table.
func (t *Table) Flush() error {
	return t.m.Flush()
}

// Stats returns per-column I/O event counters: extensions, zero-fills,
// data writes, and reads.
func (t *Table) Stats() map[string]Snapshot {
	return t.m.Stats()
}

// Close flushes and syncs every column file and releases the directory
// lock. Close is terminal; reopening takes a fresh Open.
func (t *Table) Close() error {
	return t.m.Close()
}
