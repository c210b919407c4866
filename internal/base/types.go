package base

import "fmt"

// DataType identifies the element type stored in a column. All supported
// types have a fixed byte width, which is what makes fixed-size tile
// addressing possible: a cell's on-disk size is width * element count and
// never varies per row.
type DataType uint8

const (
	TypeBool DataType = iota
	TypeInt32
	TypeFloat32
	TypeFloat64
	TypeComplex64
)

// Width returns the on-disk size of a single element in bytes.
func (t DataType) Width() int {
	switch t {
	case TypeBool:
		return 1
	case TypeInt32, TypeFloat32:
		return 4
	case TypeFloat64, TypeComplex64:
		return 8
	default:
		panic(fmt.Sprintf("base: unknown data type %d", t))
	}
}

func (t DataType) String() string {
	switch t {
	case TypeBool:
		return "bool"
	case TypeInt32:
		return "int32"
	case TypeFloat32:
		return "float32"
	case TypeFloat64:
		return "float64"
	case TypeComplex64:
		return "complex64"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// Shape is the fixed per-cell array shape of a column. A nil or empty shape
// denotes a scalar column (one element per cell).
type Shape []int

// ElemCount returns the number of elements in one cell of this shape.
func (s Shape) ElemCount() int {
	n := 1
	for _, dim := range s {
		n *= dim
	}
	return n
}

func (s Shape) String() string {
	if len(s) == 0 {
		return "scalar"
	}
	return fmt.Sprintf("%v", []int(s))
}

// ColumnDescriptor is the static per-column metadata fixed at table-creation
// time: element type, cell shape, and the number of rows the column holds.
// Descriptors are immutable once the storage manager has been opened with
// them.
type ColumnDescriptor struct {
	Name  string
	Type  DataType
	Shape Shape
	Rows  int64
}

// CellSize returns the number of bytes one row of this column occupies on
// disk.
func (d ColumnDescriptor) CellSize() int {
	return d.Type.Width() * d.Shape.ElemCount()
}

// Validate reports a ConfigError for descriptors that can never be stored:
// empty names, non-positive shape dimensions, or a non-positive row count.
func (d ColumnDescriptor) Validate() error {
	if d.Name == "" {
		return &ConfigError{Reason: "column descriptor has empty name"}
	}
	for _, dim := range d.Shape {
		if dim <= 0 {
			return &ConfigError{Reason: fmt.Sprintf(
				"column %q: shape %v has non-positive dimension", d.Name, d.Shape)}
		}
	}
	if d.Rows <= 0 {
		return &ConfigError{Reason: fmt.Sprintf(
			"column %q: row count %d must be positive", d.Name, d.Rows)}
	}
	return nil
}
