// Package column exposes the write granularities a caller can choose
// between: single cell, whole row (driven by the storage manager), and
// whole-column bulk. The choice matters because the number of extension and
// zero-fill events a workload emits tracks how many distinct never-touched
// tiles it spans, and the bulk path is the only one that guarantees one
// zero-fill and one data flush per tile regardless of row count.
package column

import (
	"errors"
	"fmt"
	"sync"

	"quarry/internal/base"
	"quarry/internal/bucket"
	"quarry/internal/tile"
)

// ErrPayloadSize reports a payload whose length does not match the cell or
// column size implied by the column descriptor.
var ErrPayloadSize = errors.New("quarry: payload size does not match column shape")

// ErrRowRange reports a row index outside the column's declared row count.
var ErrRowRange = errors.New("quarry: row index out of range")

// writeRequest describes one logical write before tile resolution: a run of
// consecutive rows and the payload covering them. PutCell is a one-row
// request; PutColumnBulk covers the whole column. The request only lives for
// the duration of the call.
type writeRequest struct {
	firstRow int64
	rowCount int64
	payload  []byte
}

// Writer binds one column to its bucket file and tile cube. All methods
// take the manager-wide lock, so writers for columns of the same storage
// manager may be used from separate goroutines.
type Writer struct {
	mu   *sync.Mutex
	desc base.ColumnDescriptor
	file *bucket.File
	cube *tile.Cube
}

// NewWriter binds desc to its backing file and cube. The lock is shared with
// the owning storage manager.
func NewWriter(mu *sync.Mutex, desc base.ColumnDescriptor, file *bucket.File, cube *tile.Cube) *Writer {
	return &Writer{mu: mu, desc: desc, file: file, cube: cube}
}

// Descriptor returns the column's static metadata.
func (w *Writer) Descriptor() base.ColumnDescriptor { return w.desc }

// PutCell writes one cell. value must be exactly the column's cell size. At
// most one tile is touched.
func (w *Writer) PutCell(row int64, value []byte) error {
	if err := w.checkRow(row); err != nil {
		return err
	}
	if len(value) != w.desc.CellSize() {
		return fmt.Errorf("column %q row %d: got %d bytes, cell is %d: %w",
			w.desc.Name, row, len(value), w.desc.CellSize(), ErrPayloadSize)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	_, err := w.apply(writeRequest{firstRow: row, rowCount: 1, payload: value}, false)
	return err
}

// PutColumnBulk writes every row of the column in one pass. values must be
// rows*cellSize bytes. The set of spanned tiles is walked in ascending
// order, each tile's capacity is ensured exactly once, all of its rows are
// filled, and the tile is flushed once. On failure the remaining tiles are
// abandoned and the returned IOError carries the last fully completed row
// index so the caller can resume or report partial completion.
func (w *Writer) PutColumnBulk(values []byte) error {
	want := w.desc.Rows * int64(w.desc.CellSize())
	if int64(len(values)) != want {
		return fmt.Errorf("column %q: got %d bytes, column is %d: %w",
			w.desc.Name, len(values), want, ErrPayloadSize)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	req := writeRequest{firstRow: 0, rowCount: w.desc.Rows, payload: values}
	lastDone, err := w.apply(req, true)
	if err != nil {
		var ioe *base.IOError
		if errors.As(err, &ioe) {
			ioe.Row = lastDone
			ioe.Column = w.desc.Name
		}
		return err
	}
	return nil
}

// apply resolves a write request tile by tile in ascending order. For each
// spanned tile: load (or zero-materialize) the buffer, ensure file capacity,
// copy the covered rows in, mark dirty, and, when flushEach is set, flush
// immediately. It returns the last row fully applied, or firstRow-1 if none
// was.
func (w *Writer) apply(req writeRequest, flushEach bool) (lastDone int64, err error) {
	cellSize := int64(w.desc.CellSize())
	lastDone = req.firstRow - 1

	row := req.firstRow
	end := req.firstRow + req.rowCount
	for row < end {
		index, offset, _ := w.cube.Locate(row)

		// Rows of this request that land in this tile.
		runEnd := (index + 1) * w.cube.RowsPerTile()
		if runEnd > end {
			runEnd = end
		}

		t, err := w.cube.GetOrLoad(index)
		if err != nil {
			return lastDone, err
		}
		if err := w.file.EnsureCapacity(index); err != nil {
			return lastDone, err
		}

		src := (row - req.firstRow) * cellSize
		n := (runEnd - row) * cellSize
		copy(t.Bytes()[offset:], req.payload[src:src+n])
		t.MarkDirty()

		if flushEach {
			if err := w.cube.Flush(index); err != nil {
				return lastDone, err
			}
		}

		lastDone = runEnd - 1
		row = runEnd
	}
	return lastDone, nil
}

// GetCell reads one cell back through the same tile-resolution path used for
// writes. Rows whose tile was never written read as zeros.
func (w *Writer) GetCell(row int64) ([]byte, error) {
	if err := w.checkRow(row); err != nil {
		return nil, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	index, offset, _ := w.cube.Locate(row)
	t, err := w.cube.GetOrLoad(index)
	if err != nil {
		return nil, err
	}
	out := make([]byte, w.desc.CellSize())
	copy(out, t.Bytes()[offset:])
	return out, nil
}

// GetColumn reads the whole column back.
func (w *Writer) GetColumn() ([]byte, error) {
	return w.GetColumnRange(0, w.desc.Rows-1)
}

// GetColumnRange reads rows first..last inclusive.
func (w *Writer) GetColumnRange(first, last int64) ([]byte, error) {
	if err := w.checkRow(first); err != nil {
		return nil, err
	}
	if err := w.checkRow(last); err != nil {
		return nil, err
	}
	if first > last {
		return nil, fmt.Errorf("column %q: range %d..%d: %w", w.desc.Name, first, last, ErrRowRange)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	cellSize := int64(w.desc.CellSize())
	out := make([]byte, (last-first+1)*cellSize)

	row := first
	for row <= last {
		index, offset, _ := w.cube.Locate(row)
		runEnd := (index + 1) * w.cube.RowsPerTile()
		if runEnd > last+1 {
			runEnd = last + 1
		}
		t, err := w.cube.GetOrLoad(index)
		if err != nil {
			return nil, err
		}
		dst := (row - first) * cellSize
		n := (runEnd - row) * cellSize
		copy(out[dst:dst+n], t.Bytes()[offset:])
		row = runEnd
	}
	return out, nil
}

// Flush writes the column's dirty tiles back to its bucket file.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cube.FlushAll()
}

func (w *Writer) checkRow(row int64) error {
	if row < 0 || row >= w.desc.Rows {
		return fmt.Errorf("column %q: row %d of %d: %w", w.desc.Name, row, w.desc.Rows, ErrRowRange)
	}
	return nil
}
