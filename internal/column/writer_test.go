package column

import (
	"encoding/binary"
	"errors"
	"math"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quarry/internal/base"
	"quarry/internal/bucket"
	"quarry/internal/tile"
)

// The canonical scenario: 4096-byte buckets, 32-byte cells (shape [4]
// float64), so 128 rows per tile and 300 rows span tiles 0, 1, 2.
const (
	scenarioBucketSize = 4096
	scenarioRows       = 300
)

func scenarioDesc() base.ColumnDescriptor {
	return base.ColumnDescriptor{
		Name:  "uvw",
		Type:  base.TypeFloat64,
		Shape: base.Shape{4},
		Rows:  scenarioRows,
	}
}

func newTestWriter(t *testing.T, desc base.ColumnDescriptor, policy bucket.GrowthPolicy) (*Writer, *bucket.File) {
	t.Helper()
	f, err := bucket.Open(filepath.Join(t.TempDir(), desc.Name+".qd"), scenarioBucketSize, policy)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })

	cube, err := tile.NewCube(f, desc, 16)
	require.NoError(t, err)
	return NewWriter(new(sync.Mutex), desc, f, cube), f
}

// scenarioPayload builds 300 distinguishable cells of 4 float64s each.
func scenarioPayload() []byte {
	buf := make([]byte, scenarioRows*32)
	for row := 0; row < scenarioRows; row++ {
		for i := 0; i < 4; i++ {
			v := float64(row)*10 + float64(i)
			binary.LittleEndian.PutUint64(buf[row*32+i*8:], math.Float64bits(v))
		}
	}
	return buf
}

func TestPutColumnBulkZeroFillPerTile(t *testing.T) {
	w, f := newTestWriter(t, scenarioDesc(), bucket.GrowthExtendZero)

	require.NoError(t, w.PutColumnBulk(scenarioPayload()))

	snap := f.Stats().Snapshot()
	assert.Equal(t, int64(3), snap.Extends, "tiles 0, 1, 2 extended once each")
	assert.Equal(t, int64(3), snap.ZeroFills, "one zero-fill per distinct tile, not per row")
	assert.Equal(t, int64(3), snap.Writes, "one data flush per tile")

	got, err := w.GetColumn()
	require.NoError(t, err)
	assert.Equal(t, scenarioPayload(), got)
}

func TestPutColumnBulkExtendOnly(t *testing.T) {
	w, f := newTestWriter(t, scenarioDesc(), bucket.GrowthExtendOnly)

	require.NoError(t, w.PutColumnBulk(scenarioPayload()))

	snap := f.Stats().Snapshot()
	assert.Equal(t, int64(3), snap.Extends)
	assert.Equal(t, int64(0), snap.ZeroFills, "extend-only skips every zero-fill")

	got, err := w.GetColumn()
	require.NoError(t, err)
	assert.Equal(t, scenarioPayload(), got)
}

func TestPutCellAscendingZeroFillScalesWithTiles(t *testing.T) {
	w, f := newTestWriter(t, scenarioDesc(), bucket.GrowthExtendZero)

	payload := scenarioPayload()
	for row := int64(0); row < scenarioRows; row++ {
		require.NoError(t, w.PutCell(row, payload[row*32:(row+1)*32]))
	}
	require.NoError(t, w.Flush())

	snap := f.Stats().Snapshot()
	assert.Equal(t, int64(3), snap.Extends, "300 cell writes still only extend 3 tiles")
	assert.Equal(t, int64(3), snap.ZeroFills, "zero-fill count tracks tile novelty, not call count")

	got, err := w.GetColumn()
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestPutCellOutOfOrder(t *testing.T) {
	w, f := newTestWriter(t, scenarioDesc(), bucket.GrowthExtendZero)
	cell := make([]byte, 32)

	// Row 270 lives in tile 2; its first touch extends through tiles 0 and 1
	// as well, because touch tracking derives from file length.
	require.NoError(t, w.PutCell(270, cell))
	snap := f.Stats().Snapshot()
	assert.Equal(t, int64(1), snap.Extends)
	assert.Equal(t, int64(3), snap.ZeroFills)

	// Tile 0 was zeroed by that extension; touching it later must not
	// zero-fill again.
	require.NoError(t, w.PutCell(10, cell))
	snap = f.Stats().Snapshot()
	assert.Equal(t, int64(1), snap.Extends)
	assert.Equal(t, int64(3), snap.ZeroFills)
}

func TestPutCellRoundTripAllTypes(t *testing.T) {
	cases := []base.ColumnDescriptor{
		{Name: "flag", Type: base.TypeBool, Rows: 10},
		{Name: "ant", Type: base.TypeInt32, Rows: 10},
		{Name: "weight", Type: base.TypeFloat32, Shape: base.Shape{2, 2}, Rows: 10},
		{Name: "time", Type: base.TypeFloat64, Rows: 10},
		{Name: "vis", Type: base.TypeComplex64, Shape: base.Shape{3}, Rows: 10},
	}
	for _, desc := range cases {
		t.Run(desc.Name, func(t *testing.T) {
			w, _ := newTestWriter(t, desc, bucket.GrowthExtendZero)

			cell := make([]byte, desc.CellSize())
			for i := range cell {
				cell[i] = byte(i + 1)
			}
			require.NoError(t, w.PutCell(7, cell))

			got, err := w.GetCell(7)
			require.NoError(t, err)
			assert.Equal(t, cell, got)

			// Unwritten neighbors read back as zeros.
			got, err = w.GetCell(6)
			require.NoError(t, err)
			assert.Equal(t, make([]byte, desc.CellSize()), got)
		})
	}
}

func TestGetColumnRange(t *testing.T) {
	w, _ := newTestWriter(t, scenarioDesc(), bucket.GrowthExtendZero)
	payload := scenarioPayload()
	require.NoError(t, w.PutColumnBulk(payload))

	// A range straddling the tile 0 / tile 1 boundary.
	got, err := w.GetColumnRange(120, 135)
	require.NoError(t, err)
	assert.Equal(t, payload[120*32:136*32], got)
}

func TestPayloadSizeChecked(t *testing.T) {
	w, _ := newTestWriter(t, scenarioDesc(), bucket.GrowthExtendZero)

	err := w.PutCell(0, make([]byte, 31))
	assert.ErrorIs(t, err, ErrPayloadSize)

	err = w.PutColumnBulk(make([]byte, scenarioRows*32-1))
	assert.ErrorIs(t, err, ErrPayloadSize)
}

func TestRowRangeChecked(t *testing.T) {
	w, _ := newTestWriter(t, scenarioDesc(), bucket.GrowthExtendZero)
	cell := make([]byte, 32)

	assert.ErrorIs(t, w.PutCell(-1, cell), ErrRowRange)
	assert.ErrorIs(t, w.PutCell(scenarioRows, cell), ErrRowRange)

	_, err := w.GetCell(scenarioRows)
	assert.ErrorIs(t, err, ErrRowRange)

	_, err = w.GetColumnRange(20, 10)
	assert.ErrorIs(t, err, ErrRowRange)
}

func TestBulkErrorCarriesColumnContext(t *testing.T) {
	// Force a failure by closing the backing file before the bulk write.
	w, f := newTestWriter(t, scenarioDesc(), bucket.GrowthExtendZero)
	require.NoError(t, f.Close())

	err := w.PutColumnBulk(scenarioPayload())
	require.Error(t, err)

	var ioe *base.IOError
	require.True(t, errors.As(err, &ioe))
	assert.Equal(t, "uvw", ioe.Column)
	assert.Equal(t, int64(-1), ioe.Row, "no row completed before the failure")
}
