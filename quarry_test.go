package quarry_test

import (
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"quarry"
)

// The investigation's canonical workload: one fixed-shape column with
// 32-byte cells in 4096-byte buckets (128 rows per tile), 300 rows spanning
// tiles 0, 1, 2, written three ways. The growth-policy events must depend
// only on how many distinct tiles the workload touches.
func scenarioDescs() []quarry.ColumnDescriptor {
	return []quarry.ColumnDescriptor{
		{Name: "uvw", Type: quarry.TypeFloat64, Shape: quarry.Shape{4}, Rows: 300},
	}
}

func scenarioPayload() []byte {
	buf := make([]byte, 300*32)
	for row := 0; row < 300; row++ {
		for i := 0; i < 4; i++ {
			binary.LittleEndian.PutUint64(
				buf[row*32+i*8:], math.Float64bits(float64(row)+float64(i)/10))
		}
	}
	return buf
}

func TestBulkWriteScenario(t *testing.T) {
	table, err := quarry.Open(t.TempDir(), scenarioDescs(),
		quarry.WithBucketSize(4096),
		quarry.WithLogger(zaptest.NewLogger(t)),
	)
	require.NoError(t, err)
	defer table.Close()

	col, err := table.Column("uvw")
	require.NoError(t, err)
	require.NoError(t, col.PutColumnBulk(scenarioPayload()))

	snap := table.Stats()["uvw"]
	assert.Equal(t, int64(3), snap.Extends)
	assert.Equal(t, int64(3), snap.ZeroFills)
	assert.Equal(t, int64(3), snap.Writes)

	got, err := col.GetColumn()
	require.NoError(t, err)
	assert.Equal(t, scenarioPayload(), got)
}

func TestRowWriteScenarioSameZeroFills(t *testing.T) {
	table, err := quarry.Open(t.TempDir(), scenarioDescs(), quarry.WithBucketSize(4096))
	require.NoError(t, err)
	defer table.Close()

	payload := scenarioPayload()
	for row := int64(0); row < 300; row++ {
		err := table.PutRow(row, map[string][]byte{
			"uvw": payload[row*32 : (row+1)*32],
		})
		require.NoError(t, err)
	}
	require.NoError(t, table.Flush())

	snap := table.Stats()["uvw"]
	assert.Equal(t, int64(3), snap.ZeroFills,
		"300 row writes produce the same 3 zero-fills as one bulk write")

	col, err := table.Column("uvw")
	require.NoError(t, err)
	got, err := col.GetColumn()
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestExtendOnlyScenario(t *testing.T) {
	table, err := quarry.Open(t.TempDir(), scenarioDescs(),
		quarry.WithBucketSize(4096),
		quarry.WithExtendOnly(),
	)
	require.NoError(t, err)
	defer table.Close()

	col, err := table.Column("uvw")
	require.NoError(t, err)
	require.NoError(t, col.PutColumnBulk(scenarioPayload()))

	snap := table.Stats()["uvw"]
	assert.Equal(t, int64(3), snap.Extends)
	assert.Equal(t, int64(0), snap.ZeroFills)

	got, err := col.GetColumn()
	require.NoError(t, err)
	assert.Equal(t, scenarioPayload(), got)
}

func TestMixedColumnsAndDurability(t *testing.T) {
	dir := t.TempDir()
	descs := []quarry.ColumnDescriptor{
		{Name: "time", Type: quarry.TypeFloat64, Rows: 300},
		{Name: "flag", Type: quarry.TypeBool, Rows: 300},
	}

	table, err := quarry.Open(dir, descs, quarry.WithBucketSize(4096))
	require.NoError(t, err)

	timeCol, err := table.Column("time")
	require.NoError(t, err)
	times := make([]byte, 300*8)
	for row := 0; row < 300; row++ {
		binary.LittleEndian.PutUint64(times[row*8:], math.Float64bits(float64(row)*0.5))
	}
	require.NoError(t, timeCol.PutColumnBulk(times))

	flagCol, err := table.Column("flag")
	require.NoError(t, err)
	require.NoError(t, flagCol.PutCell(299, []byte{1}))

	require.NoError(t, table.Close())

	table, err = quarry.Open(dir, descs, quarry.WithBucketSize(4096))
	require.NoError(t, err)
	defer table.Close()

	timeCol, err = table.Column("time")
	require.NoError(t, err)
	got, err := timeCol.GetColumn()
	require.NoError(t, err)
	assert.Equal(t, times, got)

	flagCol, err = table.Column("flag")
	require.NoError(t, err)
	cell, err := flagCol.GetCell(299)
	require.NoError(t, err)
	assert.Equal(t, []byte{1}, cell)

	cell, err = flagCol.GetCell(0)
	require.NoError(t, err)
	assert.Equal(t, []byte{0}, cell, "unwritten rows read as zeros")
}

func TestConfigFileOption(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "quarry.toml")
	cfgBody := "bucket_size = 4096\ngrowth_policy = \"extend_only\"\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfgBody), 0644))

	table, err := quarry.Open(filepath.Join(dir, "table"), scenarioDescs(), quarry.WithConfigFile(cfgPath))
	require.NoError(t, err)
	defer table.Close()

	col, err := table.Column("uvw")
	require.NoError(t, err)
	require.NoError(t, col.PutCell(0, make([]byte, 32)))

	assert.Equal(t, int64(0), table.Stats()["uvw"].ZeroFills)
}
