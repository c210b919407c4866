package manager

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"quarry/internal/base"
)

// MetaFileName is the per-table metadata file recording the bucket size and
// column descriptors the table was created with. It is how a reopen detects
// descriptors that do not match the existing data files.
const MetaFileName = "table.toml"

type metaFile struct {
	BucketSize int          `toml:"bucket_size"`
	Columns    []metaColumn `toml:"columns"`
}

type metaColumn struct {
	Name  string `toml:"name"`
	Type  string `toml:"type"`
	Shape []int  `toml:"shape"`
	Rows  int64  `toml:"rows"`
}

func toMeta(bucketSize int, descs []base.ColumnDescriptor) metaFile {
	meta := metaFile{BucketSize: bucketSize}
	for _, d := range descs {
		meta.Columns = append(meta.Columns, metaColumn{
			Name:  d.Name,
			Type:  d.Type.String(),
			Shape: d.Shape,
			Rows:  d.Rows,
		})
	}
	return meta
}

// checkMeta compares bucketSize and descs against an existing table's meta
// file, if any. A missing meta file means the table is being created.
func checkMeta(dir string, bucketSize int, descs []base.ColumnDescriptor) error {
	path := filepath.Join(dir, MetaFileName)
	var existing metaFile
	if _, err := toml.DecodeFile(path, &existing); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return &base.ConfigError{Reason: fmt.Sprintf("meta file %s: %v", path, err)}
	}

	if existing.BucketSize != bucketSize {
		return &base.ConfigError{Reason: fmt.Sprintf(
			"table was created with bucket size %d, reopened with %d",
			existing.BucketSize, bucketSize)}
	}

	byName := make(map[string]metaColumn, len(existing.Columns))
	for _, c := range existing.Columns {
		byName[c.Name] = c
	}
	for _, d := range descs {
		c, ok := byName[d.Name]
		if !ok {
			// New columns may be added to an existing table.
			continue
		}
		if c.Type != d.Type.String() || !shapeEqual(c.Shape, d.Shape) || c.Rows != d.Rows {
			return &base.ConfigError{Reason: fmt.Sprintf(
				"column %q: descriptor (%s %v rows=%d) does not match existing (%s %v rows=%d)",
				d.Name, d.Type, d.Shape, d.Rows, c.Type, c.Shape, c.Rows)}
		}
	}
	return nil
}

// writeMeta rewrites the meta file for the current descriptor set.
func writeMeta(dir string, bucketSize int, descs []base.ColumnDescriptor) error {
	path := filepath.Join(dir, MetaFileName)
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(toMeta(bucketSize, descs)); err != nil {
		return &base.ConfigError{Reason: fmt.Sprintf("meta file %s: %v", path, err)}
	}
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return base.NewIOError("write", path, -1, err)
	}
	return nil
}

func shapeEqual(a []int, b base.Shape) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
