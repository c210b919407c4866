// Package manager owns the per-table storage state: one bucket file and one
// tile cube per column data file, the directory lock, and the open/close
// lifecycle. Writes are routed to the right file by column name.
package manager

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"syscall"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"quarry/internal/base"
	"quarry/internal/bucket"
	"quarry/internal/column"
	"quarry/internal/config"
	"quarry/internal/tile"
)

const (
	// LockFileName is the flock-ed file held for the lifetime of an open
	// manager to keep a second writer out of the table directory.
	LockFileName = "table.lock"

	// DataFileSuffix is appended to a column name to form its data file.
	DataFileSuffix = ".qd"
)

// State is the manager lifecycle. No operation other than OpenOrCreate is
// valid outside StateOpen, and StateClosed is terminal: reopening a table
// takes a fresh OpenOrCreate.
type State uint8

const (
	StateUnopened State = iota
	StateOpen
	StateClosed
)

// ErrNotOpen reports an operation on a manager that is not in StateOpen.
var ErrNotOpen = fmt.Errorf("quarry: storage manager is not open")

// ErrNoColumn reports a column name the manager does not route.
var ErrNoColumn = fmt.Errorf("quarry: no such column")

type columnState struct {
	desc   base.ColumnDescriptor
	file   *bucket.File
	cube   *tile.Cube
	writer *column.Writer
}

// Manager routes column writes to per-column bucket files and owns their
// shared lifecycle. The same mutex serializes the tile caches and the
// compare-and-extend inside EnsureCapacity, so writers for different columns
// can be driven from separate goroutines.
type Manager struct {
	mu      sync.Mutex
	state   State
	dir     string
	session string
	cfg     config.Config
	policy  bucket.GrowthPolicy
	log     *zap.Logger

	lockFile *os.File
	columns  map[string]*columnState
	names    []string
}

// OpenOrCreate opens the table directory at dir, creating it and the column
// data files as needed. Descriptors incompatible with an already-existing
// table (different bucket size, or a column whose file length does not line
// up with it) fail with a ConfigError before any file is modified.
func OpenOrCreate(dir string, descs []base.ColumnDescriptor, cfg config.Config, log *zap.Logger) (m *Manager, err error) {
	if err = cfg.Validate(); err != nil {
		return nil, err
	}
	policy, err := cfg.Growth()
	if err != nil {
		return nil, err
	}
	if len(descs) == 0 {
		return nil, &base.ConfigError{Reason: "no column descriptors"}
	}
	for _, d := range descs {
		if err = d.Validate(); err != nil {
			return nil, err
		}
	}
	if log == nil {
		log = zap.NewNop()
	}

	if err = os.MkdirAll(dir, 0755); err != nil {
		return nil, base.NewIOError("mkdir", dir, -1, err)
	}

	if err = checkMeta(dir, cfg.BucketSize, descs); err != nil {
		return nil, err
	}

	// Hold an exclusive lock on the table directory for the lifetime of the
	// manager. Single writer per table.
	lockFile, err := os.OpenFile(filepath.Join(dir, LockFileName), os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, base.NewIOError("open", filepath.Join(dir, LockFileName), -1, err)
	}
	if err = syscall.Flock(int(lockFile.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = lockFile.Close()
		return nil, base.NewIOError("flock", filepath.Join(dir, LockFileName), -1, err)
	}
	defer func() {
		if m == nil {
			_ = syscall.Flock(int(lockFile.Fd()), syscall.LOCK_UN)
			_ = lockFile.Close()
		}
	}()

	mgr := &Manager{
		state:    StateOpen,
		dir:      dir,
		session:  uuid.NewString(),
		cfg:      cfg,
		policy:   policy,
		log:      log.With(zap.String("dir", dir)),
		lockFile: lockFile,
		columns:  make(map[string]*columnState, len(descs)),
	}
	defer func() {
		if m == nil {
			for _, cs := range mgr.columns {
				_ = cs.file.Close()
			}
		}
	}()

	for _, d := range descs {
		if _, ok := mgr.columns[d.Name]; ok {
			return nil, &base.ConfigError{Reason: fmt.Sprintf("duplicate column %q", d.Name)}
		}
		path := filepath.Join(dir, d.Name+DataFileSuffix)
		f, err := bucket.Open(path, cfg.BucketSize, policy)
		if err != nil {
			return nil, err
		}
		cube, err := tile.NewCube(f, d, cfg.CacheTiles)
		if err != nil {
			_ = f.Close()
			return nil, err
		}
		mgr.columns[d.Name] = &columnState{
			desc:   d,
			file:   f,
			cube:   cube,
			writer: column.NewWriter(&mgr.mu, d, f, cube),
		}
		mgr.names = append(mgr.names, d.Name)
	}
	sort.Strings(mgr.names)

	if err = writeMeta(dir, cfg.BucketSize, descs); err != nil {
		return nil, err
	}

	mgr.log.Info("storage manager open",
		zap.String("session", mgr.session),
		zap.Int("columns", len(descs)),
		zap.Int("bucket_size", cfg.BucketSize),
		zap.Int("cache_tiles", cfg.CacheTiles),
		zap.Stringer("growth_policy", policy),
	)
	return mgr, nil
}

// Session returns the unique id of this open instance, for log correlation.
func (m *Manager) Session() string { return m.session }

// State returns the lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Columns returns the managed column names in sorted order.
func (m *Manager) Columns() []string {
	return append([]string(nil), m.names...)
}

// Column returns the writer bound to the named column.
func (m *Manager) Column(name string) (*column.Writer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateOpen {
		return nil, ErrNotOpen
	}
	cs, ok := m.columns[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoColumn, name)
	}
	return cs.writer, nil
}

// PutRow writes one cell into each named column of a row. Columns are
// written in sorted name order with no cross-column batching or atomicity:
// a failure leaves the columns already written in that row persisted, and
// the returned IOError names the column that failed.
func (m *Manager) PutRow(row int64, cells map[string][]byte) error {
	names := make([]string, 0, len(cells))
	for name := range cells {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		w, err := m.Column(name)
		if err != nil {
			return err
		}
		if err := w.PutCell(row, cells[name]); err != nil {
			var ioe *base.IOError
			if errors.As(err, &ioe) {
				ioe.Column = name
				ioe.Row = row
			}
			return err
		}
	}
	return nil
}

// Flush writes every column's dirty tiles back to disk without closing.
func (m *Manager) Flush() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateOpen {
		return ErrNotOpen
	}
	return m.flushLocked()
}

func (m *Manager) flushLocked() error {
	var errs *multierror.Error
	for _, name := range m.names {
		cs := m.columns[name]
		if err := cs.cube.FlushAll(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}

// Stats returns a per-column snapshot of I/O event counters.
func (m *Manager) Stats() map[string]bucket.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]bucket.Snapshot, len(m.columns))
	for name, cs := range m.columns {
		out[name] = cs.file.Stats().Snapshot()
	}
	return out
}

// Close flushes every dirty tile, syncs and closes the data files, and
// releases the directory lock. Files keep their grown length; nothing is
// truncated. Failures are aggregated per column rather than aborting the
// remaining cleanup, and Close is terminal even when it reports an error.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateOpen {
		return ErrNotOpen
	}
	m.state = StateClosed

	var errs *multierror.Error
	if err := m.flushLocked(); err != nil {
		errs = multierror.Append(errs, err)
	}
	for _, name := range m.names {
		cs := m.columns[name]
		if err := cs.file.Sync(); err != nil {
			errs = multierror.Append(errs, err)
		}
		if err := cs.file.Close(); err != nil {
			errs = multierror.Append(errs, err)
		}
		snap := cs.file.Stats().Snapshot()
		m.log.Info("column closed",
			zap.String("session", m.session),
			zap.String("column", name),
			zap.Int64("extends", snap.Extends),
			zap.Int64("zero_fills", snap.ZeroFills),
			zap.Int64("writes", snap.Writes),
			zap.Int64("reads", snap.Reads),
		)
	}

	if err := syscall.Flock(int(m.lockFile.Fd()), syscall.LOCK_UN); err != nil {
		errs = multierror.Append(errs, base.NewIOError("funlock", m.lockFile.Name(), -1, err))
	}
	if err := m.lockFile.Close(); err != nil {
		errs = multierror.Append(errs, base.NewIOError("close", m.lockFile.Name(), -1, err))
	}

	m.log.Info("storage manager closed", zap.String("session", m.session))
	return errs.ErrorOrNil()
}
