package embedding

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	apperrors "factnews/internal/common/errors"
)

// snapshotMagic identifies the durable vector table format.
const snapshotMagic = "FNEM"

const snapshotVersion = 1

// ErrLockTimeout is returned when the snapshot lease could not be acquired
// promptly. Callers fall back to the source-of-truth tier instead of
// blocking; the snapshot itself stays untouched.
var ErrLockTimeout = errors.New("snapshot lock acquisition timed out")

// Table is an in-memory copy of the durable snapshot.
type Table struct {
	Dim     int
	Vectors map[string][]float32
}

// Snapshot is the durable local tier: one flat file holding every known
// chunk vector. Multiple cooperating processes may read and write it; an
// advisory file lock serializes read-modify-write cycles and writes go
// through a temp file + rename so readers never observe a half-written
// table.
type Snapshot struct {
	path        string
	lockTimeout time.Duration
}

func NewSnapshot(path string, lockTimeout time.Duration) *Snapshot {
	if lockTimeout <= 0 {
		lockTimeout = 2 * time.Second
	}
	return &Snapshot{path: path, lockTimeout: lockTimeout}
}

func (s *Snapshot) lockPath() string { return s.path + ".lock" }

func (s *Snapshot) acquire(ctx context.Context, shared bool) (*flock.Flock, error) {
	fl := flock.New(s.lockPath())
	lockCtx, cancel := context.WithTimeout(ctx, s.lockTimeout)
	defer cancel()

	var (
		ok  bool
		err error
	)
	if shared {
		ok, err = fl.TryRLockContext(lockCtx, 50*time.Millisecond)
	} else {
		ok, err = fl.TryLockContext(lockCtx, 50*time.Millisecond)
	}
	if err != nil || !ok {
		if err == nil || errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrLockTimeout
		}
		return nil, err
	}
	return fl, nil
}

// Load reads the full vector table under a shared lock. A missing file
// yields an empty table. ErrLockTimeout means the caller should skip this
// tier for now.
func (s *Snapshot) Load(ctx context.Context) (*Table, error) {
	fl, err := s.acquire(ctx, true)
	if err != nil {
		return nil, err
	}
	defer fl.Unlock()

	return s.readTable()
}

// Merge folds vectors into the existing table under an exclusive lock and
// rewrites the file atomically. All vectors in one table must share a
// dimensionality; a mismatch aborts the merge.
func (s *Snapshot) Merge(ctx context.Context, vectors map[string][]float32) error {
	if len(vectors) == 0 {
		return nil
	}
	fl, err := s.acquire(ctx, false)
	if err != nil {
		return err
	}
	defer fl.Unlock()

	table, err := s.readTable()
	if err != nil {
		return err
	}

	dim := table.Dim
	for id, vec := range vectors {
		if dim == 0 {
			dim = len(vec)
		} else if len(vec) != dim {
			return apperrors.NewDimensionMismatchError(dim, len(vec), id)
		}
		table.Vectors[id] = vec
	}
	table.Dim = dim

	return s.writeTable(table)
}

// Prune removes every vector whose id is not in keep, under an exclusive
// lock. Used when the corpus is rebuilt and old chunks disappear.
func (s *Snapshot) Prune(ctx context.Context, keep map[string]struct{}) error {
	fl, err := s.acquire(ctx, false)
	if err != nil {
		return err
	}
	defer fl.Unlock()

	table, err := s.readTable()
	if err != nil {
		return err
	}
	changed := false
	for id := range table.Vectors {
		if _, ok := keep[id]; !ok {
			delete(table.Vectors, id)
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return s.writeTable(table)
}

func (s *Snapshot) readTable() (*Table, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Table{Vectors: map[string][]float32{}}, nil
		}
		return nil, err
	}
	defer f.Close()

	var magic [4]byte
	if _, err := io.ReadFull(f, magic[:]); err != nil {
		return nil, fmt.Errorf("snapshot header: %w", err)
	}
	if string(magic[:]) != snapshotMagic {
		return nil, fmt.Errorf("snapshot %s: bad magic %q", s.path, magic)
	}

	var version uint16
	if err := binary.Read(f, binary.LittleEndian, &version); err != nil {
		return nil, err
	}
	if version != snapshotVersion {
		return nil, fmt.Errorf("snapshot %s: unsupported version %d", s.path, version)
	}

	var dim, count uint32
	if err := binary.Read(f, binary.LittleEndian, &dim); err != nil {
		return nil, err
	}
	if err := binary.Read(f, binary.LittleEndian, &count); err != nil {
		return nil, err
	}

	table := &Table{Dim: int(dim), Vectors: make(map[string][]float32, count)}
	for i := uint32(0); i < count; i++ {
		id, err := readString(f)
		if err != nil {
			return nil, fmt.Errorf("snapshot row %d: %w", i, err)
		}
		vec := make([]float32, dim)
		raw := make([]byte, 4*dim)
		if _, err := io.ReadFull(f, raw); err != nil {
			return nil, fmt.Errorf("snapshot row %d: %w", i, err)
		}
		for j := range vec {
			vec[j] = math.Float32frombits(binary.LittleEndian.Uint32(raw[4*j:]))
		}
		table.Vectors[id] = vec
	}
	return table, nil
}

func (s *Snapshot) writeTable(table *Table) error {
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write([]byte(snapshotMagic)); err != nil {
		tmp.Close()
		return err
	}
	if err := binary.Write(tmp, binary.LittleEndian, uint16(snapshotVersion)); err != nil {
		tmp.Close()
		return err
	}
	if err := binary.Write(tmp, binary.LittleEndian, uint32(table.Dim)); err != nil {
		tmp.Close()
		return err
	}
	if err := binary.Write(tmp, binary.LittleEndian, uint32(len(table.Vectors))); err != nil {
		tmp.Close()
		return err
	}
	for id, vec := range table.Vectors {
		if err := writeString(tmp, id); err != nil {
			tmp.Close()
			return err
		}
		raw := make([]byte, 4*len(vec))
		for j, v := range vec {
			binary.LittleEndian.PutUint32(raw[4*j:], math.Float32bits(v))
		}
		if _, err := tmp.Write(raw); err != nil {
			tmp.Close()
			return err
		}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, s.path)
}

func readString(r io.Reader) (string, error) {
	var n uint16
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func writeString(w io.Writer, s string) error {
	if len(s) > math.MaxUint16 {
		return fmt.Errorf("id too long: %d bytes", len(s))
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(len(s))); err != nil {
		return err
	}
	_, err := w.Write([]byte(s))
	return err
}
