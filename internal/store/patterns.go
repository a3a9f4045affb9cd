package store

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/sgerhart/logwhisperer/internal/model"
)

// PatternDB is a JSON-lines pattern database guarded by advisory file locks.
//
// Readers hold a shared lock for the whole read and writers an exclusive lock
// for the whole rewrite, so a reader never observes a partial write. The
// load-modify-save cycle of a run is not atomic on its own; callers that need
// that hold a RunLock around it.
type PatternDB struct {
	path   string
	locker Locker
	logger *slog.Logger
}

// Option configures a PatternDB
type Option func(*PatternDB)

// WithLocker overrides the platform locker
func WithLocker(l Locker) Option {
	return func(db *PatternDB) {
		db.locker = l
	}
}

// WithLogger sets the logger used to report skipped lines
func WithLogger(l *slog.Logger) Option {
	return func(db *PatternDB) {
		db.logger = l
	}
}

// LoadResult is the outcome of a Load. Skipped counts lines that failed to parse.
type LoadResult struct {
	Records map[string]*model.PatternRecord
	Skipped int
}

// Degraded reports whether some stored entries were lost while loading
func (r LoadResult) Degraded() bool {
	return r.Skipped > 0
}

// OpenPatternDB creates the database file and its parent directories if absent
func OpenPatternDB(path string, opts ...Option) (*PatternDB, error) {
	db := &PatternDB{
		path:   path,
		locker: DefaultLocker(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(db)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_RDONLY|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to create pattern db: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, err
	}

	return db, nil
}

// Path returns the backing file path
func (db *PatternDB) Path() string {
	return db.path
}

// Load reads every record under a shared lock. Malformed lines are skipped.
func (db *PatternDB) Load() (result LoadResult, err error) {
	result.Records = make(map[string]*model.PatternRecord)

	f, err := os.OpenFile(db.path, os.O_RDONLY|os.O_CREATE, 0o644)
	if err != nil {
		return result, fmt.Errorf("failed to open pattern db: %w", err)
	}
	defer f.Close()

	if err := db.locker.LockShared(f); err != nil {
		return result, fmt.Errorf("failed to lock pattern db for reading: %w", err)
	}
	defer func() {
		if uerr := db.locker.Unlock(f); uerr != nil && err == nil {
			err = fmt.Errorf("failed to unlock pattern db: %w", uerr)
		}
	}()

	reader := bufio.NewReader(f)
	lineNo := 0
	for {
		line, readErr := reader.ReadBytes('\n')
		if len(line) > 0 {
			lineNo++
			line = bytes.TrimSpace(line)
			if len(line) > 0 {
				rec, perr := decodeRecord(line)
				if perr != nil {
					result.Skipped++
					db.logger.Warn("Skipping malformed pattern db line",
						"path", db.path,
						"line", lineNo,
						"error", perr)
				} else {
					result.Records[rec.Hash] = rec
				}
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return result, fmt.Errorf("failed to read pattern db: %w", readErr)
		}
	}

	return result, nil
}

// Save rewrites the whole database under an exclusive lock, sorted by hash.
// The file is truncated in place so the lock stays on the same inode. An
// encode or write failure after the truncate leaves the database empty or
// partial, and the error is returned to the caller.
func (db *PatternDB) Save(records map[string]*model.PatternRecord) (err error) {
	f, err := os.OpenFile(db.path, os.O_WRONLY|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open pattern db for writing: %w", err)
	}
	defer f.Close()

	if err := db.locker.LockExclusive(f); err != nil {
		return fmt.Errorf("failed to lock pattern db for writing: %w", err)
	}
	defer func() {
		if uerr := db.locker.Unlock(f); uerr != nil && err == nil {
			err = fmt.Errorf("failed to unlock pattern db: %w", uerr)
		}
	}()

	// Truncate only once the lock is held
	if err := f.Truncate(0); err != nil {
		return fmt.Errorf("failed to truncate pattern db: %w", err)
	}

	hashes := make([]string, 0, len(records))
	for h, rec := range records {
		if rec != nil {
			hashes = append(hashes, h)
		}
	}
	sort.Strings(hashes)

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for _, h := range hashes {
		rec := *records[h]
		rec.Hash = h
		if err := enc.Encode(&rec); err != nil {
			return fmt.Errorf("failed to encode pattern %s: %w", h, err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to write pattern db: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("failed to sync pattern db: %w", err)
	}

	return nil
}

// Reset deletes the backing file. A missing file is not an error.
func (db *PatternDB) Reset() error {
	return ResetPatternDB(db.path)
}

// ResetPatternDB deletes the database at path. The run lock sidecar is kept
// so that a run holding it stays serialized with later ones.
func ResetPatternDB(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove pattern db: %w", err)
	}
	return nil
}

// RunLock serializes whole analysis runs against the same database
type RunLock struct {
	f      *os.File
	locker Locker
}

// AcquireRunLock takes an exclusive lock on the "<db>.lock" sidecar file.
// It blocks until any overlapping run releases it.
func (db *PatternDB) AcquireRunLock() (*RunLock, error) {
	f, err := os.OpenFile(db.path+".lock", os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open run lock: %w", err)
	}
	if err := db.locker.LockExclusive(f); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to acquire run lock: %w", err)
	}
	return &RunLock{f: f, locker: db.locker}, nil
}

// Release unlocks and closes the run lock
func (l *RunLock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	uerr := l.locker.Unlock(l.f)
	cerr := l.f.Close()
	l.f = nil
	if uerr != nil {
		return uerr
	}
	return cerr
}

// recordLine is the on-disk shape. Pointers detect missing fields.
type recordLine struct {
	Hash      *string  `json:"h"`
	FirstSeen *flexInt `json:"first_seen"`
	LastSeen  *flexInt `json:"last_seen"`
	TotalSeen *flexInt `json:"total_seen"`
	Severity  *string  `json:"severity"`
	Pattern   *string  `json:"pattern"`
	Sample    *string  `json:"sample"`
}

func decodeRecord(line []byte) (*model.PatternRecord, error) {
	var rl recordLine
	if err := json.Unmarshal(line, &rl); err != nil {
		return nil, err
	}

	switch {
	case rl.Hash == nil || *rl.Hash == "":
		return nil, errors.New("missing field h")
	case rl.FirstSeen == nil:
		return nil, errors.New("missing field first_seen")
	case rl.LastSeen == nil:
		return nil, errors.New("missing field last_seen")
	case rl.TotalSeen == nil:
		return nil, errors.New("missing field total_seen")
	case rl.Severity == nil:
		return nil, errors.New("missing field severity")
	case rl.Pattern == nil:
		return nil, errors.New("missing field pattern")
	case rl.Sample == nil:
		return nil, errors.New("missing field sample")
	}

	return &model.PatternRecord{
		Hash:      *rl.Hash,
		FirstSeen: int64(*rl.FirstSeen),
		LastSeen:  int64(*rl.LastSeen),
		TotalSeen: int64(*rl.TotalSeen),
		Severity:  model.Severity(*rl.Severity),
		Pattern:   *rl.Pattern,
		Sample:    *rl.Sample,
	}, nil
}
