package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"
)

// BaselineState records until when newly seen patterns must not alert
type BaselineState struct {
	BaselineUntil int64 `json:"baseline_until"` // epoch seconds, 0 = inactive
}

type baselineFile struct {
	BaselineUntil *flexInt `json:"baseline_until"`
}

// LoadBaseline returns the stored state, or the zero state if the file is missing or unparsable
func LoadBaseline(path string) BaselineState {
	data, err := os.ReadFile(path)
	if err != nil {
		return BaselineState{}
	}

	var bf baselineFile
	if err := json.Unmarshal(data, &bf); err != nil || bf.BaselineUntil == nil {
		return BaselineState{}
	}
	return BaselineState{BaselineUntil: int64(*bf.BaselineUntil)}
}

// Active reports whether learning mode is still running at now
func (s BaselineState) Active(now time.Time) bool {
	return s.BaselineUntil > now.Unix()
}

// Save writes the state, creating parent directories as needed
func (s BaselineState) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal baseline state: %w", err)
	}
	if err := writeFileAtomic(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write baseline state: %w", err)
	}
	return nil
}

// ResetBaseline removes the state file. A missing file is not an error.
func ResetBaseline(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove baseline state: %w", err)
	}
	return nil
}

// EnableLearning starts learning mode for the given number of seconds and returns the deadline.
// The read-modify-write is not atomic across processes.
func EnableLearning(path string, seconds int64, now time.Time) (int64, error) {
	start := now.Unix()
	if seconds < 0 || start > math.MaxInt64-seconds {
		return 0, fmt.Errorf("%w: learning window of %d seconds is out of range", ErrInvalidFormat, seconds)
	}
	until := start + seconds

	st := LoadBaseline(path)
	st.BaselineUntil = until
	if err := st.Save(path); err != nil {
		return 0, err
	}
	return until, nil
}

// writeFileAtomic writes data to path via temp file + rename
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	ok := false
	defer func() {
		_ = tmp.Close()
		if !ok {
			_ = os.Remove(tmpName)
		}
	}()

	if err := tmp.Chmod(perm); err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	ok = true
	return nil
}
