// Package store persists list snapshots with replace-and-backup semantics:
// the snapshot is written to a temporary file, the existing data file is
// preserved at a timestamped backup path, and the temporary file is renamed
// onto the canonical path. At every instant the canonical path holds either
// the old or the new file, never a partial write.
package store

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/emdash/todoserver/internal/list"
)

const backupStamp = "20060102-150405.000000000"

type Store struct {
	dataPath  string
	backupDir string
	logger    *slog.Logger
}

func New(dataPath, backupDir string, logger *slog.Logger) *Store {
	return &Store{
		dataPath:  dataPath,
		backupDir: backupDir,
		logger:    logger.With(slog.String("component", "store")),
	}
}

// Save writes the records durably: temp write, backup, then the rename onto
// the canonical path. The backup-then-replace order is the crash-safety
// mechanism and must not be reordered.
func (s *Store) Save(records []list.Record) error {
	tmp, err := s.writeTemp(records)
	if err != nil {
		return err
	}
	if err := s.backupExisting(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, s.dataPath); err != nil {
		return err
	}
	s.logger.Debug("Snapshot saved", slog.Int("lists", len(records)))
	return nil
}

// writeTemp serializes the records next to the data file, so the final
// rename stays within one filesystem.
func (s *Store) writeTemp(records []list.Record) (string, error) {
	if records == nil {
		records = []list.Record{}
	}
	data, err := json.Marshal(records)
	if err != nil {
		return "", err
	}
	tmp := s.dataPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", err
	}
	return tmp, nil
}

// backupExisting preserves the current data file, when there is one, at a
// timestamped path under the backup directory. A hard link rather than a
// rename: the canonical path must keep holding a valid file through the
// window before the final rename lands, so a crash there loses the new
// snapshot but never the live data.
func (s *Store) backupExisting() error {
	if _, err := os.Stat(s.dataPath); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if err := os.MkdirAll(s.backupDir, 0o755); err != nil {
		return err
	}
	stamp := time.Now().UTC().Format(backupStamp)
	backup := filepath.Join(s.backupDir, filepath.Base(s.dataPath)+"."+stamp)
	return os.Link(s.dataPath, backup)
}

// Load reads the persisted records. An absent data file means no persisted
// state, not a failure.
func (s *Store) Load() ([]list.Record, error) {
	data, err := os.ReadFile(s.dataPath)
	if err != nil {
		if os.IsNotExist(err) {
			s.logger.Info("No data file; starting empty", slog.String("path", s.dataPath))
			return nil, nil
		}
		return nil, err
	}
	var records []list.Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, err
	}
	s.logger.Info("Snapshot loaded", slog.Int("lists", len(records)))
	return records, nil
}
