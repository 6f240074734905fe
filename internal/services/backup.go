package services

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"

	"github.com/tbourn/go-chat-store/internal/events"
	"github.com/tbourn/go-chat-store/internal/repo"
)

// BackupFileName returns a timestamped backup name, e.g.
// "chat_backup_20250102_150405.db".
func BackupFileName(at time.Time) string {
	return "chat_backup_" + at.UTC().Format("20060102_150405") + ".db"
}

// Backup writes a consistent snapshot of the database to path. The snapshot
// is written to a temporary file in the same directory and renamed into
// place, so path is either the previous file or a complete backup.
func (s *MessageStore) Backup(ctx context.Context, path string) (err error) {
	ctx, span := s.startSpan(ctx, "Backup", attribute.String("backup.path", path))
	defer s.finish(span, "backup", time.Now(), &err)
	defer func() {
		s.bus.Publish(events.Event{Kind: events.BackupCompleted, Path: path, Success: err == nil, Err: err})
	}()

	tmp := filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+"."+uuid.NewString()+".tmp")
	defer os.Remove(tmp)

	err = s.withDB(func(db *gorm.DB) error {
		return repo.BackupTo(ctx, db, tmp)
	})
	if err != nil {
		return storeErr("backup", err)
	}
	if err = os.Rename(tmp, path); err != nil {
		return storeErr("backup", err)
	}
	s.log.Info().Str("path", path).Msg("backup written")
	return nil
}

// Restore replaces the database with the backup at path. In-flight
// operations finish first; new ones wait until the restore completes. The
// current database files are copied to "<db>.backup" as they are on disk,
// so a corrupt store can still be restored. The copy is kept until the
// restored file has opened, migrated and passed the integrity check; on any
// failure it is put back and reopened.
func (s *MessageStore) Restore(ctx context.Context, path string) (err error) {
	ctx, span := s.startSpan(ctx, "Restore", attribute.String("backup.path", path))
	defer s.finish(span, "restore", time.Now(), &err)

	if _, statErr := os.Stat(path); statErr != nil {
		return storeErr("restore", statErr)
	}

	s.mu.Lock()
	published := false
	defer func() {
		s.mu.Unlock()
		if published {
			s.bus.Publish(events.Event{Kind: events.RestoreCompleted, Path: path, Success: true})
		} else {
			s.bus.Publish(events.Event{Kind: events.RestoreCompleted, Path: path, Success: false, Err: err})
		}
	}()
	if s.db == nil || s.status != StorageReady {
		return storeErr("restore", ErrNotReady)
	}

	// a corrupt database may refuse the checkpoint; the WAL is copied too
	if cpErr := repo.Checkpoint(ctx, s.db); cpErr != nil {
		s.log.Warn().Err(cpErr).Msg("checkpoint before restore failed")
	}
	if closeErr := repo.Close(s.db); closeErr != nil {
		s.log.Warn().Err(closeErr).Msg("close before restore")
	}
	s.db = nil
	s.status = StorageBusy

	safety := s.cfg.Path + ".backup"
	removeDatabaseFiles(safety)
	if err = copyDatabase(s.cfg.Path, safety); err != nil {
		removeDatabaseFiles(safety)
		s.reopen(ctx)
		return storeErr("restore", fmt.Errorf("snapshot current database: %w", err))
	}

	defer func() {
		if rec := recover(); rec != nil {
			err = storeErr("restore", fmt.Errorf("panic during restore: %v", rec))
		}
		if err != nil {
			s.rollback(ctx, safety)
		}
	}()

	if err = replaceFile(path, s.cfg.Path); err != nil {
		return storeErr("restore", err)
	}
	db, err := s.openDB(ctx)
	if err != nil {
		return storeErr("restore", err)
	}
	problems, err := repo.IntegrityCheck(ctx, db)
	if err == nil && len(problems) > 0 {
		err = fmt.Errorf("%w: %v", ErrIntegrity, problems)
	}
	if err != nil {
		_ = repo.Close(db)
		return storeErr("restore", err)
	}

	s.db = db
	s.status = StorageReady
	s.ClearCache()
	s.rev.Add(1)
	removeDatabaseFiles(safety)
	published = true
	s.log.Info().Str("from", path).Msg("database restored")
	return nil
}

// rollback puts the pre-restore snapshot back. Caller holds s.mu.
func (s *MessageStore) rollback(ctx context.Context, safety string) {
	if err := copyDatabase(safety, s.cfg.Path); err != nil {
		s.status = StorageError
		s.log.Error().Err(err).Str("snapshot", safety).Msg("restore rollback failed; snapshot kept")
		return
	}
	if s.reopen(ctx) {
		removeDatabaseFiles(safety)
		s.log.Warn().Msg("restore failed; previous database reinstated")
	}
}

// reopen opens the database file again after a failed restore step.
// Caller holds s.mu.
func (s *MessageStore) reopen(ctx context.Context) bool {
	db, err := s.openDB(context.WithoutCancel(ctx))
	if err != nil {
		s.status = StorageError
		s.log.Error().Err(err).Msg("reopen after failed restore")
		return false
	}
	s.db = db
	s.status = StorageReady
	s.ClearCache()
	s.rev.Add(1)
	return true
}

// copyDatabase copies the main file of src, and its WAL when one exists, over
// dst.
func copyDatabase(src, dst string) error {
	if err := replaceFile(src, dst); err != nil {
		return err
	}
	if _, err := os.Stat(src + "-wal"); err != nil {
		return nil
	}
	return replaceFile(src+"-wal", dst+"-wal")
}

func removeDatabaseFiles(path string) {
	for _, suffix := range []string{"", "-wal", "-shm"} {
		_ = os.Remove(path + suffix)
	}
}

// replaceFile atomically replaces dst with a copy of src and removes the
// stale WAL and shared-memory files of dst.
func replaceFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	for _, suffix := range []string{"-wal", "-shm"} {
		if err := os.Remove(dst + suffix); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return os.Rename(tmp.Name(), dst)
}
