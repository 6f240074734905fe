package repo

import (
	"context"
	"strings"

	"gorm.io/gorm"
)

// Vacuum rebuilds the database file, reclaiming free pages.
func Vacuum(ctx context.Context, db *gorm.DB) error {
	return db.WithContext(ctx).Exec("VACUUM").Error
}

// Reindex rebuilds every index.
func Reindex(ctx context.Context, db *gorm.DB) error {
	return db.WithContext(ctx).Exec("REINDEX").Error
}

// Analyze refreshes the query planner statistics.
func Analyze(ctx context.Context, db *gorm.DB) error {
	return db.WithContext(ctx).Exec("ANALYZE").Error
}

// IntegrityCheck runs PRAGMA integrity_check and returns the reported
// problems. An empty slice means the database is consistent.
func IntegrityCheck(ctx context.Context, db *gorm.DB) ([]string, error) {
	rows, err := db.WithContext(ctx).Raw("PRAGMA integrity_check").Rows()
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var problems []string
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return nil, err
		}
		if !strings.EqualFold(strings.TrimSpace(line), "ok") {
			problems = append(problems, line)
		}
	}
	return problems, rows.Err()
}

// BackupTo writes a consistent snapshot of the database to path. The target
// must not exist.
func BackupTo(ctx context.Context, db *gorm.DB, path string) error {
	return db.WithContext(ctx).Exec("VACUUM INTO ?", path).Error
}

// Checkpoint folds the write-ahead log into the main database file.
func Checkpoint(ctx context.Context, db *gorm.DB) error {
	return db.WithContext(ctx).Exec("PRAGMA wal_checkpoint(TRUNCATE)").Error
}

// UsedBytes returns the bytes occupied by live pages (page_count minus the
// freelist, times page_size).
func UsedBytes(ctx context.Context, db *gorm.DB) (int64, error) {
	var pageCount, pageSize, freePages int64
	q := db.WithContext(ctx)
	if err := q.Raw("PRAGMA page_count").Scan(&pageCount).Error; err != nil {
		return 0, err
	}
	if err := q.Raw("PRAGMA page_size").Scan(&pageSize).Error; err != nil {
		return 0, err
	}
	if err := q.Raw("PRAGMA freelist_count").Scan(&freePages).Error; err != nil {
		return 0, err
	}
	return (pageCount - freePages) * pageSize, nil
}
