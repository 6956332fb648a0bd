package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/OrlandoBitencourt/gatekeep/internal/domain"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS flags (
	id     TEXT PRIMARY KEY,
	record TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS brands (
	id         TEXT PRIMARY KEY,
	record     TEXT NOT NULL,
	is_current INTEGER NOT NULL DEFAULT 0
);
`

// SQLitePersistence stores the snapshot as JSON records in a SQLite file.
// The schema is a plain key-value layout: ids and record blobs, plus the
// current-brand marker.
type SQLitePersistence struct {
	db *sql.DB
}

// NewSQLitePersistence opens (creating if needed) the database at path.
func NewSQLitePersistence(path string) (*SQLitePersistence, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLitePersistence{db: db}, nil
}

func (s *SQLitePersistence) SaveSnapshot(ctx context.Context, snapshot domain.Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM flags`); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM brands`); err != nil {
		return err
	}

	for id, flag := range snapshot.Flags {
		record, err := json.Marshal(flag)
		if err != nil {
			return fmt.Errorf("failed to marshal flag %s: %w", id, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO flags (id, record) VALUES (?, ?)`, id, string(record)); err != nil {
			return err
		}
	}

	for id, brand := range snapshot.Brands {
		record, err := json.Marshal(brand)
		if err != nil {
			return fmt.Errorf("failed to marshal brand %s: %w", id, err)
		}
		isCurrent := 0
		if id == snapshot.CurrentBrandID {
			isCurrent = 1
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO brands (id, record, is_current) VALUES (?, ?, ?)`,
			id, string(record), isCurrent); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *SQLitePersistence) LoadSnapshot(ctx context.Context) (domain.Snapshot, error) {
	snapshot := domain.Snapshot{
		Flags:  make(map[string]domain.FeatureFlag),
		Brands: make(map[string]domain.BrandRecord),
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id, record FROM flags`)
	if err != nil {
		return domain.Snapshot{}, err
	}
	defer rows.Close()

	for rows.Next() {
		var id, record string
		if err := rows.Scan(&id, &record); err != nil {
			return domain.Snapshot{}, err
		}
		var flag domain.FeatureFlag
		if err := json.Unmarshal([]byte(record), &flag); err != nil {
			return domain.Snapshot{}, fmt.Errorf("failed to decode flag %s: %w", id, err)
		}
		snapshot.Flags[id] = flag
	}
	if err := rows.Err(); err != nil {
		return domain.Snapshot{}, err
	}

	brandRows, err := s.db.QueryContext(ctx, `SELECT id, record, is_current FROM brands`)
	if err != nil {
		return domain.Snapshot{}, err
	}
	defer brandRows.Close()

	for brandRows.Next() {
		var id, record string
		var isCurrent int
		if err := brandRows.Scan(&id, &record, &isCurrent); err != nil {
			return domain.Snapshot{}, err
		}
		var brand domain.BrandRecord
		if err := json.Unmarshal([]byte(record), &brand); err != nil {
			return domain.Snapshot{}, fmt.Errorf("failed to decode brand %s: %w", id, err)
		}
		snapshot.Brands[id] = brand
		if isCurrent == 1 {
			snapshot.CurrentBrandID = id
		}
	}
	if err := brandRows.Err(); err != nil {
		return domain.Snapshot{}, err
	}

	if len(snapshot.Flags) == 0 && len(snapshot.Brands) == 0 {
		return domain.Snapshot{}, ErrNoSnapshot
	}

	return snapshot, nil
}

func (s *SQLitePersistence) Close() error {
	return s.db.Close()
}
