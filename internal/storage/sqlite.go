package storage

import (
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/pothole.report/internal/hits"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements HitStore on a local SQLite database. The full
// record travels as a JSON payload column; a few fields are broken out for
// ad-hoc queries, mirroring the file backend's index.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path and applies any
// pending migrations.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db %s: %w", path, err)
	}
	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func runMigrations(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// Store inserts one record.
func (s *SQLiteStore) Store(rec *hits.ServerHitRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record %d: %w", rec.RecordID, err)
	}
	_, err = s.db.Exec(`
		INSERT INTO hits (record_id, server_timestamp_ms, protocol_version, device_id, app_version, source, severity, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RecordID, rec.ServerTimestampMS, rec.ProtocolVersion, rec.DeviceID,
		rec.AppVersion, rec.NormalisedSource(), rec.Hit.Pattern.Severity, string(payload))
	if err != nil {
		return fmt.Errorf("insert record %d: %w", rec.RecordID, err)
	}
	return nil
}

// StoreBatch inserts records sequentially; no atomicity across the batch.
func (s *SQLiteStore) StoreBatch(recs []*hits.ServerHitRecord) error {
	for _, rec := range recs {
		if err := s.Store(rec); err != nil {
			return err
		}
	}
	return nil
}

// ReadAll returns every stored record.
func (s *SQLiteStore) ReadAll() ([]hits.ServerHitRecord, error) {
	rows, err := s.db.Query(`SELECT payload FROM hits`)
	if err != nil {
		return nil, fmt.Errorf("query hits: %w", err)
	}
	defer rows.Close()

	var all []hits.ServerHitRecord
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan hit row: %w", err)
		}
		var rec hits.ServerHitRecord
		if err := json.Unmarshal([]byte(payload), &rec); err != nil {
			return nil, fmt.Errorf("unmarshal hit payload: %w", err)
		}
		all = append(all, rec)
	}
	return all, rows.Err()
}

// Delete removes the matching record ids and reports how many existed.
func (s *SQLiteStore) Delete(ids map[int64]bool) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	placeholders := make([]string, 0, len(ids))
	args := make([]any, 0, len(ids))
	for id := range ids {
		placeholders = append(placeholders, "?")
		args = append(args, id)
	}
	res, err := s.db.Exec(
		`DELETE FROM hits WHERE record_id IN (`+strings.Join(placeholders, ",")+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("delete hits: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
