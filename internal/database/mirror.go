package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/example/studybot/internal/logger"
	"github.com/example/studybot/pkg/models"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Mirror is a read-side SQL copy of the user snapshots. The JSON files stay
// the source of truth; the mirror is refreshed by the autosave job so the
// data can be queried with ordinary SQL tooling.
type Mirror struct {
	db  *sqlx.DB
	log *logger.Logger
}

// OpenMirror connects to the mirror database and creates the schema.
// driver is "sqlite3" or "postgres".
func OpenMirror(driver, dsn string, log *logger.Logger) (*Mirror, error) {
	db, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mirror: %w", err)
	}

	if driver == "sqlite3" {
		// SQLite doesn't support multiple writers
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	m := &Mirror{db: db, log: log}
	if err := m.initializeSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return m, nil
}

// Close closes the mirror connection
func (m *Mirror) Close() error {
	return m.db.Close()
}

func (m *Mirror) initializeSchema() error {
	_, err := m.db.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			full_name TEXT NOT NULL DEFAULT '',
			username TEXT NOT NULL DEFAULT '',
			subject TEXT,
			free_uses_today INTEGER NOT NULL DEFAULT 0,
			last_free_date TEXT NOT NULL DEFAULT '',
			premium_until BIGINT NOT NULL DEFAULT 0,
			referrer TEXT,
			referrals TEXT NOT NULL DEFAULT '[]',
			synced_at TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create users table: %w", err)
	}
	return nil
}

// Sync upserts every record of snap in a single transaction
func (m *Mirror) Sync(ctx context.Context, snap models.Snapshot) error {
	tx, err := m.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin mirror sync: %w", err)
	}
	defer tx.Rollback()

	query := tx.Rebind(`
		INSERT INTO users (
			id, full_name, username, subject, free_uses_today,
			last_free_date, premium_until, referrer, referrals, synced_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			full_name = excluded.full_name,
			username = excluded.username,
			subject = excluded.subject,
			free_uses_today = excluded.free_uses_today,
			last_free_date = excluded.last_free_date,
			premium_until = excluded.premium_until,
			referrer = excluded.referrer,
			referrals = excluded.referrals,
			synced_at = excluded.synced_at
	`)

	now := time.Now().UTC()
	for id, u := range snap {
		referrals, err := json.Marshal(nonNil(u.Referrals))
		if err != nil {
			return fmt.Errorf("failed to marshal referrals of %s: %w", id, err)
		}
		_, err = tx.ExecContext(ctx, query,
			id,
			u.FullName,
			u.Username,
			u.Subject,
			u.FreeUsesToday,
			u.LastFreeDate,
			u.PremiumUntil,
			u.Referrer,
			string(referrals),
			now,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert user %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit mirror sync: %w", err)
	}

	m.log.Debug().Int("users", len(snap)).Msg("mirror synced")
	return nil
}

// Count returns the number of mirrored users. The status server reports it
// on /healthz.
func (m *Mirror) Count(ctx context.Context) (int, error) {
	var n int
	if err := m.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM users"); err != nil {
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return n, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
