package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Wyydra/loopync/internal/core/domain"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// ThreadRepository caches the last fetched snapshot of each thread so the
// bridge can answer before the backend does.
type ThreadRepository struct {
	db *sql.DB
}

func NewThreadRepository(path string) (*ThreadRepository, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open thread cache: %w", err)
	}

	db.Exec("PRAGMA journal_mode = WAL")
	db.Exec("PRAGMA synchronous = NORMAL")
	db.Exec("PRAGMA temp_store = MEMORY")
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping thread cache: %w", err)
	}

	r := &ThreadRepository{db: db}
	if err := r.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("create thread cache tables: %w", err)
	}
	log.Debug().Str("path", path).Msg("Thread cache ready")
	return r, nil
}

func (r *ThreadRepository) createTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS thread_messages (
			thread_id TEXT NOT NULL,
			position INTEGER NOT NULL,
			id TEXT NOT NULL,
			sender_id TEXT NOT NULL,
			sender TEXT,
			text TEXT NOT NULL DEFAULT '',
			media_url TEXT NOT NULL DEFAULT '',
			created_at DATETIME,
			PRIMARY KEY (thread_id, position)
		)`,
	}
	for _, q := range queries {
		if _, err := r.db.Exec(q); err != nil {
			return err
		}
	}
	return nil
}

func (r *ThreadRepository) Close() error {
	return r.db.Close()
}

func (r *ThreadRepository) ReplaceThread(ctx context.Context, threadID domain.ThreadID, msgs []domain.Message) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM thread_messages WHERE thread_id = ?`, threadID.String()); err != nil {
		return fmt.Errorf("clear thread: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO thread_messages
		(thread_id, position, id, sender_id, sender, text, media_url, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, m := range msgs {
		var sender sql.NullString
		if m.Sender != nil {
			b, err := json.Marshal(m.Sender)
			if err != nil {
				return err
			}
			sender = sql.NullString{String: string(b), Valid: true}
		}
		var created sql.NullTime
		if !m.CreatedAt.IsZero() {
			created = sql.NullTime{Time: m.CreatedAt.UTC(), Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, threadID.String(), i, m.ID.String(), m.SenderID.String(),
			sender, m.Text, m.MediaURL, created); err != nil {
			return fmt.Errorf("insert message %s: %w", m.ID, err)
		}
	}
	return tx.Commit()
}

func (r *ThreadRepository) Clear(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM thread_messages`); err != nil {
		return fmt.Errorf("clear thread cache: %w", err)
	}
	return nil
}

func (r *ThreadRepository) Thread(ctx context.Context, threadID domain.ThreadID) ([]domain.Message, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, sender_id, sender, text, media_url, created_at
		FROM thread_messages WHERE thread_id = ? ORDER BY position`, threadID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	msgs := []domain.Message{}
	for rows.Next() {
		var (
			m       domain.Message
			sender  sql.NullString
			created sql.NullTime
		)
		if err := rows.Scan(&m.ID, &m.SenderID, &sender, &m.Text, &m.MediaURL, &created); err != nil {
			return nil, err
		}
		m.ThreadID = threadID
		if sender.Valid {
			m.Sender = &domain.User{}
			if err := json.Unmarshal([]byte(sender.String), m.Sender); err != nil {
				return nil, fmt.Errorf("decode sender of %s: %w", m.ID, err)
			}
		}
		if created.Valid {
			m.CreatedAt = created.Time.In(time.UTC)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
