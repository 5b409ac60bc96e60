package session

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"

	_ "github.com/lib/pq"

	"enigbot/internal/config"
	"enigbot/internal/models"
)

// TranscriptEntry is one persisted exchange of a session.
type TranscriptEntry struct {
	bun.BaseModel `bun:"table:transcripts,alias:tr"`
	ID            int64     `bun:"id,pk,autoincrement"`
	SessionID     string    `bun:"session_id,notnull"`
	At            time.Time `bun:"at,notnull"`
	Language      string    `bun:"language,notnull"`
	Intent        string    `bun:"intent,notnull"`
	Question      string    `bun:"question,notnull"`
	Answer        string    `bun:"answer,notnull"`
	Sources       string    `bun:"sources"`
	Iterations    int       `bun:"iterations"`
	ElapsedMS     int64     `bun:"elapsed_ms"`
}

// TranscriptStore persists session transcripts to Postgres.
type TranscriptStore struct {
	db *bun.DB
}

func ConnectTranscripts(cfg *config.DatabaseConfig) (*TranscriptStore, error) {
	sqldb := sql.OpenDB(pgdriver.NewConnector(
		pgdriver.WithDSN(cfg.DSN),
		pgdriver.WithPassword(cfg.Password),
	))
	db := bun.NewDB(sqldb, pgdialect.New())
	if cfg.Debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}
	return &TranscriptStore{db: db}, nil
}

func (t *TranscriptStore) Init(ctx context.Context) error {
	_, err := t.db.NewCreateTable().Model((*TranscriptEntry)(nil)).IfNotExists().Exec(ctx)
	return err
}

func (t *TranscriptStore) Close() error {
	return t.db.Close()
}

// Append writes one turn of a session to the transcript.
func (t *TranscriptStore) Append(ctx context.Context, sessionID string, turn models.Turn) error {
	entry := &TranscriptEntry{
		SessionID:  sessionID,
		At:         turn.At,
		Language:   string(turn.Query.Language),
		Intent:     string(turn.Query.Intent),
		Question:   turn.Query.Raw,
		Answer:     turn.Result.Answer,
		Sources:    strings.Join(turn.Result.Sources, "\n"),
		Iterations: turn.Result.Iterations,
		ElapsedMS:  turn.Result.Elapsed.Milliseconds(),
	}
	_, err := t.db.NewInsert().Model(entry).Exec(ctx)
	return err
}

// BySession returns a session's transcript in chronological order.
func (t *TranscriptStore) BySession(ctx context.Context, sessionID string) ([]TranscriptEntry, error) {
	var entries []TranscriptEntry
	err := t.db.NewSelect().
		Model(&entries).
		Where("session_id = ?", sessionID).
		Order("at ASC").
		Scan(ctx)
	return entries, err
}
