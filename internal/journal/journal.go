// Package journal keeps an append-only SQLite transcript of every turn.
// It is write-only: conversations are never restored from it.
package journal

import (
	"database/sql"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"ChatDesk/internal/session"
)

const schema = `
CREATE TABLE IF NOT EXISTS conversations (
	id TEXT PRIMARY KEY,
	started_at DATETIME
);
CREATE TABLE IF NOT EXISTS turns (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	conversation_id TEXT,
	seq INTEGER,
	role TEXT,
	content TEXT,
	created_at DATETIME,
	FOREIGN KEY(conversation_id) REFERENCES conversations(id)
);`

// Entry is one recorded turn.
type Entry struct {
	ConversationID string
	Seq            int
	Role           string
	Content        string
	CreatedAt      time.Time
}

type Journal struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open creates or opens the journal database at path.
func Open(path string, logger *slog.Logger) (*Journal, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open journal database")
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to create journal tables")
	}
	return &Journal{db: db, logger: logger}, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}

// Attach subscribes the journal to store so every change is recorded.
func (j *Journal) Attach(store *session.Store) {
	id := store.ConversationID()
	if err := j.startConversation(id); err != nil {
		j.logger.Warn("failed to record conversation", "conversation_id", id, "error", err)
	}
	store.Subscribe(j.Record)
}

// Record writes one change. Failures are logged; the conversation carries on.
func (j *Journal) Record(change session.Change) {
	var err error
	switch change.Kind {
	case session.ChangeReset:
		err = j.startConversation(change.ConversationID)
	case session.ChangeAppended:
		_, err = j.db.Exec(
			"INSERT INTO turns (conversation_id, seq, role, content, created_at) VALUES (?, ?, ?, ?, ?)",
			change.ConversationID, change.Index, change.Message.Role.String(),
			change.Message.Content, change.Message.CreatedAt,
		)
	}
	if err != nil {
		j.logger.Warn("failed to record turn", "conversation_id", change.ConversationID, "error", err)
	}
}

func (j *Journal) startConversation(id string) error {
	_, err := j.db.Exec(
		"INSERT OR IGNORE INTO conversations (id, started_at) VALUES (?, ?)",
		id, time.Now(),
	)
	return err
}

// Entries returns the recorded turns of one conversation in order.
func (j *Journal) Entries(conversationID string) ([]Entry, error) {
	rows, err := j.db.Query(
		"SELECT conversation_id, seq, role, content, created_at FROM turns WHERE conversation_id = ? ORDER BY seq",
		conversationID,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load turns")
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ConversationID, &e.Seq, &e.Role, &e.Content, &e.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan turn")
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Conversations returns the number of conversations recorded.
func (j *Journal) Conversations() (int, error) {
	var n int
	if err := j.db.QueryRow("SELECT COUNT(*) FROM conversations").Scan(&n); err != nil {
		return 0, errors.Wrap(err, "failed to count conversations")
	}
	return n, nil
}
