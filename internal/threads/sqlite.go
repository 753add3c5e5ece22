package threads

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/haasonsaas/strand/pkg/models"
	_ "modernc.org/sqlite" // Pure-Go SQLite driver
)

// SQLiteStore implements Store on a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) a SQLite-backed store at path.
// An empty path opens an in-memory database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single pooled connection keeps :memory: databases coherent and
	// serializes writers, which SQLite requires anyway.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) init() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS threads (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL DEFAULT '',
			metadata TEXT,
			last_seq INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create threads table: %w", err)
	}

	_, err = s.db.Exec(`
		CREATE TABLE IF NOT EXISTS messages (
			thread_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			id TEXT NOT NULL,
			kind TEXT NOT NULL,
			content TEXT NOT NULL DEFAULT '',
			tool_calls TEXT,
			tool_results TEXT,
			model_visible INTEGER NOT NULL DEFAULT 1,
			metadata TEXT,
			created_at TIMESTAMP NOT NULL,
			PRIMARY KEY (thread_id, seq)
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create messages table: %w", err)
	}
	return nil
}

func (s *SQLiteStore) CreateThread(ctx context.Context, thread *models.Thread) error {
	if thread == nil {
		return errors.New("thread is required")
	}
	if thread.ID == "" {
		thread.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if thread.CreatedAt.IsZero() {
		thread.CreatedAt = now
	}
	thread.UpdatedAt = thread.CreatedAt

	metadata, err := json.Marshal(thread.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO threads (id, title, metadata, last_seq, created_at, updated_at)
		VALUES (?, ?, ?, 0, ?, ?)
		ON CONFLICT (id) DO NOTHING
	`, thread.ID, thread.Title, metadata, thread.CreatedAt, thread.UpdatedAt)
	if err != nil {
		return &PersistenceError{Op: "create thread", Err: err}
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return &PersistenceError{Op: "create thread", Err: err}
	}
	if rows == 0 {
		return errors.New("thread already exists")
	}
	return nil
}

func (s *SQLiteStore) GetThread(ctx context.Context, id string) (*models.Thread, error) {
	thread := &models.Thread{}
	var metadataJSON []byte

	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, metadata, created_at, updated_at
		FROM threads WHERE id = ?
	`, id).Scan(&thread.ID, &thread.Title, &metadataJSON, &thread.CreatedAt, &thread.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrThreadNotFound
	}
	if err != nil {
		return nil, &PersistenceError{Op: "get thread", Err: err}
	}

	if len(metadataJSON) > 0 && string(metadataJSON) != "null" {
		if err := json.Unmarshal(metadataJSON, &thread.Metadata); err != nil {
			return nil, &PersistenceError{Op: "get thread", Err: err}
		}
	}
	return thread, nil
}

func (s *SQLiteStore) ListThreads(ctx context.Context, opts ListOptions) ([]*models.Thread, error) {
	query := `
		SELECT id, title, metadata, created_at, updated_at
		FROM threads
		ORDER BY updated_at DESC, id ASC
	`
	args := []any{}
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
		if opts.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, opts.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &PersistenceError{Op: "list threads", Err: err}
	}
	defer rows.Close()

	threads := []*models.Thread{}
	for rows.Next() {
		thread := &models.Thread{}
		var metadataJSON []byte
		if err := rows.Scan(&thread.ID, &thread.Title, &metadataJSON, &thread.CreatedAt, &thread.UpdatedAt); err != nil {
			return nil, &PersistenceError{Op: "list threads", Err: err}
		}
		if len(metadataJSON) > 0 && string(metadataJSON) != "null" {
			if err := json.Unmarshal(metadataJSON, &thread.Metadata); err != nil {
				return nil, &PersistenceError{Op: "list threads", Err: err}
			}
		}
		threads = append(threads, thread)
	}
	if err := rows.Err(); err != nil {
		return nil, &PersistenceError{Op: "list threads", Err: err}
	}
	return threads, nil
}

func (s *SQLiteStore) Append(ctx context.Context, threadID string, msg *models.Message) (int64, error) {
	if threadID == "" {
		return 0, errors.New("thread id is required")
	}
	if msg == nil {
		return 0, errors.New("message is required")
	}
	if msg.Kind == "" {
		return 0, errors.New("message kind is required")
	}
	seq, err := s.append(ctx, threadID, msg)
	if err != nil {
		return 0, &PersistenceError{Op: "append", Err: err}
	}
	return seq, nil
}

// append runs the insert inside one transaction: ensure the thread row,
// claim the next sequence, write the message. Either all land or none do.
func (s *SQLiteStore) append(ctx context.Context, threadID string, msg *models.Message) (int64, error) {
	toolCallsJSON, toolResultsJSON, metadataJSON, err := marshalMessageJSON(msg)
	if err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	id := msg.ID
	if id == "" {
		id = uuid.NewString()
	}
	createdAt := msg.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback() //nolint:errcheck // Rollback after commit returns ErrTxDone which is expected
	}()

	// First append creates the thread.
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO threads (id, title, last_seq, created_at, updated_at)
		VALUES (?, '', 0, ?, ?)
		ON CONFLICT (id) DO NOTHING
	`, threadID, now, now); err != nil {
		return 0, fmt.Errorf("ensure thread: %w", err)
	}

	var seq int64
	if err := tx.QueryRowContext(ctx, `
		UPDATE threads SET last_seq = last_seq + 1, updated_at = ?
		WHERE id = ?
		RETURNING last_seq
	`, now, threadID).Scan(&seq); err != nil {
		return 0, fmt.Errorf("claim sequence: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO messages (thread_id, seq, id, kind, content, tool_calls, tool_results, model_visible, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, threadID, seq, id, string(msg.Kind), msg.Content, toolCallsJSON, toolResultsJSON, msg.ModelVisible, metadataJSON, createdAt); err != nil {
		return 0, fmt.Errorf("insert message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}

	// Reflect assigned fields back to caller.
	msg.ID = id
	msg.ThreadID = threadID
	msg.Seq = seq
	msg.CreatedAt = createdAt
	return seq, nil
}

func (s *SQLiteStore) Read(ctx context.Context, threadID string, since int64) ([]*models.Message, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM threads WHERE id = ?`, threadID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrThreadNotFound
	}
	if err != nil {
		return nil, &PersistenceError{Op: "read", Err: err}
	}

	// Sequences are 1-based, so a zero marker reads the whole log.
	if since <= 0 {
		since = 1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT thread_id, seq, id, kind, content, tool_calls, tool_results, model_visible, metadata, created_at
		FROM messages
		WHERE thread_id = ? AND seq >= ?
		ORDER BY seq ASC
	`, threadID, since)
	if err != nil {
		return nil, &PersistenceError{Op: "read", Err: err}
	}
	defer rows.Close()

	messages, err := scanMessages(rows)
	if err != nil {
		return nil, &PersistenceError{Op: "read", Err: err}
	}
	return messages, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// marshalMessageJSON encodes the JSON-typed message columns.
func marshalMessageJSON(msg *models.Message) (toolCalls, toolResults, metadata []byte, err error) {
	toolCalls, err = json.Marshal(msg.ToolCalls)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("marshal tool calls: %w", err)
	}
	toolResults, err = json.Marshal(msg.ToolResults)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("marshal tool results: %w", err)
	}
	metadata, err = json.Marshal(msg.Metadata)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("marshal metadata: %w", err)
	}
	return toolCalls, toolResults, metadata, nil
}

func unmarshalMessageJSON(msg *models.Message, toolCalls, toolResults, metadata []byte) error {
	if len(toolCalls) > 0 && string(toolCalls) != "null" {
		if err := json.Unmarshal(toolCalls, &msg.ToolCalls); err != nil {
			return fmt.Errorf("unmarshal tool calls: %w", err)
		}
	}
	if len(toolResults) > 0 && string(toolResults) != "null" {
		if err := json.Unmarshal(toolResults, &msg.ToolResults); err != nil {
			return fmt.Errorf("unmarshal tool results: %w", err)
		}
	}
	if len(metadata) > 0 && string(metadata) != "null" {
		if err := json.Unmarshal(metadata, &msg.Metadata); err != nil {
			return fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return nil
}

func scanMessages(rows *sql.Rows) ([]*models.Message, error) {
	messages := []*models.Message{}
	for rows.Next() {
		msg := &models.Message{}
		var kind string
		var toolCallsJSON, toolResultsJSON, metadataJSON []byte

		if err := rows.Scan(
			&msg.ThreadID,
			&msg.Seq,
			&msg.ID,
			&kind,
			&msg.Content,
			&toolCallsJSON,
			&toolResultsJSON,
			&msg.ModelVisible,
			&metadataJSON,
			&msg.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.Kind = models.MessageKind(kind)
		if err := unmarshalMessageJSON(msg, toolCallsJSON, toolResultsJSON, metadataJSON); err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return messages, nil
}
