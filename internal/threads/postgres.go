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
	_ "github.com/lib/pq"
)

// PostgresStore implements the Store interface using PostgreSQL.
type PostgresStore struct {
	db *sql.DB

	// Prepared statements for performance
	stmtCreateThread  *sql.Stmt
	stmtGetThread     *sql.Stmt
	stmtEnsureThread  *sql.Stmt
	stmtClaimSeq      *sql.Stmt
	stmtInsertMessage *sql.Stmt
	stmtThreadExists  *sql.Stmt
	stmtReadMessages  *sql.Stmt
}

// DB exposes the underlying database connection for related stores.
func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// PostgresConfig holds configuration for the PostgreSQL connection.
type PostgresConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	ConnectTimeout  time.Duration
}

// DefaultPostgresConfig returns default configuration.
func DefaultPostgresConfig() *PostgresConfig {
	return &PostgresConfig{
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 2 * time.Minute,
		ConnectTimeout:  10 * time.Second,
	}
}

// NewPostgresStore creates a new PostgreSQL store from a connection URL.
func NewPostgresStore(config *PostgresConfig) (*PostgresStore, error) {
	if config == nil || config.URL == "" {
		return nil, fmt.Errorf("database url is required")
	}

	db, err := sql.Open("postgres", config.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), config.ConnectTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &PostgresStore{db: db}

	if err := store.init(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	if err := store.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	return store, nil
}

func (s *PostgresStore) init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS threads (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL DEFAULT '',
			metadata JSONB,
			last_seq BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create threads table: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS messages (
			thread_id TEXT NOT NULL REFERENCES threads(id),
			seq BIGINT NOT NULL,
			id TEXT NOT NULL,
			kind TEXT NOT NULL,
			content TEXT NOT NULL DEFAULT '',
			tool_calls JSONB,
			tool_results JSONB,
			model_visible BOOLEAN NOT NULL DEFAULT TRUE,
			metadata JSONB,
			created_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (thread_id, seq)
		)
	`)
	if err != nil {
		return fmt.Errorf("create messages table: %w", err)
	}
	return nil
}

// prepareStatements prepares all SQL statements for reuse.
func (s *PostgresStore) prepareStatements() error {
	var err error

	s.stmtCreateThread, err = s.db.Prepare(`
		INSERT INTO threads (id, title, metadata, last_seq, created_at, updated_at)
		VALUES ($1, $2, $3, 0, $4, $5)
		ON CONFLICT (id) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare create thread: %w", err)
	}

	s.stmtGetThread, err = s.db.Prepare(`
		SELECT id, title, metadata, created_at, updated_at
		FROM threads WHERE id = $1
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare get thread: %w", err)
	}

	s.stmtEnsureThread, err = s.db.Prepare(`
		INSERT INTO threads (id, title, last_seq, created_at, updated_at)
		VALUES ($1, '', 0, $2, $3)
		ON CONFLICT (id) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare ensure thread: %w", err)
	}

	s.stmtClaimSeq, err = s.db.Prepare(`
		UPDATE threads SET last_seq = last_seq + 1, updated_at = $1
		WHERE id = $2
		RETURNING last_seq
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare claim seq: %w", err)
	}

	s.stmtInsertMessage, err = s.db.Prepare(`
		INSERT INTO messages (thread_id, seq, id, kind, content, tool_calls, tool_results, model_visible, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert message: %w", err)
	}

	s.stmtThreadExists, err = s.db.Prepare(`
		SELECT 1 FROM threads WHERE id = $1
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare thread exists: %w", err)
	}

	s.stmtReadMessages, err = s.db.Prepare(`
		SELECT thread_id, seq, id, kind, content, tool_calls, tool_results, model_visible, metadata, created_at
		FROM messages
		WHERE thread_id = $1 AND seq >= $2
		ORDER BY seq ASC
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare read messages: %w", err)
	}

	return nil
}

// Close closes the database connection and prepared statements.
func (s *PostgresStore) Close() error {
	var errs []error

	stmts := []*sql.Stmt{
		s.stmtCreateThread,
		s.stmtGetThread,
		s.stmtEnsureThread,
		s.stmtClaimSeq,
		s.stmtInsertMessage,
		s.stmtThreadExists,
		s.stmtReadMessages,
	}
	for _, stmt := range stmts {
		if stmt == nil {
			continue
		}
		if err := stmt.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if err := s.db.Close(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors closing store: %v", errs)
	}

	return nil
}

func (s *PostgresStore) CreateThread(ctx context.Context, thread *models.Thread) error {
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

	res, err := s.stmtCreateThread.ExecContext(ctx,
		thread.ID,
		thread.Title,
		metadata,
		thread.CreatedAt,
		thread.UpdatedAt,
	)
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

func (s *PostgresStore) GetThread(ctx context.Context, id string) (*models.Thread, error) {
	thread := &models.Thread{}
	var metadataJSON []byte

	err := s.stmtGetThread.QueryRowContext(ctx, id).Scan(
		&thread.ID,
		&thread.Title,
		&metadataJSON,
		&thread.CreatedAt,
		&thread.UpdatedAt,
	)
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

func (s *PostgresStore) ListThreads(ctx context.Context, opts ListOptions) ([]*models.Thread, error) {
	query := `
		SELECT id, title, metadata, created_at, updated_at
		FROM threads
		ORDER BY updated_at DESC, id ASC
	`
	args := []any{}
	argPos := 1

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argPos)
		args = append(args, opts.Limit)
		argPos++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argPos)
		args = append(args, opts.Offset)
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

func (s *PostgresStore) Append(ctx context.Context, threadID string, msg *models.Message) (int64, error) {
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

// append wraps the sequence claim and message insert in a transaction. The
// row lock taken by the last_seq update orders concurrent appenders, so
// sequences are dense and never reused even under contention.
func (s *PostgresStore) append(ctx context.Context, threadID string, msg *models.Message) (int64, error) {
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

	if _, err := tx.StmtContext(ctx, s.stmtEnsureThread).ExecContext(ctx, threadID, now, now); err != nil {
		return 0, fmt.Errorf("ensure thread: %w", err)
	}

	var seq int64
	if err := tx.StmtContext(ctx, s.stmtClaimSeq).QueryRowContext(ctx, now, threadID).Scan(&seq); err != nil {
		return 0, fmt.Errorf("claim sequence: %w", err)
	}

	if _, err := tx.StmtContext(ctx, s.stmtInsertMessage).ExecContext(ctx,
		threadID,
		seq,
		id,
		string(msg.Kind),
		msg.Content,
		toolCallsJSON,
		toolResultsJSON,
		msg.ModelVisible,
		metadataJSON,
		createdAt,
	); err != nil {
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

func (s *PostgresStore) Read(ctx context.Context, threadID string, since int64) ([]*models.Message, error) {
	var one int
	err := s.stmtThreadExists.QueryRowContext(ctx, threadID).Scan(&one)
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
	rows, err := s.stmtReadMessages.QueryContext(ctx, threadID, since)
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
