package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-kivik/kivik/v4"
	_ "github.com/go-kivik/kivik/v4/couchdb" // CouchDB driver registration
	"github.com/google/uuid"
)

// Document type discriminators
const (
	DoctypeTranscription = "transcription"
	DoctypeTodo          = "todo"
)

// TranscriptionRecord is a persisted transcription document. It is written
// once per completed session and never mutated afterwards; deletion is a
// separate user action.
type TranscriptionRecord struct {
	ID        string    `json:"_id,omitempty"`
	Rev       string    `json:"_rev,omitempty"`
	Doctype   string    `json:"type"`
	Text      string    `json:"text"`
	Language  string    `json:"language"`
	CreatedAt time.Time `json:"created_at"`
	WordCount int       `json:"word_count"`
}

// Todo is a persisted todo-list document
type Todo struct {
	ID        string    `json:"_id,omitempty"`
	Rev       string    `json:"_rev,omitempty"`
	Doctype   string    `json:"type"`
	Text      string    `json:"text"`
	Done      bool      `json:"done"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Config contains document store configuration
type Config struct {
	URL      string
	Database string
}

// Store provides document persistence backed by CouchDB
type Store struct {
	client *kivik.Client
	db     *kivik.DB
	logger *slog.Logger
}

// New connects to CouchDB, creates the database when it does not exist yet,
// and returns a ready Store
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Store, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("store URL cannot be empty")
	}

	if cfg.Database == "" {
		return nil, fmt.Errorf("store database cannot be empty")
	}

	client, err := kivik.New("couch", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to CouchDB: %w", err)
	}

	exists, err := client.DBExists(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to check database %s: %w", cfg.Database, err)
	}

	if !exists {
		if err := client.CreateDB(ctx, cfg.Database); err != nil {
			return nil, fmt.Errorf("failed to create database %s: %w", cfg.Database, err)
		}
		logger.Info("Database created", slog.String("database", cfg.Database))
	}

	db := client.DB(cfg.Database)

	// Mango queries sort on created_at; the index makes that legal.
	index := map[string]interface{}{
		"fields": []interface{}{"type", "created_at"},
	}
	if err := db.CreateIndex(ctx, "type-created-at", "type-created-at", index); err != nil {
		logger.Warn("Failed to create index, listing may be slow",
			slog.String("error", err.Error()),
		)
	}

	return &Store{
		client: client,
		db:     db,
		logger: logger,
	}, nil
}

// NewWithClient wraps an existing kivik client without performing database or
// index setup. It exists so tests can inject kivik's mockdb driver.
func NewWithClient(client *kivik.Client, database string, logger *slog.Logger) *Store {
	return &Store{
		client: client,
		db:     client.DB(database),
		logger: logger,
	}
}

// SaveTranscription persists a transcription record. The document id and
// doctype are assigned here; the caller provides text, language, timestamps,
// and word count.
func (s *Store) SaveTranscription(ctx context.Context, rec *TranscriptionRecord) error {
	if rec.Text == "" {
		return fmt.Errorf("cannot save a transcription with empty text")
	}

	if rec.ID == "" {
		rec.ID = fmt.Sprintf("%s:%s", DoctypeTranscription, uuid.NewString())
	}
	rec.Doctype = DoctypeTranscription
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	rev, err := s.db.Put(ctx, rec.ID, rec)
	if err != nil {
		return fmt.Errorf("failed to save transcription %s: %w", rec.ID, err)
	}
	rec.Rev = rev

	s.logger.Info("Transcription saved",
		slog.String("id", rec.ID),
		slog.String("language", rec.Language),
		slog.Int("word_count", rec.WordCount),
	)

	return nil
}

// GetTranscription fetches one transcription record by id
func (s *Store) GetTranscription(ctx context.Context, id string) (*TranscriptionRecord, error) {
	var rec TranscriptionRecord
	if err := s.db.Get(ctx, id).ScanDoc(&rec); err != nil {
		return nil, fmt.Errorf("failed to get transcription %s: %w", id, err)
	}

	if rec.Doctype != DoctypeTranscription {
		return nil, fmt.Errorf("document %s is not a transcription", id)
	}

	return &rec, nil
}

// ListTranscriptions returns all transcription records, newest first
func (s *Store) ListTranscriptions(ctx context.Context) ([]TranscriptionRecord, error) {
	query := map[string]interface{}{
		"selector": map[string]interface{}{
			"type": DoctypeTranscription,
		},
		"sort": []map[string]string{
			{"created_at": "desc"},
		},
	}

	records := []TranscriptionRecord{}
	if err := s.findAll(ctx, query, func() (interface{}, func()) {
		var rec TranscriptionRecord
		return &rec, func() { records = append(records, rec) }
	}); err != nil {
		return nil, fmt.Errorf("failed to list transcriptions: %w", err)
	}

	return records, nil
}

// DeleteTranscription removes a transcription record
func (s *Store) DeleteTranscription(ctx context.Context, id, rev string) error {
	if _, err := s.db.Delete(ctx, id, rev); err != nil {
		return fmt.Errorf("failed to delete transcription %s: %w", id, err)
	}

	s.logger.Info("Transcription deleted", slog.String("id", id))
	return nil
}

// SaveTodo persists a new todo document
func (s *Store) SaveTodo(ctx context.Context, todo *Todo) error {
	if todo.Text == "" {
		return fmt.Errorf("cannot save a todo with empty text")
	}

	if todo.ID == "" {
		todo.ID = fmt.Sprintf("%s:%s", DoctypeTodo, uuid.NewString())
	}
	todo.Doctype = DoctypeTodo
	now := time.Now().UTC()
	if todo.CreatedAt.IsZero() {
		todo.CreatedAt = now
	}
	todo.UpdatedAt = now

	rev, err := s.db.Put(ctx, todo.ID, todo)
	if err != nil {
		return fmt.Errorf("failed to save todo %s: %w", todo.ID, err)
	}
	todo.Rev = rev

	return nil
}

// UpdateTodo writes back an existing todo document (requires ID and Rev)
func (s *Store) UpdateTodo(ctx context.Context, todo *Todo) error {
	if todo.ID == "" || todo.Rev == "" {
		return fmt.Errorf("updating a todo requires both id and rev")
	}

	todo.Doctype = DoctypeTodo
	todo.UpdatedAt = time.Now().UTC()

	rev, err := s.db.Put(ctx, todo.ID, todo)
	if err != nil {
		return fmt.Errorf("failed to update todo %s: %w", todo.ID, err)
	}
	todo.Rev = rev

	return nil
}

// ListTodos returns all todo documents, oldest first
func (s *Store) ListTodos(ctx context.Context) ([]Todo, error) {
	query := map[string]interface{}{
		"selector": map[string]interface{}{
			"type": DoctypeTodo,
		},
		"sort": []map[string]string{
			{"created_at": "asc"},
		},
	}

	todos := []Todo{}
	if err := s.findAll(ctx, query, func() (interface{}, func()) {
		var todo Todo
		return &todo, func() { todos = append(todos, todo) }
	}); err != nil {
		return nil, fmt.Errorf("failed to list todos: %w", err)
	}

	return todos, nil
}

// GetTodo fetches one todo document by id
func (s *Store) GetTodo(ctx context.Context, id string) (*Todo, error) {
	var todo Todo
	if err := s.db.Get(ctx, id).ScanDoc(&todo); err != nil {
		return nil, fmt.Errorf("failed to get todo %s: %w", id, err)
	}

	if todo.Doctype != DoctypeTodo {
		return nil, fmt.Errorf("document %s is not a todo", id)
	}

	return &todo, nil
}

// DeleteTodo removes a todo document
func (s *Store) DeleteTodo(ctx context.Context, id, rev string) error {
	if _, err := s.db.Delete(ctx, id, rev); err != nil {
		return fmt.Errorf("failed to delete todo %s: %w", id, err)
	}

	return nil
}

// Ping verifies the CouchDB connection
func (s *Store) Ping(ctx context.Context) error {
	up, err := s.client.Ping(ctx)
	if err != nil {
		return fmt.Errorf("store ping failed: %w", err)
	}
	if !up {
		return fmt.Errorf("store is not available")
	}
	return nil
}

// findAll runs a mango query and accumulates every row. next returns a fresh
// scan target plus a commit closure so callers keep their own typed slices.
func (s *Store) findAll(ctx context.Context, query interface{}, next func() (interface{}, func())) error {
	rows := s.db.Find(ctx, query)
	defer rows.Close()

	for rows.Next() {
		target, commit := next()
		if err := rows.ScanDoc(target); err != nil {
			return fmt.Errorf("failed to scan document: %w", err)
		}
		commit()
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("query failed: %w", err)
	}

	return nil
}
