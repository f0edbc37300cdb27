// Package store persists conversations and document metadata in SQLite.
// It implements the chat.ConversationStore and rag.DocumentMetaStore
// collaborator interfaces; nothing else in the module issues storage
// queries. Concurrency is handled by database-level locking.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/parley-chat/parley/pkg/chat"
	"github.com/parley-chat/parley/pkg/llms"
	"github.com/parley-chat/parley/pkg/rag"
)

const createTurnsSchemaSQL = `
CREATE TABLE IF NOT EXISTS turns (
    id VARCHAR(255) PRIMARY KEY,
    conversation_id VARCHAR(255) NOT NULL,
    role VARCHAR(50) NOT NULL,
    content TEXT,
    model_id VARCHAR(255),
    tool_calls_json TEXT,
    tool_call_id VARCHAR(255),
    created_at TIMESTAMP NOT NULL
)`

const createTurnsIndexSQL = `
CREATE INDEX IF NOT EXISTS idx_turns_conversation ON turns(conversation_id)`

// Turns and collections relate many-to-many: a turn can reference
// several knowledge bases and a knowledge base serves many
// conversations. The association table avoids embedded back-references.
const createTurnCollectionsSchemaSQL = `
CREATE TABLE IF NOT EXISTS turn_collections (
    turn_id VARCHAR(255) NOT NULL,
    collection VARCHAR(255) NOT NULL,
    PRIMARY KEY (turn_id, collection)
)`

const createTurnCollectionsIndexSQL = `
CREATE INDEX IF NOT EXISTS idx_turn_collections_collection ON turn_collections(collection)`

const createDocumentsSchemaSQL = `
CREATE TABLE IF NOT EXISTS documents (
    id VARCHAR(255) PRIMARY KEY,
    collection VARCHAR(255) NOT NULL,
    owner VARCHAR(255),
    title TEXT,
    mime_type VARCHAR(255),
    status VARCHAR(50) NOT NULL,
    chunk_count INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL
)`

const createDocumentsIndexSQL = `
CREATE INDEX IF NOT EXISTS idx_documents_collection ON documents(collection)`

// Store is the SQLite persistence collaborator.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path and ensures the schema.
// Path ":memory:" keeps everything in-process.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", path, err)
	}
	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	statements := []string{
		createTurnsSchemaSQL,
		createTurnsIndexSQL,
		createTurnCollectionsSchemaSQL,
		createTurnCollectionsIndexSQL,
		createDocumentsSchemaSQL,
		createDocumentsIndexSQL,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// SaveTurn appends one turn and its collection associations atomically.
func (s *Store) SaveTurn(ctx context.Context, conversationID string, turn *chat.Turn) error {
	toolCallsJSON := ""
	if len(turn.ToolCalls) > 0 {
		raw, err := json.Marshal(turn.ToolCalls)
		if err != nil {
			return fmt.Errorf("failed to serialize tool calls: %w", err)
		}
		toolCallsJSON = string(raw)
	}

	createdAt := turn.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO turns (id, conversation_id, role, content, model_id, tool_calls_json, tool_call_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		turn.ID, conversationID, string(turn.Role), turn.Content, turn.ModelID, toolCallsJSON, turn.ToolCallID, createdAt)
	if err != nil {
		return fmt.Errorf("failed to insert turn: %w", err)
	}

	for _, collection := range turn.Collections {
		_, err = tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO turn_collections (turn_id, collection) VALUES (?, ?)`,
			turn.ID, collection)
		if err != nil {
			return fmt.Errorf("failed to insert collection association: %w", err)
		}
	}

	return tx.Commit()
}

// GetConversation returns the ordered turn sequence of one conversation.
func (s *Store) GetConversation(ctx context.Context, conversationID string) ([]*chat.Turn, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, role, content, model_id, tool_calls_json, tool_call_id, created_at
		 FROM turns WHERE conversation_id = ? ORDER BY rowid`,
		conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query turns: %w", err)
	}
	defer rows.Close()

	var turns []*chat.Turn
	for rows.Next() {
		turn := &chat.Turn{}
		var role, toolCallsJSON string
		if err := rows.Scan(&turn.ID, &role, &turn.Content, &turn.ModelID, &toolCallsJSON, &turn.ToolCallID, &turn.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan turn: %w", err)
		}
		turn.Role = llms.Role(role)
		if toolCallsJSON != "" {
			if err := json.Unmarshal([]byte(toolCallsJSON), &turn.ToolCalls); err != nil {
				return nil, fmt.Errorf("failed to parse tool calls for turn %s: %w", turn.ID, err)
			}
		}
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, turn := range turns {
		collections, err := s.turnCollections(ctx, turn.ID)
		if err != nil {
			return nil, err
		}
		turn.Collections = collections
	}
	return turns, nil
}

func (s *Store) turnCollections(ctx context.Context, turnID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT collection FROM turn_collections WHERE turn_id = ? ORDER BY collection`, turnID)
	if err != nil {
		return nil, fmt.Errorf("failed to query collection associations: %w", err)
	}
	defer rows.Close()

	var collections []string
	for rows.Next() {
		var collection string
		if err := rows.Scan(&collection); err != nil {
			return nil, err
		}
		collections = append(collections, collection)
	}
	return collections, rows.Err()
}

// PutDocument inserts or replaces a document record.
func (s *Store) PutDocument(ctx context.Context, doc *rag.Document) error {
	createdAt := doc.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (id, collection, owner, title, mime_type, status, chunk_count, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   collection = excluded.collection,
		   owner = excluded.owner,
		   title = excluded.title,
		   mime_type = excluded.mime_type,
		   status = excluded.status,
		   chunk_count = excluded.chunk_count`,
		doc.ID, doc.Collection, doc.Owner, doc.Title, doc.MimeType, string(doc.Status), doc.ChunkCount, createdAt)
	if err != nil {
		return fmt.Errorf("failed to save document %s: %w", doc.ID, err)
	}
	return nil
}

// GetDocument returns nil without error when the id is unknown.
func (s *Store) GetDocument(ctx context.Context, id string) (*rag.Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, collection, owner, title, mime_type, status, chunk_count, created_at
		 FROM documents WHERE id = ?`, id)

	doc := &rag.Document{}
	var status string
	err := row.Scan(&doc.ID, &doc.Collection, &doc.Owner, &doc.Title, &doc.MimeType, &status, &doc.ChunkCount, &doc.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load document %s: %w", id, err)
	}
	doc.Status = rag.DocumentStatus(status)
	return doc, nil
}

func (s *Store) UpdateDocument(ctx context.Context, id string, status rag.DocumentStatus, chunkCount int) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE documents SET status = ?, chunk_count = ? WHERE id = ?`,
		string(status), chunkCount, id)
	if err != nil {
		return fmt.Errorf("failed to update document %s: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("document %s not found", id)
	}
	return nil
}

func (s *Store) ListDocuments(ctx context.Context, collection string) ([]*rag.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, collection, owner, title, mime_type, status, chunk_count, created_at
		 FROM documents WHERE collection = ? ORDER BY created_at, id`, collection)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var docs []*rag.Document
	for rows.Next() {
		doc := &rag.Document{}
		var status string
		if err := rows.Scan(&doc.ID, &doc.Collection, &doc.Owner, &doc.Title, &doc.MimeType, &status, &doc.ChunkCount, &doc.CreatedAt); err != nil {
			return nil, err
		}
		doc.Status = rag.DocumentStatus(status)
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete document %s: %w", id, err)
	}
	return nil
}
