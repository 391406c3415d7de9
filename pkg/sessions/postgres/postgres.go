// Package postgres provides a PostgreSQL implementation of
// transport.ConversationStore. It uses pgx/v5 for connection pooling and
// JSONB for structured message storage.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/loopedlocal/agentd/pkg/agent"
	"github.com/loopedlocal/agentd/pkg/sessions"
	"github.com/loopedlocal/agentd/pkg/transport"
)

// Store is a PostgreSQL-backed ConversationStore.
type Store struct {
	pool *pgxpool.Pool
}

// Ensure Store implements transport.ConversationStore at compile time.
var _ transport.ConversationStore = (*Store)(nil)

// New creates a new PostgreSQL store with the given configuration.
// If MigrateOnStart is true, schema migrations are applied automatically.
func New(ctx context.Context, cfg Config) (*Store, error) {
	cfg.defaults()

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing DSN: %w", err)
	}

	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	s := &Store{pool: pool}

	if cfg.MigrateOnStart {
		if err := s.migrate(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("running migrations: %w", err)
		}
	}

	return s, nil
}

// storedToolCall mirrors agent.ToolCall for JSONB (de)serialization.
type storedToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// CreateConversation creates a new conversation row and its first message,
// within a single transaction.
func (s *Store) CreateConversation(ctx context.Context, id string, first agent.Message) error {
	tenantID := sessions.GetTenant(ctx)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		"INSERT INTO conversations (id, tenant_id) VALUES ($1, $2)",
		id, tenantID,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return sessions.ErrConflict
		}
		return fmt.Errorf("inserting conversation: %w", err)
	}

	if err := insertMessage(ctx, tx, id, 0, first); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// AppendMessages appends messages to an existing conversation.
func (s *Store) AppendMessages(ctx context.Context, id string, messages []agent.Message) error {
	tenantID := sessions.GetTenant(ctx)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.assertOwned(ctx, tx, id, tenantID); err != nil {
		return err
	}

	var nextSeq int
	err = tx.QueryRow(ctx,
		"SELECT COALESCE(MAX(seq), -1) + 1 FROM messages WHERE conversation_id = $1",
		id,
	).Scan(&nextSeq)
	if err != nil {
		return fmt.Errorf("determining next sequence: %w", err)
	}

	for i, msg := range messages {
		if err := insertMessage(ctx, tx, id, nextSeq+i, msg); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// GetConversation retrieves a conversation and all of its messages, in order.
func (s *Store) GetConversation(ctx context.Context, id string) (*transport.Conversation, error) {
	tenantID := sessions.GetTenant(ctx)

	query := "SELECT id FROM conversations WHERE id = $1"
	args := []any{id}
	if tenantID != "" {
		query += " AND tenant_id = $2"
		args = append(args, tenantID)
	}

	var convID string
	err := s.pool.QueryRow(ctx, query, args...).Scan(&convID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, sessions.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		"SELECT role, content, tool_calls, tool_call_id FROM messages WHERE conversation_id = $1 ORDER BY seq ASC",
		convID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	conv := &transport.Conversation{ID: convID}
	for rows.Next() {
		var role string
		var content *string
		var toolCallsJSON []byte
		var toolCallID *string

		if err := rows.Scan(&role, &content, &toolCallsJSON, &toolCallID); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}

		msg := agent.Message{Role: agent.Role(role), Content: content}
		if toolCallID != nil {
			msg.ToolCallID = *toolCallID
		}
		if len(toolCallsJSON) > 0 {
			var stored []storedToolCall
			if err := json.Unmarshal(toolCallsJSON, &stored); err != nil {
				return nil, fmt.Errorf("unmarshaling tool calls: %w", err)
			}
			for _, tc := range stored {
				msg.ToolCalls = append(msg.ToolCalls, agent.ToolCall{ID: tc.ID, Name: tc.Name, Arguments: tc.Arguments})
			}
		}
		conv.Messages = append(conv.Messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating messages: %w", err)
	}

	return conv, nil
}

// DeleteConversation removes a conversation and all of its messages in a
// single transaction, deleting child message rows before the parent
// conversation row.
func (s *Store) DeleteConversation(ctx context.Context, id string) error {
	tenantID := sessions.GetTenant(ctx)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.assertOwned(ctx, tx, id, tenantID); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, "DELETE FROM messages WHERE conversation_id = $1", id); err != nil {
		return fmt.Errorf("deleting messages: %w", err)
	}

	result, err := tx.Exec(ctx, "DELETE FROM conversations WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("deleting conversation: %w", err)
	}
	if result.RowsAffected() == 0 {
		return sessions.ErrNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// ListConversations returns a paginated list of conversations for the
// current tenant, ordered by conversation ID.
func (s *Store) ListConversations(ctx context.Context, opts transport.ListOptions) (*transport.ConversationList, error) {
	tenantID := sessions.GetTenant(ctx)

	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	query := "SELECT id FROM conversations WHERE 1=1"
	var args []any
	argIdx := 1

	if tenantID != "" {
		query += fmt.Sprintf(" AND tenant_id = $%d", argIdx)
		args = append(args, tenantID)
		argIdx++
	}

	if opts.After != "" {
		query += fmt.Sprintf(" AND id > $%d", argIdx)
		args = append(args, opts.After)
		argIdx++
	}

	query += fmt.Sprintf(" ORDER BY id ASC LIMIT $%d", argIdx)
	args = append(args, limit+1)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning conversation id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating conversations: %w", err)
	}

	hasMore := len(ids) > limit
	if hasMore {
		ids = ids[:limit]
	}

	result := &transport.ConversationList{HasMore: hasMore}
	for _, id := range ids {
		conv, err := s.GetConversation(ctx, id)
		if err != nil {
			return nil, err
		}
		result.Data = append(result.Data, *conv)
	}
	return result, nil
}

// HealthCheck verifies the database connection.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// assertOwned verifies that a conversation exists and, if tenant scoping is
// active, belongs to the tenant. Must be called within tx.
func (s *Store) assertOwned(ctx context.Context, tx pgx.Tx, id, tenantID string) error {
	query := "SELECT 1 FROM conversations WHERE id = $1"
	args := []any{id}
	if tenantID != "" {
		query += " AND tenant_id = $2"
		args = append(args, tenantID)
	}

	var exists int
	err := tx.QueryRow(ctx, query, args...).Scan(&exists)
	if errors.Is(err, pgx.ErrNoRows) {
		return sessions.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("checking conversation ownership: %w", err)
	}
	return nil
}

// insertMessage inserts a single message row at the given sequence number.
func insertMessage(ctx context.Context, tx pgx.Tx, conversationID string, seq int, msg agent.Message) error {
	var toolCallsJSON []byte
	if len(msg.ToolCalls) > 0 {
		stored := make([]storedToolCall, len(msg.ToolCalls))
		for i, tc := range msg.ToolCalls {
			stored[i] = storedToolCall{ID: tc.ID, Name: tc.Name, Arguments: tc.Arguments}
		}
		var err error
		toolCallsJSON, err = json.Marshal(stored)
		if err != nil {
			return fmt.Errorf("marshaling tool calls: %w", err)
		}
	}

	_, err := tx.Exec(ctx, `
		INSERT INTO messages (conversation_id, seq, role, content, tool_calls, tool_call_id)
		VALUES ($1, $2, $3, $4, $5, $6)
	`,
		conversationID, seq, string(msg.Role), msg.Content, nullJSON(toolCallsJSON), nullString(msg.ToolCallID),
	)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}
	return nil
}

// nullString converts an empty string to nil for nullable TEXT columns.
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// nullJSON converts nil/empty byte slices to nil for nullable JSONB columns.
func nullJSON(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}

// isDuplicateKey checks if the error is a PostgreSQL unique violation (23505).
func isDuplicateKey(err error) bool {
	return err != nil && contains(err.Error(), "23505")
}

func contains(s, substr string) bool {
	return len(s) >= len(substr) && searchString(s, substr)
}

func searchString(s, substr string) bool {
	for i := 0; i <= len(s)-len(substr); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
