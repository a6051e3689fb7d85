package store

import (
	"context"
	"fmt"
	"time"

	"github.com/atheneum-ai/atheneum/internal/errs"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Conversation is a per-user chat thread.
type Conversation struct {
	ID          int64
	OwnerID     int64
	Title       *string
	LastUpdated time.Time
}

// Message is one append-only conversation entry.
type Message struct {
	ID             int64
	ConversationID int64
	Role           string
	Content        string
	ToolCallsJSON  []byte
	ToolOutputJSON []byte
	LLMTypeUsed    *string
	LLMModelUsed   *string
	SentAt         time.Time
}

// TempFile is a conversation-scoped uploaded artifact that behaves like a
// single-chunk document.
type TempFile struct {
	ID             int64
	ConversationID int64
	BlobKey        string
	MIME           string
	Status         string
	StatusMessage  string
	ExtractedText  string
	Embedding      []float32
	CreatedAt      time.Time
}

// Conversations persists conversations, messages and temporary files.
type Conversations struct {
	q Querier
}

// NewConversations binds the repository to a Querier.
func NewConversations(q Querier) *Conversations { return &Conversations{q: q} }

// Create inserts an untitled conversation.
func (r *Conversations) Create(ctx context.Context, ownerID int64) (*Conversation, error) {
	var c Conversation
	c.OwnerID = ownerID
	err := r.q.QueryRow(ctx, `
		INSERT INTO ai_conversations (owner_id) VALUES ($1)
		RETURNING id, last_updated`, ownerID).Scan(&c.ID, &c.LastUpdated)
	if err != nil {
		return nil, fmt.Errorf("store: create conversation: %w", err)
	}
	return &c, nil
}

// Get loads a conversation.
func (r *Conversations) Get(ctx context.Context, id int64) (*Conversation, error) {
	var c Conversation
	err := r.q.QueryRow(ctx, `
		SELECT id, owner_id, title, last_updated FROM ai_conversations WHERE id = $1`, id).
		Scan(&c.ID, &c.OwnerID, &c.Title, &c.LastUpdated)
	if IsNoRows(err) {
		return nil, errs.NotFound("conversation")
	}
	if err != nil {
		return nil, fmt.Errorf("store: get conversation: %w", err)
	}
	return &c, nil
}

// ListForOwner pages a user's conversations, most recently updated first.
func (r *Conversations) ListForOwner(ctx context.Context, ownerID int64, limit, offset int) ([]Conversation, error) {
	rows, err := r.q.Query(ctx, `
		SELECT id, owner_id, title, last_updated FROM ai_conversations
		WHERE owner_id = $1 ORDER BY last_updated DESC LIMIT $2 OFFSET $3`,
		ownerID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("store: list conversations: %w", err)
	}
	defer rows.Close()
	var out []Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ID, &c.OwnerID, &c.Title, &c.LastUpdated); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ListMessages returns messages in chronological order.
func (r *Conversations) ListMessages(ctx context.Context, conversationID int64, limit, offset int) ([]Message, error) {
	rows, err := r.q.Query(ctx, `
		SELECT id, conversation_id, role, content, tool_calls_json, tool_output_json,
		       llm_type_used, llm_model_used, sent_at
		FROM ai_conversation_messages
		WHERE conversation_id = $1
		ORDER BY sent_at, id LIMIT $2 OFFSET $3`, conversationID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("store: list messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// LastMessages returns the most recent n messages, oldest first, forming the
// chat prefix for the next turn.
func (r *Conversations) LastMessages(ctx context.Context, conversationID int64, n int) ([]Message, error) {
	rows, err := r.q.Query(ctx, `
		SELECT id, conversation_id, role, content, tool_calls_json, tool_output_json,
		       llm_type_used, llm_model_used, sent_at
		FROM (
			SELECT * FROM ai_conversation_messages
			WHERE conversation_id = $1
			ORDER BY sent_at DESC, id DESC LIMIT $2
		) recent
		ORDER BY sent_at, id`, conversationID, n)
	if err != nil {
		return nil, fmt.Errorf("store: last messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// CountMessages returns the message count for a conversation.
func (r *Conversations) CountMessages(ctx context.Context, conversationID int64) (int, error) {
	var n int
	err := r.q.QueryRow(ctx,
		`SELECT count(*) FROM ai_conversation_messages WHERE conversation_id = $1`,
		conversationID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: count messages: %w", err)
	}
	return n, nil
}

// AppendMessages writes messages in order and bumps last_updated. Meant to be
// called inside the turn transaction so readers see a gap-free prefix.
func (r *Conversations) AppendMessages(ctx context.Context, conversationID int64, msgs []Message) ([]Message, error) {
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		m.ConversationID = conversationID
		err := r.q.QueryRow(ctx, `
			INSERT INTO ai_conversation_messages
				(conversation_id, role, content, tool_calls_json, tool_output_json,
				 llm_type_used, llm_model_used)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id, sent_at`,
			m.ConversationID, m.Role, m.Content, nilIfEmpty(m.ToolCallsJSON),
			nilIfEmpty(m.ToolOutputJSON), m.LLMTypeUsed, m.LLMModelUsed).
			Scan(&m.ID, &m.SentAt)
		if err != nil {
			return nil, fmt.Errorf("store: append message: %w", err)
		}
		out = append(out, m)
	}
	_, err := r.q.Exec(ctx,
		`UPDATE ai_conversations SET last_updated = now() WHERE id = $1`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("store: bump conversation: %w", err)
	}
	return out, nil
}

// SetTitleIfUnset applies first-non-null-wins title semantics and returns the
// winning title.
func (r *Conversations) SetTitleIfUnset(ctx context.Context, id int64, title string) (string, error) {
	var final string
	err := r.q.QueryRow(ctx, `
		UPDATE ai_conversations SET title = COALESCE(title, $2)
		WHERE id = $1 RETURNING title`, id, title).Scan(&final)
	if IsNoRows(err) {
		return "", errs.NotFound("conversation")
	}
	if err != nil {
		return "", fmt.Errorf("store: set title: %w", err)
	}
	return final, nil
}

// Delete removes a conversation, its messages and temp files. Returns the
// blob keys of deleted temp files so the caller can schedule blob deletion.
func (r *Conversations) Delete(ctx context.Context, id int64) ([]string, error) {
	rows, err := r.q.Query(ctx,
		`SELECT blob_key FROM ai_conversation_temp_files WHERE conversation_id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("store: delete conversation: %w", err)
	}
	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			rows.Close()
			return nil, err
		}
		keys = append(keys, k)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, stmt := range []string{
		`DELETE FROM ai_conversation_temp_files WHERE conversation_id = $1`,
		`DELETE FROM ai_conversation_messages WHERE conversation_id = $1`,
	} {
		if _, err := r.q.Exec(ctx, stmt, id); err != nil {
			return nil, fmt.Errorf("store: delete conversation: %w", err)
		}
	}
	tag, err := r.q.Exec(ctx, `DELETE FROM ai_conversations WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("store: delete conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, errs.NotFound("conversation")
	}
	return keys, nil
}

// CreateTempFile inserts a pending temporary file row.
func (r *Conversations) CreateTempFile(ctx context.Context, f *TempFile) error {
	return r.q.QueryRow(ctx, `
		INSERT INTO ai_conversation_temp_files (conversation_id, blob_key, mime, status, embedding)
		VALUES ($1, $2, $3, $4, '{}') RETURNING id, created_at`,
		f.ConversationID, f.BlobKey, f.MIME, StatusPending).
		Scan(&f.ID, &f.CreatedAt)
}

// GetTempFile loads a temporary file row.
func (r *Conversations) GetTempFile(ctx context.Context, id int64) (*TempFile, error) {
	var f TempFile
	err := r.q.QueryRow(ctx, `
		SELECT id, conversation_id, blob_key, mime, status, status_message,
		       extracted_text, embedding, created_at
		FROM ai_conversation_temp_files WHERE id = $1`, id).
		Scan(&f.ID, &f.ConversationID, &f.BlobKey, &f.MIME, &f.Status, &f.StatusMessage,
			&f.ExtractedText, &f.Embedding, &f.CreatedAt)
	if IsNoRows(err) {
		return nil, errs.NotFound("temporary file")
	}
	if err != nil {
		return nil, fmt.Errorf("store: get temp file: %w", err)
	}
	return &f, nil
}

// TempFilesForConversation lists a conversation's temporary files.
func (r *Conversations) TempFilesForConversation(ctx context.Context, conversationID int64) ([]TempFile, error) {
	rows, err := r.q.Query(ctx, `
		SELECT id, conversation_id, blob_key, mime, status, status_message,
		       extracted_text, embedding, created_at
		FROM ai_conversation_temp_files
		WHERE conversation_id = $1 ORDER BY id`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("store: temp files: %w", err)
	}
	defer rows.Close()
	var out []TempFile
	for rows.Next() {
		var f TempFile
		if err := rows.Scan(&f.ID, &f.ConversationID, &f.BlobKey, &f.MIME, &f.Status,
			&f.StatusMessage, &f.ExtractedText, &f.Embedding, &f.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// SetTempFileStatus transitions a temp file's ingestion state.
func (r *Conversations) SetTempFileStatus(ctx context.Context, id int64, status, message string) error {
	tag, err := r.q.Exec(ctx, `
		UPDATE ai_conversation_temp_files SET status = $2, status_message = $3 WHERE id = $1`,
		id, status, message)
	if err != nil {
		return fmt.Errorf("store: set temp file status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.NotFound("temporary file")
	}
	return nil
}

// CompleteTempFile stores the extracted text and embedding.
func (r *Conversations) CompleteTempFile(ctx context.Context, id int64, text string, embedding []float32) error {
	_, err := r.q.Exec(ctx, `
		UPDATE ai_conversation_temp_files
		SET status = $2, status_message = '', extracted_text = $3, embedding = $4
		WHERE id = $1`, id, StatusCompleted, text, embedding)
	if err != nil {
		return fmt.Errorf("store: complete temp file: %w", err)
	}
	return nil
}

func scanMessages(rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}) ([]Message, error) {
	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content,
			&m.ToolCallsJSON, &m.ToolOutputJSON, &m.LLMTypeUsed, &m.LLMModelUsed,
			&m.SentAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func nilIfEmpty(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}
