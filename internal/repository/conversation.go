// Package repository persists conversations with per-user encryption. Titles
// and message contents never reach the database as plaintext; every read and
// write goes through the owner's derived key.
package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/djensenius/FluxHaus-Server-sub000/internal/cryptobox"
)

// autoTitleLength caps the title seeded from the first user turn.
const autoTitleLength = 50

// Conversation is a decrypted conversation header.
type Conversation struct {
	ID           uuid.UUID `json:"id"`
	OwnerSub     string    `json:"-"`
	Title        string    `json:"title"`
	MessageCount int       `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Message is one decrypted conversation turn.
type Message struct {
	ID        uuid.UUID `json:"id"`
	Role      string    `json:"role"` // "user" or "assistant"
	Content   string    `json:"content"`
	IsVoice   bool      `json:"is_voice"`
	CreatedAt time.Time `json:"created_at"`
}

// ConversationStore handles conversation persistence. All queries are scoped
// by owner_sub: a conversation owned by someone else behaves exactly like one
// that does not exist.
type ConversationStore struct {
	db  *DB
	box *cryptobox.Box
}

// NewConversationStore creates a new conversation store.
func NewConversationStore(db *DB, box *cryptobox.Box) *ConversationStore {
	return &ConversationStore{db: db, box: box}
}

// Create creates a new conversation with no title. The title is seeded later
// by the first appended user turn.
func (s *ConversationStore) Create(ctx context.Context, ownerSub string) (*Conversation, error) {
	conv := &Conversation{
		ID:        uuid.New(),
		OwnerSub:  ownerSub,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, owner_sub, title_envelope, created_at, updated_at)
		 VALUES ($1, $2, NULL, $3, $4)`,
		conv.ID, conv.OwnerSub, conv.CreatedAt, conv.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	return conv, nil
}

// List returns the owner's conversations, most recently updated first, with
// decrypted titles and message counts.
func (s *ConversationStore) List(ctx context.Context, ownerSub string) ([]*Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT c.id, c.owner_sub, c.title_envelope, c.created_at, c.updated_at,
		        (SELECT COUNT(*) FROM conversation_messages m WHERE m.conversation_id = c.id)
		 FROM conversations c
		 WHERE c.owner_sub = $1
		 ORDER BY c.updated_at DESC`,
		ownerSub,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var conversations []*Conversation
	for rows.Next() {
		conv := &Conversation{}
		var titleEnvelope sql.NullString
		if err := rows.Scan(&conv.ID, &conv.OwnerSub, &titleEnvelope, &conv.CreatedAt, &conv.UpdatedAt, &conv.MessageCount); err != nil {
			return nil, err
		}
		if titleEnvelope.Valid {
			title, err := s.box.Decrypt(titleEnvelope.String, ownerSub)
			if err != nil {
				return nil, err
			}
			conv.Title = title
		}
		conversations = append(conversations, conv)
	}

	return conversations, rows.Err()
}

// Get retrieves one conversation scoped to its owner. A conversation owned by
// someone else returns (nil, nil), indistinguishable from absence.
func (s *ConversationStore) Get(ctx context.Context, ownerSub string, id uuid.UUID) (*Conversation, error) {
	conv := &Conversation{}
	var titleEnvelope sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT c.id, c.owner_sub, c.title_envelope, c.created_at, c.updated_at,
		        (SELECT COUNT(*) FROM conversation_messages m WHERE m.conversation_id = c.id)
		 FROM conversations c
		 WHERE c.id = $1 AND c.owner_sub = $2`,
		id, ownerSub,
	).Scan(&conv.ID, &conv.OwnerSub, &titleEnvelope, &conv.CreatedAt, &conv.UpdatedAt, &conv.MessageCount)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if titleEnvelope.Valid {
		title, err := s.box.Decrypt(titleEnvelope.String, ownerSub)
		if err != nil {
			return nil, err
		}
		conv.Title = title
	}

	return conv, nil
}

// Rename replaces the conversation title. Returns false when the conversation
// does not exist or belongs to someone else.
func (s *ConversationStore) Rename(ctx context.Context, ownerSub string, id uuid.UUID, title string) (bool, error) {
	envelope, err := s.box.Encrypt(title, ownerSub)
	if err != nil {
		return false, err
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET title_envelope = $1, updated_at = NOW()
		 WHERE id = $2 AND owner_sub = $3`,
		envelope, id, ownerSub,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Delete removes a conversation and, via cascade, its messages. Returns false
// when nothing owned by ownerSub matched.
func (s *ConversationStore) Delete(ctx context.Context, ownerSub string, id uuid.UUID) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM conversations WHERE id = $1 AND owner_sub = $2`,
		id, ownerSub,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// AppendTurn records one command/reply exchange. Both texts are encrypted for
// the owner before insert. The first user turn also seeds the title from its
// leading characters; the conditional update keeps a concurrent rename or a
// racing first turn from being overwritten.
func (s *ConversationStore) AppendTurn(ctx context.Context, ownerSub string, id uuid.UUID, userText, assistantText string, isVoice bool) error {
	userEnvelope, err := s.box.Encrypt(userText, ownerSub)
	if err != nil {
		return err
	}
	assistantEnvelope, err := s.box.Encrypt(assistantText, ownerSub)
	if err != nil {
		return err
	}

	now := time.Now()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO conversation_messages (id, conversation_id, role, content_envelope, is_voice, created_at)
		 VALUES ($1, $2, 'user', $3, $4, $5), ($6, $2, 'assistant', $7, $8, $9)`,
		uuid.New(), id, userEnvelope, isVoice, now,
		uuid.New(), assistantEnvelope, isVoice, now.Add(time.Millisecond),
	)
	if err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET updated_at = NOW() WHERE id = $1 AND owner_sub = $2`,
		id, ownerSub,
	); err != nil {
		return err
	}

	titleEnvelope, err := s.box.Encrypt(autoTitle(userText), ownerSub)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE conversations SET title_envelope = $1
		 WHERE id = $2 AND owner_sub = $3 AND title_envelope IS NULL`,
		titleEnvelope, id, ownerSub,
	)
	return err
}

// Messages returns the conversation's decrypted turns in chronological order,
// scoped to the owner.
func (s *ConversationStore) Messages(ctx context.Context, ownerSub string, id uuid.UUID) ([]*Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT m.id, m.role, m.content_envelope, m.is_voice, m.created_at
		 FROM conversation_messages m
		 JOIN conversations c ON c.id = m.conversation_id
		 WHERE m.conversation_id = $1 AND c.owner_sub = $2
		 ORDER BY m.created_at ASC`,
		id, ownerSub,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		msg := &Message{}
		var envelope string
		if err := rows.Scan(&msg.ID, &msg.Role, &envelope, &msg.IsVoice, &msg.CreatedAt); err != nil {
			return nil, err
		}
		content, err := s.box.Decrypt(envelope, ownerSub)
		if err != nil {
			return nil, err
		}
		msg.Content = content
		messages = append(messages, msg)
	}

	return messages, rows.Err()
}

// autoTitle derives a title from the first user turn.
func autoTitle(userText string) string {
	runes := []rune(userText)
	if len(runes) <= autoTitleLength {
		return userText
	}
	return string(runes[:autoTitleLength])
}
