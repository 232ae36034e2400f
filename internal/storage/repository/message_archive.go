package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"wafleet/internal/domain/whatsapp"
)

// ArchivedMessage is the persisted form of one accepted message
type ArchivedMessage struct {
	bun.BaseModel `bun:"table:messages,alias:m"`

	ID         int64     `bun:"id,pk,autoincrement"`
	SessionID  string    `bun:"session_id,notnull"`
	ChatJID    string    `bun:"chat_jid,notnull"`
	MessageID  string    `bun:"message_id,notnull"`
	SenderJID  string    `bun:"sender_jid"`
	FromMe     bool      `bun:"from_me"`
	Body       string    `bun:"body"`
	PushName   string    `bun:"push_name"`
	Timestamp  time.Time `bun:"timestamp,notnull"`
	ArchivedAt time.Time `bun:"archived_at,notnull,default:current_timestamp"`
}

// MessageArchive persists accepted messages for later inspection
type MessageArchive struct {
	db *bun.DB
}

// NewMessageArchive creates the archive and its table
func NewMessageArchive(ctx context.Context, db *bun.DB) (*MessageArchive, error) {
	if _, err := db.NewCreateTable().Model((*ArchivedMessage)(nil)).IfNotExists().Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to create messages table: %w", err)
	}
	return &MessageArchive{db: db}, nil
}

// RecordMessage stores one message row
func (a *MessageArchive) RecordMessage(ctx context.Context, sessionID string, m *whatsapp.Message) error {
	row := &ArchivedMessage{
		SessionID:  sessionID,
		ChatJID:    m.Key.RemoteJID,
		MessageID:  m.Key.ID,
		SenderJID:  m.Key.Participant,
		FromMe:     m.Key.FromMe,
		Body:       m.Body,
		PushName:   m.PushName,
		Timestamp:  m.Timestamp,
		ArchivedAt: time.Now(),
	}
	if row.SenderJID == "" {
		row.SenderJID = m.Key.RemoteJID
	}

	if _, err := a.db.NewInsert().Model(row).Exec(ctx); err != nil {
		return fmt.Errorf("failed to archive message: %w", err)
	}
	return nil
}

// PurgeSession drops every archived message for a session. Used by
// full cleanup when a session is erased.
func (a *MessageArchive) PurgeSession(ctx context.Context, sessionID string) error {
	if _, err := a.db.NewDelete().
		Model((*ArchivedMessage)(nil)).
		Where("session_id = ?", sessionID).
		Exec(ctx); err != nil {
		return fmt.Errorf("failed to purge archived messages: %w", err)
	}
	return nil
}
