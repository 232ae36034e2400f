package whatsapp

import (
	"strings"
	"time"
)

// StatusBroadcastJID is the pseudo-chat carrying status updates
const StatusBroadcastJID = "status@broadcast"

// broadcastServer hosts status updates and broadcast lists
const broadcastServer = "@broadcast"

// MessageStubCiphertext marks a message whose payload could not be
// decrypted yet; the controller schedules a placeholder resend.
const MessageStubCiphertext = 2

// MessageKey identifies a message within a chat
type MessageKey struct {
	RemoteJID   string `json:"remoteJid"`
	FromMe      bool   `json:"fromMe"`
	ID          string `json:"id"`
	Participant string `json:"participant,omitempty"`
}

// ContextInfo carries quoted-message metadata
type ContextInfo struct {
	StanzaID    string `json:"stanzaId,omitempty"`
	Participant string `json:"participant,omitempty"`
	QuotedText  string `json:"quotedText,omitempty"`
}

// InteractiveKind distinguishes interactive-response envelopes
type InteractiveKind string

const (
	InteractiveList       InteractiveKind = "list"
	InteractiveButton     InteractiveKind = "button"
	InteractiveNativeFlow InteractiveKind = "native_flow"
)

// InteractiveResponse is a list selection, button reply or native
// flow reply; SelectedID resolves to a synthetic command.
type InteractiveResponse struct {
	Kind       InteractiveKind `json:"kind"`
	SelectedID string          `json:"selectedId"`
}

// Message is one in-flight wire message as surfaced by the socket
type Message struct {
	Key         MessageKey           `json:"key"`
	Timestamp   time.Time            `json:"timestamp"`
	PushName    string               `json:"pushName,omitempty"`
	Body        string               `json:"body,omitempty"`
	StubType    int                  `json:"stubType,omitempty"`
	ViewOnce    bool                 `json:"viewOnce,omitempty"`
	Revoked     bool                 `json:"revoked,omitempty"`
	Quoted      *ContextInfo         `json:"quoted,omitempty"`
	Interactive *InteractiveResponse `json:"interactive,omitempty"`
	// SelfAuthor is the author field for self-sent private messages
	// on multi-device; empty otherwise.
	SelfAuthor string `json:"selfAuthor,omitempty"`
}

// HasContent reports whether the message carries a decrypted payload
func (m *Message) HasContent() bool {
	return m.Body != "" || m.Interactive != nil
}

// IsStatusBroadcast reports whether the message targets the status chat
func (m *Message) IsStatusBroadcast() bool {
	return m.Key.RemoteJID == StatusBroadcastJID
}

// IsBroadcast reports whether the message came through the broadcast
// server, covering the status chat and broadcast lists
func (m *Message) IsBroadcast() bool {
	return strings.HasSuffix(m.Key.RemoteJID, broadcastServer)
}
