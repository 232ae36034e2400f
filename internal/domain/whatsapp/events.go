// Package whatsapp defines the client-library contract the fleet
// controller depends on: a typed socket with a tagged event stream.
// The wire protocol implementation behind it is opaque.
package whatsapp

// ConnState is the connection field of a ConnectionUpdate
type ConnState string

const (
	ConnOpen       ConnState = "open"
	ConnConnecting ConnState = "connecting"
	ConnClose      ConnState = "close"
)

// Event is a tagged variant produced by a socket's event stream.
// The dispatcher pattern-matches on the concrete type.
type Event interface {
	isEvent()
}

// ConnectionUpdate reports connection state changes. On close the
// StatusCode carries the disconnect reason (0 when unknown).
type ConnectionUpdate struct {
	Connection  ConnState
	StatusCode  int
	Err         error
	QRCode      string
	PairingCode string
}

// CredsUpdate carries a rotated credential blob to be persisted
type CredsUpdate struct {
	Filename string
	Data     []byte
}

// MessagesUpsert delivers newly received messages in arrival order
type MessagesUpsert struct {
	Messages []*Message
	Type     string // "notify" or "append"
}

// MessageUpdate reports an edit or delivery-status change
type MessageUpdate struct {
	Key        MessageKey
	EditedText string
	StatusOnly bool
}

// MessagesDelete reports message revocations
type MessagesDelete struct {
	Chat        string
	Participant string
	IDs         []string
}

// MessageReaction reports a reaction added or removed
type MessageReaction struct {
	Key         MessageKey
	Participant string
	Emoji       string
}

// GroupsUpsert announces groups this account joined
type GroupsUpsert struct {
	JIDs []string
}

// GroupUpdate reports group metadata changes
type GroupUpdate struct {
	JID     string
	Subject string
}

// GroupParticipantsUpdate reports membership changes
type GroupParticipantsUpdate struct {
	GroupJID     string
	Participants []string
	Action       string // add, remove, promote, demote
}

// ContactsUpdate reports contact/pushname changes
type ContactsUpdate struct {
	JID      string
	PushName string
}

// ChatsUpdate reports chat list changes
type ChatsUpdate struct {
	JID      string
	Archived bool
}

// PresenceUpdate reports a peer's presence; any presence counts as
// session activity for health monitoring
type PresenceUpdate struct {
	From        string
	Unavailable bool
}

// CallEvent reports an incoming call offer or termination
type CallEvent struct {
	From   string
	CallID string
	Action string // offer, terminate
}

// BlocklistUpdate reports blocklist changes
type BlocklistUpdate struct {
	JIDs   []string
	Action string
}

func (ConnectionUpdate) isEvent()        {}
func (CredsUpdate) isEvent()             {}
func (MessagesUpsert) isEvent()          {}
func (MessageUpdate) isEvent()           {}
func (MessagesDelete) isEvent()          {}
func (MessageReaction) isEvent()         {}
func (GroupsUpsert) isEvent()            {}
func (GroupUpdate) isEvent()             {}
func (GroupParticipantsUpdate) isEvent() {}
func (ContactsUpdate) isEvent()          {}
func (ChatsUpdate) isEvent()             {}
func (PresenceUpdate) isEvent()          {}
func (CallEvent) isEvent()               {}
func (BlocklistUpdate) isEvent()         {}
