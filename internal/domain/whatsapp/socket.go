package whatsapp

import "context"

// GroupParticipant is one member of a group, with both identifier
// forms when known
type GroupParticipant struct {
	JID          string
	LID          string
	IsAdmin      bool
	IsSuperAdmin bool
}

// GroupInfo is the subset of group metadata the controller needs
type GroupInfo struct {
	JID          string
	Subject      string
	OwnerJID     string
	Participants []GroupParticipant
}

// NewsletterInfo carries newsletter metadata; a non-empty ViewerRole
// means this account is already subscribed.
type NewsletterInfo struct {
	JID        string
	Name       string
	ViewerRole string
}

// Content is an outbound message payload
type Content struct {
	Text   string
	Quoted *Message
}

// Socket is the live handle for one paired WhatsApp account. All
// methods are safe for concurrent use. Blocking operations take a
// context.
type Socket interface {
	// InstallHandler registers the event handler. It returns false if
	// a handler is already installed; at most one installation wins.
	InstallHandler(h func(Event)) bool

	// RemoveHandlers detaches all event handlers
	RemoveHandlers()

	// Connect opens the wire connection
	Connect(ctx context.Context) error

	// Close tears down the wire connection without clearing auth
	Close()

	// OwnJID returns this account's JID, empty before pairing
	OwnJID() string

	// Connected reports whether the wire is up
	Connected() bool

	// LoggedIn reports whether the account is paired
	LoggedIn() bool

	// SendMessage sends a message to a chat
	SendMessage(ctx context.Context, jid string, content Content) error

	// SendPresence publishes this account's presence state
	SendPresence(ctx context.Context, available bool) error

	// PresenceSubscribe subscribes to a peer's presence
	PresenceSubscribe(jid string) error

	// GroupMetadata fetches group info including the participant list
	GroupMetadata(ctx context.Context, jid string) (*GroupInfo, error)

	// GroupParticipantsUpdate adds/removes/promotes/demotes members
	GroupParticipantsUpdate(ctx context.Context, jid string, participants []string, action string) error

	// NewsletterFollow subscribes this account to a channel
	NewsletterFollow(ctx context.Context, jid string) error

	// SubscribeNewsletterUpdates enables live updates for a channel
	SubscribeNewsletterUpdates(ctx context.Context, jid string) error

	// NewsletterUnmute unmutes a followed channel
	NewsletterUnmute(ctx context.Context, jid string) error

	// NewsletterMetadata fetches channel metadata
	NewsletterMetadata(ctx context.Context, jid string) (*NewsletterInfo, error)

	// IsOnWhatsApp checks whether a phone number has an account
	IsOnWhatsApp(ctx context.Context, phone string) (bool, error)

	// ChatPin pins or unpins a chat
	ChatPin(ctx context.Context, jid string, pinned bool) error

	// RequestPlaceholderResend asks the server to resend an
	// undecryptable message
	RequestPlaceholderResend(ctx context.Context, key MessageKey) error

	// FlushEvents drains any buffered events
	FlushEvents()

	// IsBuffering reports whether the event stream is buffering
	IsBuffering() bool
}

// FactoryOptions configures socket creation for one session
type FactoryOptions struct {
	SessionID    string
	PhoneNumber  string
	AllowPairing bool
	// OnQR receives pairing QR payloads when AllowPairing is set
	OnQR func(code string)
	// OnPairingCode receives the phone-pairing code when available
	OnPairingCode func(code string)
}

// SocketFactory creates sockets bound to the configured auth store
type SocketFactory interface {
	NewSocket(ctx context.Context, opts FactoryOptions) (Socket, error)
}
