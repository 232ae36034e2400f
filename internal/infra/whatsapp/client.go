package whatsapp

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/mdp/qrterminal/v3"
	"github.com/rs/zerolog/log"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/appstate"
	waE2E "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	wa "wafleet/internal/domain/whatsapp"
)

// Factory builds whatsmeow-backed sockets
type Factory struct {
	devices *DeviceStore
}

// NewFactory creates the socket factory
func NewFactory(devices *DeviceStore) *Factory {
	return &Factory{devices: devices}
}

// NewSocket implements the domain socket factory
func (f *Factory) NewSocket(ctx context.Context, opts wa.FactoryOptions) (wa.Socket, error) {
	device, err := f.devices.deviceFor(ctx, opts.SessionID, opts.AllowPairing)
	if err != nil {
		return nil, err
	}

	cli := whatsmeow.NewClient(device, waLog.Noop)
	cli.EnableAutoReconnect = false

	return &Client{cli: cli, opts: opts}, nil
}

// Client adapts one whatsmeow client to the domain socket contract
type Client struct {
	cli  *whatsmeow.Client
	opts wa.FactoryOptions

	mu        sync.Mutex
	handlerID uint32
	installed bool
}

// InstallHandler attaches the single event handler. Reports false if
// one is already installed.
func (c *Client) InstallHandler(h func(wa.Event)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.installed {
		return false
	}
	c.handlerID = c.cli.AddEventHandler(func(raw interface{}) {
		if ev := c.translate(raw); ev != nil {
			h(ev)
		}
	})
	c.installed = true
	return true
}

// RemoveHandlers detaches the event handler
func (c *Client) RemoveHandlers() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.installed {
		c.cli.RemoveEventHandler(c.handlerID)
		c.installed = false
	}
}

// Connect opens the wire, driving the pairing flow for fresh devices
func (c *Client) Connect(ctx context.Context) error {
	if c.cli.Store.ID != nil {
		return c.cli.Connect()
	}

	if !c.opts.AllowPairing {
		return fmt.Errorf("session %s is not paired", c.opts.SessionID)
	}

	if c.opts.PhoneNumber != "" {
		if err := c.cli.Connect(); err != nil {
			return fmt.Errorf("failed to connect for pairing: %w", err)
		}
		code, err := c.cli.PairPhone(ctx, c.opts.PhoneNumber, true, whatsmeow.PairClientChrome, "Chrome (Linux)")
		if err != nil {
			return fmt.Errorf("failed to request pairing code: %w", err)
		}
		log.Info().Str("session_id", c.opts.SessionID).Msg("Pairing code requested")
		if c.opts.OnPairingCode != nil {
			c.opts.OnPairingCode(code)
		}
		return nil
	}

	qrChan, err := c.cli.GetQRChannel(ctx)
	if err != nil {
		return fmt.Errorf("failed to open QR channel: %w", err)
	}
	if err := c.cli.Connect(); err != nil {
		return fmt.Errorf("failed to connect for pairing: %w", err)
	}

	go func() {
		for item := range qrChan {
			if item.Event != "code" {
				continue
			}
			if c.opts.OnQR != nil {
				c.opts.OnQR(item.Code)
			} else {
				qrterminal.GenerateHalfBlock(item.Code, qrterminal.L, os.Stdout)
			}
		}
	}()
	return nil
}

// Close shuts the wire down
func (c *Client) Close() {
	c.cli.Disconnect()
}

// OwnJID returns the session's own identity, empty until paired
func (c *Client) OwnJID() string {
	id := c.cli.Store.ID
	if id == nil {
		return ""
	}
	return id.ToNonAD().String()
}

// Connected reports wire liveness
func (c *Client) Connected() bool {
	return c.cli.IsConnected()
}

// LoggedIn reports whether the session has an authenticated identity
func (c *Client) LoggedIn() bool {
	return c.cli.IsLoggedIn()
}

// SendMessage sends text, optionally quoting another message
func (c *Client) SendMessage(ctx context.Context, jid string, content wa.Content) error {
	to, err := types.ParseJID(jid)
	if err != nil {
		return fmt.Errorf("failed to parse recipient: %w", err)
	}

	var msg *waE2E.Message
	if content.Quoted != nil {
		msg = &waE2E.Message{
			ExtendedTextMessage: &waE2E.ExtendedTextMessage{
				Text: proto.String(content.Text),
				ContextInfo: &waE2E.ContextInfo{
					StanzaID:    proto.String(content.Quoted.Key.ID),
					Participant: proto.String(quotedParticipant(content.Quoted)),
					QuotedMessage: &waE2E.Message{
						Conversation: proto.String(content.Quoted.Body),
					},
				},
			},
		}
	} else {
		msg = &waE2E.Message{Conversation: proto.String(content.Text)}
	}

	_, err = c.cli.SendMessage(ctx, to, msg)
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

func quotedParticipant(m *wa.Message) string {
	if m.Key.Participant != "" {
		return m.Key.Participant
	}
	return m.Key.RemoteJID
}

// SendPresence publishes availability
func (c *Client) SendPresence(ctx context.Context, available bool) error {
	p := types.PresenceAvailable
	if !available {
		p = types.PresenceUnavailable
	}
	return c.cli.SendPresence(p)
}

// PresenceSubscribe asks for a contact's presence updates
func (c *Client) PresenceSubscribe(jid string) error {
	j, err := types.ParseJID(jid)
	if err != nil {
		return fmt.Errorf("failed to parse JID: %w", err)
	}
	return c.cli.SubscribePresence(j)
}

// GroupMetadata fetches a group's metadata
func (c *Client) GroupMetadata(ctx context.Context, jid string) (*wa.GroupInfo, error) {
	j, err := types.ParseJID(jid)
	if err != nil {
		return nil, fmt.Errorf("failed to parse group JID: %w", err)
	}

	info, err := c.cli.GetGroupInfo(j)
	if err != nil {
		return nil, fmt.Errorf("failed to get group info: %w", err)
	}

	out := &wa.GroupInfo{
		JID:      info.JID.String(),
		Subject:  info.Name,
		OwnerJID: info.OwnerJID.ToNonAD().String(),
	}
	for _, p := range info.Participants {
		out.Participants = append(out.Participants, wa.GroupParticipant{
			JID:          p.JID.ToNonAD().String(),
			LID:          p.LID.ToNonAD().String(),
			IsAdmin:      p.IsAdmin,
			IsSuperAdmin: p.IsSuperAdmin,
		})
	}
	return out, nil
}

// GroupParticipantsUpdate adds, removes, promotes or demotes members
func (c *Client) GroupParticipantsUpdate(ctx context.Context, jid string, participants []string, action string) error {
	j, err := types.ParseJID(jid)
	if err != nil {
		return fmt.Errorf("failed to parse group JID: %w", err)
	}

	jids := make([]types.JID, 0, len(participants))
	for _, p := range participants {
		pj, err := types.ParseJID(p)
		if err != nil {
			return fmt.Errorf("failed to parse participant: %w", err)
		}
		jids = append(jids, pj)
	}

	var change whatsmeow.ParticipantChange
	switch action {
	case "add":
		change = whatsmeow.ParticipantChangeAdd
	case "remove":
		change = whatsmeow.ParticipantChangeRemove
	case "promote":
		change = whatsmeow.ParticipantChangePromote
	case "demote":
		change = whatsmeow.ParticipantChangeDemote
	default:
		return fmt.Errorf("unknown participant action: %s", action)
	}

	_, err = c.cli.UpdateGroupParticipants(j, jids, change)
	if err != nil {
		return fmt.Errorf("failed to update participants: %w", err)
	}
	return nil
}

// NewsletterFollow follows a channel
func (c *Client) NewsletterFollow(ctx context.Context, jid string) error {
	j, err := types.ParseJID(jid)
	if err != nil {
		return fmt.Errorf("failed to parse newsletter JID: %w", err)
	}
	return c.cli.FollowNewsletter(j)
}

// SubscribeNewsletterUpdates subscribes to a channel's live updates
func (c *Client) SubscribeNewsletterUpdates(ctx context.Context, jid string) error {
	j, err := types.ParseJID(jid)
	if err != nil {
		return fmt.Errorf("failed to parse newsletter JID: %w", err)
	}
	_, err = c.cli.NewsletterSubscribeLiveUpdates(ctx, j)
	return err
}

// NewsletterUnmute unmutes a channel
func (c *Client) NewsletterUnmute(ctx context.Context, jid string) error {
	j, err := types.ParseJID(jid)
	if err != nil {
		return fmt.Errorf("failed to parse newsletter JID: %w", err)
	}
	return c.cli.NewsletterToggleMute(j, false)
}

// NewsletterMetadata fetches channel info including the viewer role
func (c *Client) NewsletterMetadata(ctx context.Context, jid string) (*wa.NewsletterInfo, error) {
	j, err := types.ParseJID(jid)
	if err != nil {
		return nil, fmt.Errorf("failed to parse newsletter JID: %w", err)
	}

	info, err := c.cli.GetNewsletterInfo(j)
	if err != nil {
		return nil, fmt.Errorf("failed to get newsletter info: %w", err)
	}

	out := &wa.NewsletterInfo{JID: info.ID.String(), Name: info.ThreadMeta.Name.Text}
	if info.ViewerMeta != nil {
		out.ViewerRole = string(info.ViewerMeta.Role)
	}
	return out, nil
}

// IsOnWhatsApp checks whether a phone number has an account
func (c *Client) IsOnWhatsApp(ctx context.Context, phone string) (bool, error) {
	resp, err := c.cli.IsOnWhatsApp([]string{phone})
	if err != nil {
		return false, fmt.Errorf("failed to check number: %w", err)
	}
	if len(resp) == 0 {
		return false, nil
	}
	return resp[0].IsIn, nil
}

// ChatPin pins or unpins a chat through app state
func (c *Client) ChatPin(ctx context.Context, jid string, pinned bool) error {
	j, err := types.ParseJID(jid)
	if err != nil {
		return fmt.Errorf("failed to parse chat JID: %w", err)
	}
	if err := c.cli.SendAppState(ctx, appstate.BuildPin(j, pinned)); err != nil {
		return fmt.Errorf("failed to pin chat: %w", err)
	}
	return nil
}

// RequestPlaceholderResend asks the sender to re-deliver an
// undecryptable message
func (c *Client) RequestPlaceholderResend(ctx context.Context, key wa.MessageKey) error {
	own := c.cli.Store.ID
	if own == nil {
		return fmt.Errorf("session is not paired")
	}

	chat, err := types.ParseJID(key.RemoteJID)
	if err != nil {
		return fmt.Errorf("failed to parse chat JID: %w", err)
	}
	sender := chat
	if key.Participant != "" {
		if sender, err = types.ParseJID(key.Participant); err != nil {
			return fmt.Errorf("failed to parse sender JID: %w", err)
		}
	}

	msg := c.cli.BuildUnavailableMessageRequest(chat, sender, key.ID)
	_, err = c.cli.SendMessage(ctx, own.ToNonAD(), msg, whatsmeow.SendRequestExtra{Peer: true})
	if err != nil {
		return fmt.Errorf("failed to request resend: %w", err)
	}
	return nil
}

// FlushEvents is a no-op: whatsmeow delivers events synchronously and
// keeps no flushable buffer
func (c *Client) FlushEvents() {}

// IsBuffering always reports false for whatsmeow
func (c *Client) IsBuffering() bool { return false }
