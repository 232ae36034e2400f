// Package wajid normalizes WhatsApp identifiers: phone JIDs with
// device suffixes, group JIDs and LIDs.
package wajid

import (
	"context"
	"strings"

	"wafleet/internal/domain/whatsapp"
)

// JID server suffixes
const (
	ServerUser  = "s.whatsapp.net"
	ServerGroup = "g.us"
	ServerLID   = "lid"
)

// JID is a parsed WhatsApp identifier
type JID struct {
	User   string
	Device string
	Server string
}

// String reassembles the JID without the device suffix
func (j JID) String() string {
	if j.User == "" {
		return ""
	}
	return j.User + "@" + j.Server
}

// Parse splits a raw JID into user, device suffix and server
func Parse(raw string) JID {
	at := strings.LastIndex(raw, "@")
	if at < 0 {
		return JID{User: raw, Server: ServerUser}
	}
	user := raw[:at]
	server := raw[at+1:]
	device := ""
	if colon := strings.Index(user, ":"); colon >= 0 {
		device = user[colon+1:]
		user = user[:colon]
	}
	return JID{User: user, Device: device, Server: server}
}

// Normalize strips the device suffix (":N" before the "@") while
// preserving the server. Group JIDs and LIDs pass through with the
// same treatment; an empty input stays empty.
func Normalize(raw string) string {
	if raw == "" {
		return ""
	}
	return Parse(raw).String()
}

// IsGroup reports whether the JID addresses a group
func IsGroup(raw string) bool {
	return strings.HasSuffix(raw, "@"+ServerGroup)
}

// IsUser reports whether the JID addresses a user account
func IsUser(raw string) bool {
	return strings.HasSuffix(raw, "@"+ServerUser)
}

// IsLID reports whether the JID is a lightweight identifier
func IsLID(raw string) bool {
	return strings.HasSuffix(raw, "@"+ServerLID)
}

// ExtractPhone returns the bare phone number of a user JID, or ""
// for groups and LIDs
func ExtractPhone(raw string) string {
	if !IsUser(raw) {
		return ""
	}
	return Parse(raw).User
}

// Equal compares two JIDs ignoring device suffixes
func Equal(a, b string) bool {
	if a == "" || b == "" {
		return a == b
	}
	return Normalize(a) == Normalize(b)
}

// UserToJID builds a canonical user JID from a bare phone number
func UserToJID(phone string) string {
	phone = strings.TrimPrefix(strings.TrimSpace(phone), "+")
	if phone == "" {
		return ""
	}
	return phone + "@" + ServerUser
}

// ResolveLIDToJID maps a LID to its phone-form JID by consulting the
// group's participant list. On any failure the input is returned
// unchanged so callers can proceed with the unresolved identifier.
func ResolveLIDToJID(ctx context.Context, sock whatsapp.Socket, groupJID, lid string) string {
	if !IsLID(lid) || sock == nil {
		return lid
	}

	info, err := sock.GroupMetadata(ctx, groupJID)
	if err != nil || info == nil {
		return lid
	}

	want := Normalize(lid)
	for _, p := range info.Participants {
		if p.LID != "" && Normalize(p.LID) == want && p.JID != "" {
			return Normalize(p.JID)
		}
	}
	return lid
}

// NormalizeMessage normalizes every JID field of a message in place:
// the key, the participant and any quoted contextInfo participant.
func NormalizeMessage(m *whatsapp.Message) {
	if m == nil {
		return
	}
	m.Key.RemoteJID = Normalize(m.Key.RemoteJID)
	if m.Key.Participant != "" {
		m.Key.Participant = Normalize(m.Key.Participant)
	}
	if m.SelfAuthor != "" {
		m.SelfAuthor = Normalize(m.SelfAuthor)
	}
	if m.Quoted != nil && m.Quoted.Participant != "" {
		m.Quoted.Participant = Normalize(m.Quoted.Participant)
	}
}

// ResolveMessageLIDs rewrites LID participants in a message to their
// phone-form JIDs using the group participant list.
func ResolveMessageLIDs(ctx context.Context, sock whatsapp.Socket, m *whatsapp.Message) {
	if m == nil || !IsGroup(m.Key.RemoteJID) {
		return
	}
	if IsLID(m.Key.Participant) {
		m.Key.Participant = ResolveLIDToJID(ctx, sock, m.Key.RemoteJID, m.Key.Participant)
	}
	if m.Quoted != nil && IsLID(m.Quoted.Participant) {
		m.Quoted.Participant = ResolveLIDToJID(ctx, sock, m.Key.RemoteJID, m.Quoted.Participant)
	}
}
