package wajid

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"wafleet/internal/domain/whatsapp"
)

func TestNormalizeStripsDeviceSuffix(t *testing.T) {
	assert.Equal(t, "2348012345678@s.whatsapp.net", Normalize("2348012345678:0@s.whatsapp.net"))
	assert.Equal(t, "2348012345678@s.whatsapp.net", Normalize("2348012345678:16@s.whatsapp.net"))
	assert.Equal(t, "2348012345678@s.whatsapp.net", Normalize("2348012345678@s.whatsapp.net"))
}

func TestNormalizePreservesServers(t *testing.T) {
	assert.Equal(t, "120363041234567890@g.us", Normalize("120363041234567890@g.us"))
	assert.Equal(t, "98765432101@lid", Normalize("98765432101:3@lid"))
	assert.True(t, IsLID(Normalize("98765432101:3@lid")))
}

func TestNormalizeEmpty(t *testing.T) {
	assert.Equal(t, "", Normalize(""))
}

func TestClassifiers(t *testing.T) {
	assert.True(t, IsGroup("abc@g.us"))
	assert.False(t, IsGroup("abc@s.whatsapp.net"))
	assert.True(t, IsUser("123@s.whatsapp.net"))
	assert.True(t, IsLID("123@lid"))
	assert.False(t, IsLID("123@s.whatsapp.net"))
}

func TestExtractPhone(t *testing.T) {
	assert.Equal(t, "15551234", ExtractPhone("15551234:2@s.whatsapp.net"))
	assert.Equal(t, "", ExtractPhone("group@g.us"))
	assert.Equal(t, "", ExtractPhone("99@lid"))
}

func TestEqualIgnoresDevice(t *testing.T) {
	assert.True(t, Equal("1555:1@s.whatsapp.net", "1555@s.whatsapp.net"))
	assert.False(t, Equal("1555@s.whatsapp.net", "1556@s.whatsapp.net"))
	assert.False(t, Equal("", "1556@s.whatsapp.net"))
}

func TestUserToJID(t *testing.T) {
	assert.Equal(t, "15551234@s.whatsapp.net", UserToJID("+15551234"))
	assert.Equal(t, "15551234@s.whatsapp.net", UserToJID("15551234"))
	assert.Equal(t, "", UserToJID(""))
}

// groupSocket is a minimal socket stub serving a fixed participant list
type groupSocket struct {
	whatsapp.Socket
	info *whatsapp.GroupInfo
	err  error
}

func (g *groupSocket) GroupMetadata(ctx context.Context, jid string) (*whatsapp.GroupInfo, error) {
	return g.info, g.err
}

func TestResolveLIDToJID(t *testing.T) {
	sock := &groupSocket{info: &whatsapp.GroupInfo{
		JID: "g1@g.us",
		Participants: []whatsapp.GroupParticipant{
			{JID: "19876543210@s.whatsapp.net", LID: "55443322@lid"},
			{JID: "15550001111@s.whatsapp.net", LID: "11223344@lid"},
		},
	}}

	resolved := ResolveLIDToJID(context.Background(), sock, "g1@g.us", "55443322:3@lid")
	assert.Equal(t, "19876543210@s.whatsapp.net", resolved)
}

func TestResolveLIDToJIDFailureReturnsInput(t *testing.T) {
	sock := &groupSocket{err: errors.New("boom")}
	assert.Equal(t, "9@lid", ResolveLIDToJID(context.Background(), sock, "g1@g.us", "9@lid"))

	// non-LID passes straight through without a lookup
	assert.Equal(t, "1@s.whatsapp.net", ResolveLIDToJID(context.Background(), nil, "g1@g.us", "1@s.whatsapp.net"))
}

func TestNormalizeMessage(t *testing.T) {
	m := &whatsapp.Message{
		Key: whatsapp.MessageKey{
			RemoteJID:   "g1@g.us",
			Participant: "1555:4@s.whatsapp.net",
		},
		Quoted: &whatsapp.ContextInfo{Participant: "1666:2@s.whatsapp.net"},
	}
	NormalizeMessage(m)
	assert.Equal(t, "1555@s.whatsapp.net", m.Key.Participant)
	assert.Equal(t, "1666@s.whatsapp.net", m.Quoted.Participant)
}

func TestResolveMessageLIDs(t *testing.T) {
	sock := &groupSocket{info: &whatsapp.GroupInfo{
		Participants: []whatsapp.GroupParticipant{
			{JID: "19876543210@s.whatsapp.net", LID: "777@lid"},
		},
	}}
	m := &whatsapp.Message{
		Key: whatsapp.MessageKey{
			RemoteJID:   "g1@g.us",
			ID:          "M1",
			Participant: "777@lid",
		},
		Quoted: &whatsapp.ContextInfo{Participant: "777@lid"},
	}
	ResolveMessageLIDs(context.Background(), sock, m)
	assert.Equal(t, "19876543210@s.whatsapp.net", m.Key.Participant)
	assert.Equal(t, "19876543210@s.whatsapp.net", m.Quoted.Participant)
}
