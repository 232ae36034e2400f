package whatsapp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	waCommon "go.mau.fi/whatsmeow/proto/waCommon"
	waE2E "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"

	wa "wafleet/internal/domain/whatsapp"
)

func TestTranslateReactionMessage(t *testing.T) {
	c := &Client{}
	evt := &events.Message{
		Info: types.MessageInfo{
			MessageSource: types.MessageSource{
				Chat:   types.NewJID("123", types.DefaultUserServer),
				Sender: types.NewJID("456", types.DefaultUserServer),
			},
			ID: "R1",
		},
		Message: &waE2E.Message{
			ReactionMessage: &waE2E.ReactionMessage{
				Key: &waCommon.MessageKey{
					RemoteJID: proto.String("123@s.whatsapp.net"),
					FromMe:    proto.Bool(false),
					ID:        proto.String("M9"),
				},
				Text: proto.String("👍"),
			},
		},
	}

	out := c.translate(evt)
	re, ok := out.(*wa.MessageReaction)
	require.True(t, ok, "reactions map to their own event, not an upsert")
	assert.Equal(t, "M9", re.Key.ID)
	assert.Equal(t, "123@s.whatsapp.net", re.Key.RemoteJID)
	assert.False(t, re.Key.FromMe)
	assert.Equal(t, "456@s.whatsapp.net", re.Participant)
	assert.Equal(t, "👍", re.Emoji)
}

func TestTranslateDeleteForMe(t *testing.T) {
	c := &Client{}
	out := c.translate(&events.DeleteForMe{
		ChatJID:   types.NewJID("123", types.DefaultUserServer),
		SenderJID: types.NewJID("456", types.DefaultUserServer),
		MessageID: "M4",
	})

	del, ok := out.(*wa.MessagesDelete)
	require.True(t, ok)
	assert.Equal(t, "123@s.whatsapp.net", del.Chat)
	assert.Equal(t, "456@s.whatsapp.net", del.Participant)
	assert.Equal(t, []string{"M4"}, del.IDs)
}
