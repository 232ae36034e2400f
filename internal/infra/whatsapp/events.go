package whatsapp

import (
	"encoding/json"
	"errors"
	"strconv"

	waE2E "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"

	wa "wafleet/internal/domain/whatsapp"
	"wafleet/internal/storage/authstore"
)

// translate maps whatsmeow events onto the domain event taxonomy.
// Returning nil drops the event.
func (c *Client) translate(raw interface{}) wa.Event {
	switch evt := raw.(type) {
	case *events.Connected:
		return &wa.ConnectionUpdate{Connection: wa.ConnOpen}

	case *events.PairSuccess:
		return &wa.CredsUpdate{
			Filename: authstore.CredsFilename,
			Data:     credsBlob(evt.ID, evt.Platform),
		}

	case *events.Disconnected:
		return &wa.ConnectionUpdate{
			Connection: wa.ConnClose,
			Err:        errors.New("connection closed"),
		}

	case *events.LoggedOut:
		return &wa.ConnectionUpdate{
			Connection: wa.ConnClose,
			StatusCode: 401,
			Err:        errors.New("logged out"),
		}

	case *events.StreamError:
		code, _ := strconv.Atoi(evt.Code)
		return &wa.ConnectionUpdate{
			Connection: wa.ConnClose,
			StatusCode: code,
			Err:        errors.New("stream error " + evt.Code),
		}

	case *events.ConnectFailure:
		return &wa.ConnectionUpdate{
			Connection: wa.ConnClose,
			StatusCode: int(evt.Reason),
			Err:        errors.New(evt.Message),
		}

	case *events.StreamReplaced:
		return &wa.ConnectionUpdate{
			Connection: wa.ConnClose,
			StatusCode: 440,
			Err:        errors.New("stream replaced"),
		}

	case *events.KeepAliveTimeout:
		return &wa.ConnectionUpdate{
			Connection: wa.ConnClose,
			StatusCode: 408,
			Err:        errors.New("keepalive timeout"),
		}

	case *events.TemporaryBan:
		return &wa.ConnectionUpdate{
			Connection: wa.ConnClose,
			StatusCode: 403,
			Err:        errors.New("temporary ban: " + evt.Code.String()),
		}

	case *events.Message:
		if re := evt.Message.GetReactionMessage(); re != nil {
			return &wa.MessageReaction{
				Key: wa.MessageKey{
					RemoteJID: re.GetKey().GetRemoteJID(),
					FromMe:    re.GetKey().GetFromMe(),
					ID:        re.GetKey().GetID(),
				},
				Participant: evt.Info.Sender.String(),
				Emoji:       re.GetText(),
			}
		}
		return &wa.MessagesUpsert{
			Messages: []*wa.Message{c.mapMessage(evt)},
			Type:     "notify",
		}

	case *events.DeleteForMe:
		return &wa.MessagesDelete{
			Chat:        evt.ChatJID.String(),
			Participant: evt.SenderJID.String(),
			IDs:         []string{evt.MessageID},
		}

	case *events.UndecryptableMessage:
		return &wa.MessagesUpsert{
			Messages: []*wa.Message{{
				Key: wa.MessageKey{
					RemoteJID:   evt.Info.Chat.String(),
					FromMe:      evt.Info.IsFromMe,
					ID:          evt.Info.ID,
					Participant: participantOf(evt.Info),
				},
				Timestamp: evt.Info.Timestamp,
				PushName:  evt.Info.PushName,
				StubType:  wa.MessageStubCiphertext,
			}},
			Type: "notify",
		}

	case *events.Receipt:
		return &wa.MessageUpdate{StatusOnly: true}

	case *events.Presence:
		return &wa.PresenceUpdate{
			From:        evt.From.String(),
			Unavailable: evt.Unavailable,
		}

	case *events.GroupInfo:
		return &wa.GroupUpdate{JID: evt.JID.String()}

	case *events.JoinedGroup:
		return &wa.GroupsUpsert{JIDs: []string{evt.JID.String()}}

	case *events.Contact:
		return &wa.ContactsUpdate{}

	case *events.PushName:
		return &wa.ContactsUpdate{}

	case *events.Pin:
		return &wa.ChatsUpdate{}

	case *events.Mute:
		return &wa.ChatsUpdate{}

	case *events.Archive:
		return &wa.ChatsUpdate{}

	case *events.CallOffer:
		return &wa.CallEvent{
			From:   evt.CallCreator.String(),
			CallID: evt.CallID,
			Action: "offer",
		}

	case *events.CallTerminate:
		return &wa.CallEvent{
			From:   evt.CallCreator.String(),
			CallID: evt.CallID,
			Action: "terminate",
		}

	case *events.Blocklist:
		return &wa.BlocklistUpdate{Action: string(evt.Action)}
	}

	return nil
}

func participantOf(info types.MessageInfo) string {
	if info.IsGroup {
		return info.Sender.String()
	}
	return ""
}

// mapMessage flattens a whatsmeow message into the domain shape
func (c *Client) mapMessage(evt *events.Message) *wa.Message {
	m := &wa.Message{
		Key: wa.MessageKey{
			RemoteJID:   evt.Info.Chat.String(),
			FromMe:      evt.Info.IsFromMe,
			ID:          evt.Info.ID,
			Participant: participantOf(evt.Info),
		},
		Timestamp: evt.Info.Timestamp,
		PushName:  evt.Info.PushName,
	}
	if evt.Info.IsFromMe {
		m.SelfAuthor = evt.Info.Sender.String()
	}

	extractContent(evt.Message, m)
	return m
}

// extractContent pulls text, quotes and interactive responses out of
// the protobuf envelope, unwrapping view-once containers
func extractContent(msg *waE2E.Message, m *wa.Message) {
	if msg == nil {
		return
	}

	if vo := msg.GetViewOnceMessage().GetMessage(); vo != nil {
		m.ViewOnce = true
		extractContent(vo, m)
		return
	}
	if vo := msg.GetViewOnceMessageV2().GetMessage(); vo != nil {
		m.ViewOnce = true
		extractContent(vo, m)
		return
	}

	if pm := msg.GetProtocolMessage(); pm != nil && pm.GetType() == waE2E.ProtocolMessage_REVOKE {
		m.Revoked = true
		if key := pm.GetKey(); key != nil {
			m.Key.ID = key.GetID()
		}
		return
	}

	switch {
	case msg.GetConversation() != "":
		m.Body = msg.GetConversation()

	case msg.GetExtendedTextMessage() != nil:
		ext := msg.GetExtendedTextMessage()
		m.Body = ext.GetText()
		if ci := ext.GetContextInfo(); ci != nil && ci.GetStanzaID() != "" {
			m.Quoted = &wa.ContextInfo{
				StanzaID:    ci.GetStanzaID(),
				Participant: ci.GetParticipant(),
				QuotedText:  ci.GetQuotedMessage().GetConversation(),
			}
		}

	case msg.GetImageMessage() != nil:
		m.Body = msg.GetImageMessage().GetCaption()

	case msg.GetVideoMessage() != nil:
		m.Body = msg.GetVideoMessage().GetCaption()

	case msg.GetDocumentMessage() != nil:
		m.Body = msg.GetDocumentMessage().GetCaption()

	case msg.GetListResponseMessage() != nil:
		m.Interactive = &wa.InteractiveResponse{
			Kind:       wa.InteractiveList,
			SelectedID: msg.GetListResponseMessage().GetSingleSelectReply().GetSelectedRowID(),
		}

	case msg.GetButtonsResponseMessage() != nil:
		m.Interactive = &wa.InteractiveResponse{
			Kind:       wa.InteractiveButton,
			SelectedID: msg.GetButtonsResponseMessage().GetSelectedButtonID(),
		}

	case msg.GetTemplateButtonReplyMessage() != nil:
		m.Interactive = &wa.InteractiveResponse{
			Kind:       wa.InteractiveButton,
			SelectedID: msg.GetTemplateButtonReplyMessage().GetSelectedID(),
		}

	case msg.GetInteractiveResponseMessage() != nil:
		m.Interactive = &wa.InteractiveResponse{
			Kind:       wa.InteractiveNativeFlow,
			SelectedID: nativeFlowID(msg.GetInteractiveResponseMessage()),
		}
	}
}

// nativeFlowID digs the selection id out of a native-flow response
func nativeFlowID(resp *waE2E.InteractiveResponseMessage) string {
	nf := resp.GetNativeFlowResponseMessage()
	if nf == nil {
		return ""
	}
	var params struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal([]byte(nf.GetParamsJSON()), &params); err != nil {
		return ""
	}
	return params.ID
}
