package mapper

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	apperrors "omni/pkg/errors"
	"omni/pkg/models"
)

const MetaUpdateID = "update_id"

// Telegram maps Bot API updates delivered to a webhook.
type Telegram struct {
	base
}

func NewTelegram(coercer *models.Coercer) *Telegram {
	return &Telegram{base: newBase(models.ChannelTelegram, coercer)}
}

func (t *Telegram) Normalize(payload []byte) (models.Envelope, error) {
	var update telego.Update
	if err := json.Unmarshal(payload, &update); err != nil {
		return models.Envelope{}, t.malformed("payload is not an update: %v", err)
	}

	msg := update.Message
	if msg == nil {
		msg = update.EditedMessage
	}
	if msg == nil {
		msg = update.ChannelPost
	}
	if msg == nil {
		return models.Envelope{}, t.malformed("update %d carries no message", update.UpdateID)
	}

	var sender, name string
	switch {
	case msg.From != nil:
		if msg.From.IsBot {
			return models.Envelope{}, ErrIgnored
		}
		sender = strconv.FormatInt(msg.From.ID, 10)
		name = msg.From.Username
	case msg.SenderChat != nil:
		sender = strconv.FormatInt(msg.SenderChat.ID, 10)
		name = msg.SenderChat.Title
	default:
		return models.Envelope{}, t.malformed("message %d has no sender", msg.MessageID)
	}
	if msg.Chat.ID == 0 {
		return models.Envelope{}, t.malformed("message %d has no chat", msg.MessageID)
	}

	text := msg.Text
	if text == "" {
		text = msg.Caption
	}

	eb := t.inbound().
		From(t.qualify(sender)).
		To(t.qualify(strconv.FormatInt(msg.Chat.ID, 10))).
		Text(text).
		Meta(models.MetaSourceMessageID, strconv.Itoa(msg.MessageID)).
		Meta(models.MetaDisplayName, optional(name)).
		Meta(MetaUpdateID, float64(update.UpdateID))

	if msg.Date > 0 {
		eb.Timestamp(time.Unix(msg.Date, 0).UTC())
	}
	if msg.MessageThreadID != 0 {
		eb.Meta(models.MetaThreadID, strconv.Itoa(msg.MessageThreadID))
	}
	return t.coerce(eb)
}

// Render builds sendMessage parameters. Recipients are numeric chat ids or
// @channel usernames.
func (t *Telegram) Render(env models.Envelope) (SendRequest, error) {
	if err := t.checkOutbound(env); err != nil {
		return SendRequest{}, err
	}

	chatID, err := telegramChatID(models.Address(t.channel, env.To.ID))
	if err != nil {
		return SendRequest{}, err
	}

	params := telego.SendMessageParams{
		ChatID: chatID,
		Text:   env.Text,
	}
	if thread, ok := env.Metadata.GetString(models.MetaThreadID); ok {
		if id, err := strconv.Atoi(thread); err == nil {
			params.MessageThreadID = id
		}
	}
	return t.jsonRequest("/sendMessage", params)
}

func telegramChatID(addr string) (telego.ChatID, error) {
	if strings.HasPrefix(addr, "@") && len(addr) > 1 {
		return tu.Username(addr), nil
	}
	id, err := strconv.ParseInt(addr, 10, 64)
	if err != nil || id == 0 {
		return telego.ChatID{}, apperrors.Invalid(apperrors.ErrOutboundInvalid, "to.id", "must be a chat id or @username")
	}
	return tu.ID(id), nil
}
