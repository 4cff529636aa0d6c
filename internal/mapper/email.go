package mapper

import (
	"encoding/json"
	"net/mail"
	"strings"

	"omni/pkg/models"
)

type emailInbound struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Subject   string `json:"subject"`
	Text      string `json:"text"`
	HTML      string `json:"html"`
	MessageID string `json:"message_id"`
	InReplyTo string `json:"in_reply_to"`
	Date      string `json:"date"`
}

type emailSend struct {
	From      string `json:"from,omitempty"`
	To        string `json:"to"`
	Subject   string `json:"subject"`
	Text      string `json:"text"`
	InReplyTo string `json:"in_reply_to,omitempty"`
}

// Email maps inbound-parse style JSON webhooks. Addresses may carry display
// names ("Alice <alice@example.com>"); the envelope keeps the bare address.
type Email struct {
	base
}

func NewEmail(coercer *models.Coercer) *Email {
	return &Email{base: newBase(models.ChannelEmail, coercer)}
}

func (e *Email) Normalize(payload []byte) (models.Envelope, error) {
	var in emailInbound
	if err := json.Unmarshal(payload, &in); err != nil {
		return models.Envelope{}, e.malformed("payload is not a JSON object: %v", err)
	}

	from, err := mail.ParseAddress(in.From)
	if err != nil {
		return models.Envelope{}, e.malformed("invalid sender address: %v", err)
	}
	// multi-recipient mail is attributed to the first address
	to, err := mail.ParseAddressList(in.To)
	if err != nil || len(to) == 0 {
		return models.Envelope{}, e.malformed("invalid recipient address")
	}

	text := in.Text
	if text == "" {
		text = in.HTML
	}

	eb := e.inbound().
		From(e.qualify(from.Address)).
		To(e.qualify(to[0].Address)).
		Text(text).
		Meta(models.MetaSubject, optional(in.Subject)).
		Meta(models.MetaDisplayName, optional(from.Name)).
		Meta(models.MetaSourceMessageID, optional(strings.Trim(in.MessageID, "<>"))).
		Meta(models.MetaInReplyTo, optional(strings.Trim(in.InReplyTo, "<>")))

	if in.Date != "" {
		if ts, err := mail.ParseDate(in.Date); err == nil {
			eb.Timestamp(ts)
		}
	}
	return e.coerce(eb)
}

func (e *Email) Render(env models.Envelope) (SendRequest, error) {
	if err := e.checkOutbound(env); err != nil {
		return SendRequest{}, err
	}

	subject, _ := env.Metadata.GetString(models.MetaSubject)
	return e.jsonRequest("/mail/send", emailSend{
		From:      models.Address(e.channel, env.From.ID),
		To:        models.Address(e.channel, env.To.ID),
		Subject:   subject,
		Text:      env.Text,
		InReplyTo: replyTo(env),
	})
}
