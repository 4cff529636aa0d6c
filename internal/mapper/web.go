package mapper

import (
	"encoding/json"

	"omni/pkg/models"
)

type webInbound struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	SiteID    string `json:"site_id"`
	Text      string `json:"text"`
	MessageID string `json:"message_id"`
}

type webSend struct {
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
}

// Web maps messages from the embedded site widget. Anonymous visitors are
// identified by their session.
type Web struct {
	base
}

func NewWeb(coercer *models.Coercer) *Web {
	return &Web{base: newBase(models.ChannelWeb, coercer)}
}

func (w *Web) Normalize(payload []byte) (models.Envelope, error) {
	var in webInbound
	if err := json.Unmarshal(payload, &in); err != nil {
		return models.Envelope{}, w.malformed("payload is not a JSON object: %v", err)
	}

	sender := in.UserID
	if sender == "" {
		sender = in.SessionID
	}
	if sender == "" {
		return models.Envelope{}, w.malformed("missing user_id and session_id")
	}
	if in.SiteID == "" {
		return models.Envelope{}, w.malformed("missing site_id")
	}

	return w.coerce(w.inbound().
		From(w.qualify(sender)).
		To(w.qualify(in.SiteID)).
		Text(in.Text).
		Meta(models.MetaThreadID, optional(in.SessionID)).
		Meta(models.MetaSourceMessageID, optional(in.MessageID)))
}

func (w *Web) Render(env models.Envelope) (SendRequest, error) {
	if err := w.checkOutbound(env); err != nil {
		return SendRequest{}, err
	}

	session, ok := env.Metadata.GetString(models.MetaThreadID)
	if !ok || session == "" {
		session = models.Address(w.channel, env.To.ID)
	}
	return w.jsonRequest("/sessions/"+session+"/messages", webSend{
		SessionID: session,
		Text:      env.Text,
	})
}
