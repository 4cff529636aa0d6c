package mapper

import (
	"bytes"
	"encoding/json"
	"net/url"

	"omni/pkg/models"
)

type smsInbound struct {
	From       string `json:"From"`
	To         string `json:"To"`
	Body       string `json:"Body"`
	MessageSid string `json:"MessageSid"`
}

// SMS maps Twilio-style webhooks, sent either form encoded or as JSON, and
// renders Twilio's form encoded send request.
type SMS struct {
	base
}

func NewSMS(coercer *models.Coercer) *SMS {
	return &SMS{base: newBase(models.ChannelSMS, coercer)}
}

func (s *SMS) Normalize(payload []byte) (models.Envelope, error) {
	in, err := s.decode(payload)
	if err != nil {
		return models.Envelope{}, err
	}

	from := models.NormalizePhone(in.From)
	if from == "" {
		return models.Envelope{}, s.malformed("missing From number")
	}
	to := models.NormalizePhone(in.To)
	if to == "" {
		return models.Envelope{}, s.malformed("missing To number")
	}

	return s.coerce(s.inbound().
		From(s.qualify(from)).
		To(s.qualify(to)).
		Text(in.Body).
		Meta(models.MetaSourceMessageID, optional(in.MessageSid)))
}

func (s *SMS) decode(payload []byte) (smsInbound, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var in smsInbound
		if err := json.Unmarshal(trimmed, &in); err != nil {
			return smsInbound{}, s.malformed("payload is not a JSON object: %v", err)
		}
		return in, nil
	}

	form, err := url.ParseQuery(string(trimmed))
	if err != nil {
		return smsInbound{}, s.malformed("payload is not form encoded: %v", err)
	}
	return smsInbound{
		From:       form.Get("From"),
		To:         form.Get("To"),
		Body:       form.Get("Body"),
		MessageSid: form.Get("MessageSid"),
	}, nil
}

func (s *SMS) Render(env models.Envelope) (SendRequest, error) {
	if err := s.checkOutbound(env); err != nil {
		return SendRequest{}, err
	}

	form := url.Values{}
	form.Set("To", models.Address(s.channel, env.To.ID))
	if env.From.ID != "" {
		form.Set("From", models.Address(s.channel, env.From.ID))
	}
	form.Set("Body", env.Text)

	return SendRequest{
		Channel:     s.channel,
		Endpoint:    "/Messages.json",
		ContentType: ContentTypeForm,
		Body:        []byte(form.Encode()),
	}, nil
}
