package mapper

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"omni/pkg/models"
)

const (
	MetaPhoneNumberID = "phone_number_id"
	MetaMessageType   = "message_type"
)

// textPaths lists where a Cloud API message keeps its text, by message type.
var textPaths = []string{
	"text.body",
	"button.text",
	"interactive.button_reply.title",
	"interactive.list_reply.title",
	"image.caption",
	"video.caption",
	"document.caption",
}

// WhatsApp maps WhatsApp Cloud API webhooks.
type WhatsApp struct {
	base
}

func NewWhatsApp(coercer *models.Coercer) *WhatsApp {
	return &WhatsApp{base: newBase(models.ChannelWhatsApp, coercer)}
}

func (w *WhatsApp) Normalize(payload []byte) (models.Envelope, error) {
	envs, err := w.NormalizeBatch(payload)
	if err != nil {
		return models.Envelope{}, err
	}
	return envs[0], nil
}

// NormalizeBatch returns one envelope per message across every entry and
// change of the webhook, in payload order.
func (w *WhatsApp) NormalizeBatch(payload []byte) ([]models.Envelope, error) {
	if !gjson.ValidBytes(payload) {
		return nil, w.malformed("payload is not valid JSON")
	}
	root := gjson.ParseBytes(payload)
	if !root.IsObject() {
		return nil, w.malformed("payload must be an object")
	}

	var envs []models.Envelope
	for _, entry := range root.Get("entry").Array() {
		for _, change := range entry.Get("changes").Array() {
			value := change.Get("value")
			for _, msg := range value.Get("messages").Array() {
				env, err := w.message(value, msg)
				if err != nil {
					return nil, err
				}
				envs = append(envs, env)
			}
		}
	}
	if len(envs) == 0 {
		return nil, w.malformed("webhook carries no messages")
	}
	return envs, nil
}

func (w *WhatsApp) message(value, msg gjson.Result) (models.Envelope, error) {
	from := models.NormalizePhone(msg.Get("from").String())
	if from == "" {
		return models.Envelope{}, w.malformed("message has no sender")
	}

	phoneNumberID := value.Get("metadata.phone_number_id").String()
	to := models.NormalizePhone(value.Get("metadata.display_phone_number").String())
	if to == "" {
		to = phoneNumberID
	}
	if to == "" {
		return models.Envelope{}, w.malformed("webhook has no receiving business number")
	}

	msgType := msg.Get("type").String()
	text, ok := messageText(msg)
	if !ok && (msgType == "" || msgType == "text") {
		return models.Envelope{}, w.malformed("text message has no body")
	}

	eb := w.inbound().
		From(w.qualify(from)).
		To(w.qualify(to)).
		Text(text).
		Timestamp(unixSeconds(msg.Get("timestamp").String())).
		Meta(models.MetaSourceMessageID, optional(msg.Get("id").String())).
		Meta(MetaPhoneNumberID, optional(phoneNumberID)).
		Meta(MetaMessageType, optional(msgType))

	waID := strings.TrimPrefix(from, "+")
	name := value.Get(fmt.Sprintf(`contacts.#(wa_id=="%s").profile.name`, waID)).String()
	eb.Meta(models.MetaDisplayName, optional(name))

	if ctxID := msg.Get("context.id").String(); ctxID != "" {
		eb.Meta(models.MetaInReplyTo, ctxID)
	}
	return w.coerce(eb)
}

func messageText(msg gjson.Result) (string, bool) {
	for _, path := range textPaths {
		if r := msg.Get(path); r.Exists() {
			return r.String(), true
		}
	}
	return "", false
}

type whatsAppText struct {
	Body       string `json:"body"`
	PreviewURL bool   `json:"preview_url"`
}

type whatsAppContext struct {
	MessageID string `json:"message_id"`
}

type whatsAppSend struct {
	MessagingProduct string           `json:"messaging_product"`
	RecipientType    string           `json:"recipient_type"`
	To               string           `json:"to"`
	Type             string           `json:"type"`
	Text             whatsAppText     `json:"text"`
	Context          *whatsAppContext `json:"context,omitempty"`
}

func (w *WhatsApp) Render(env models.Envelope) (SendRequest, error) {
	if err := w.checkOutbound(env); err != nil {
		return SendRequest{}, err
	}

	body := whatsAppSend{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               strings.TrimPrefix(models.Address(w.channel, env.To.ID), "+"),
		Type:             "text",
		Text:             whatsAppText{Body: env.Text},
	}
	if id := replyTo(env); id != "" {
		body.Context = &whatsAppContext{MessageID: id}
	}

	endpoint := "/messages"
	if id, ok := env.Metadata.GetString(MetaPhoneNumberID); ok && id != "" {
		endpoint = "/" + id + "/messages"
	}
	return w.jsonRequest(endpoint, body)
}

// optional turns empty strings into nil so the builder skips them.
func optional(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
