package models

import "time"

type Direction string

const (
	DirectionInbound  Direction = "in"
	DirectionOutbound Direction = "out"
)

type Channel string

const (
	ChannelWhatsApp Channel = "whatsapp"
	ChannelEmail    Channel = "email"
	ChannelSMS      Channel = "sms"
	ChannelWeb      Channel = "web"
	ChannelSlack    Channel = "slack"
	ChannelTelegram Channel = "telegram"
	ChannelDiscord  Channel = "discord"
)

// Party is an addressable participant. ID is channel-qualified, e.g. "whatsapp:+15551234567".
type Party struct {
	ID string `json:"id"`
}

// Envelope is the canonical message exchanged between channel mappers and the publisher.
// Values returned by coercion are treated as immutable; use the With* helpers to derive copies.
type Envelope struct {
	Direction Direction `json:"direction"`
	Channel   Channel   `json:"channel"`
	From      Party     `json:"from"`
	To        Party     `json:"to"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	Metadata  Metadata  `json:"metadata"`
}

func IsInbound(e Envelope) bool {
	return e.Direction == DirectionInbound
}

func IsOutbound(e Envelope) bool {
	return e.Direction == DirectionOutbound
}

// WithMetadata returns a copy of the envelope with key set. The receiver is left untouched.
func (e Envelope) WithMetadata(key string, value Scalar) Envelope {
	out := e
	out.Metadata = e.Metadata.Clone()
	out.Metadata[key] = value
	return out
}

// Clone returns a deep copy.
func (e Envelope) Clone() Envelope {
	out := e
	out.Metadata = e.Metadata.Clone()
	return out
}

// Reply builds the raw outbound form of a response to an inbound envelope,
// swapping the parties. The result still has to go through CoerceOutboundMap.
func (e Envelope) Reply(text string) map[string]interface{} {
	return NewOutboundBuilder(e.Channel).
		From(e.To.ID).
		To(e.From.ID).
		Text(text).
		Meta(MetaInReplyTo, e.Metadata[MetaSourceMessageID].Interface()).
		Raw()
}
