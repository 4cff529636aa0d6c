package models

import "time"

// EnvelopeBuilder assembles the raw form of an envelope for application code.
// Build output still goes through a Coercer so the schema is checked once.
type EnvelopeBuilder struct {
	raw  map[string]interface{}
	meta map[string]interface{}
}

func NewInboundBuilder(ch Channel) *EnvelopeBuilder {
	return newBuilder(DirectionInbound, ch)
}

func NewOutboundBuilder(ch Channel) *EnvelopeBuilder {
	return newBuilder(DirectionOutbound, ch)
}

func newBuilder(dir Direction, ch Channel) *EnvelopeBuilder {
	return &EnvelopeBuilder{
		raw: map[string]interface{}{
			"direction": string(dir),
			"channel":   string(ch),
		},
		meta: make(map[string]interface{}),
	}
}

func (b *EnvelopeBuilder) From(id string) *EnvelopeBuilder {
	b.raw["from"] = map[string]interface{}{"id": id}
	return b
}

func (b *EnvelopeBuilder) To(id string) *EnvelopeBuilder {
	b.raw["to"] = map[string]interface{}{"id": id}
	return b
}

func (b *EnvelopeBuilder) Text(text string) *EnvelopeBuilder {
	b.raw["text"] = text
	return b
}

func (b *EnvelopeBuilder) Timestamp(ts time.Time) *EnvelopeBuilder {
	b.raw["timestamp"] = ts
	return b
}

// Meta sets a metadata entry; nil values are skipped.
func (b *EnvelopeBuilder) Meta(key string, value interface{}) *EnvelopeBuilder {
	if value == nil {
		return b
	}
	b.meta[key] = value
	return b
}

func (b *EnvelopeBuilder) Raw() map[string]interface{} {
	out := make(map[string]interface{}, len(b.raw)+1)
	for k, v := range b.raw {
		out[k] = v
	}
	if len(b.meta) > 0 {
		meta := make(map[string]interface{}, len(b.meta))
		for k, v := range b.meta {
			meta[k] = v
		}
		out["metadata"] = meta
	}
	return out
}

// Build coerces the raw envelope with the given coercer (the default one when nil).
func (b *EnvelopeBuilder) Build(c *Coercer) (Envelope, error) {
	if c == nil {
		c = DefaultCoercer()
	}
	if b.raw["direction"] == string(DirectionInbound) {
		return c.CoerceInboundMap(b.Raw())
	}
	return c.CoerceOutboundMap(b.Raw())
}
