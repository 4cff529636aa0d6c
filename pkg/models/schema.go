package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"omni/pkg/errors"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// Coercer turns raw objects into validated envelopes. It is a pure function of
// its input apart from the timestamp default.
type Coercer struct {
	Channels *ChannelSet
	Now      func() time.Time
}

func NewCoercer(channels *ChannelSet) *Coercer {
	if channels == nil {
		channels = DefaultChannels()
	}
	return &Coercer{Channels: channels, Now: time.Now}
}

var defaultCoercer = NewCoercer(DefaultChannels())

func DefaultCoercer() *Coercer {
	return defaultCoercer
}

func CoerceInbound(raw []byte) (Envelope, error) {
	return defaultCoercer.CoerceInbound(raw)
}

func CoerceOutbound(raw []byte) (Envelope, error) {
	return defaultCoercer.CoerceOutbound(raw)
}

func CoerceInboundMap(raw map[string]interface{}) (Envelope, error) {
	return defaultCoercer.CoerceInboundMap(raw)
}

func CoerceOutboundMap(raw map[string]interface{}) (Envelope, error) {
	return defaultCoercer.CoerceOutboundMap(raw)
}

func (c *Coercer) CoerceInbound(raw []byte) (Envelope, error) {
	m, err := decodeObject(raw)
	if err != nil {
		return Envelope{}, errors.Invalid(errors.ErrInboundInvalid, "envelope", err.Error())
	}
	return c.CoerceInboundMap(m)
}

func (c *Coercer) CoerceOutbound(raw []byte) (Envelope, error) {
	m, err := decodeObject(raw)
	if err != nil {
		return Envelope{}, errors.Invalid(errors.ErrOutboundInvalid, "envelope", err.Error())
	}
	return c.CoerceOutboundMap(m)
}

func (c *Coercer) CoerceInboundMap(raw map[string]interface{}) (Envelope, error) {
	env, verr := c.coerce(raw, DirectionInbound)
	if verr != nil {
		return Envelope{}, errors.Invalid(errors.ErrInboundInvalid, verr.Field, verr.Message)
	}
	return env, nil
}

func (c *Coercer) CoerceOutboundMap(raw map[string]interface{}) (Envelope, error) {
	env, verr := c.coerce(raw, DirectionOutbound)
	if verr != nil {
		return Envelope{}, errors.Invalid(errors.ErrOutboundInvalid, verr.Field, verr.Message)
	}

	for _, rule := range c.Channels.outboundRules(env.Channel) {
		if err := rule(env); err != nil {
			field, msg := "envelope", err.Error()
			if ve, ok := err.(*ValidationError); ok {
				field, msg = ve.Field, ve.Message
			}
			return Envelope{}, errors.Invalid(errors.ErrOutboundInvalid, field, msg)
		}
	}
	return env, nil
}

// Validate re-checks an already built envelope against the schema of its own direction.
func (c *Coercer) Validate(e Envelope) error {
	raw := map[string]interface{}{
		"direction": string(e.Direction),
		"channel":   string(e.Channel),
		"from":      map[string]interface{}{"id": e.From.ID},
		"to":        map[string]interface{}{"id": e.To.ID},
		"text":      e.Text,
		"timestamp": e.Timestamp,
		"metadata":  e.Metadata.ToMap(),
	}
	switch e.Direction {
	case DirectionInbound:
		_, err := c.CoerceInboundMap(raw)
		return err
	case DirectionOutbound:
		_, err := c.CoerceOutboundMap(raw)
		return err
	default:
		return errors.Invalid(errors.ErrOutboundInvalid, "direction", "must be \"in\" or \"out\"")
	}
}

func (c *Coercer) coerce(raw map[string]interface{}, dir Direction) (Envelope, *ValidationError) {
	if raw == nil {
		return Envelope{}, &ValidationError{Field: "envelope", Message: "must be an object"}
	}

	if v, ok := raw["direction"]; ok && v != nil {
		d, isStr := v.(string)
		if !isStr || Direction(d) != dir {
			return Envelope{}, &ValidationError{Field: "direction", Message: fmt.Sprintf("must be %q", dir)}
		}
	}

	chRaw, ok := raw["channel"].(string)
	if !ok || strings.TrimSpace(chRaw) == "" {
		return Envelope{}, &ValidationError{Field: "channel", Message: "is required"}
	}
	ch := Channel(strings.ToLower(strings.TrimSpace(chRaw)))
	if !c.Channels.Allowed(ch) {
		return Envelope{}, &ValidationError{Field: "channel", Message: fmt.Sprintf("channel %q is not allowed", chRaw)}
	}

	from, verr := partyID(raw, "from")
	if verr != nil {
		return Envelope{}, verr
	}
	if dir == DirectionInbound && from == "" {
		return Envelope{}, &ValidationError{Field: "from.id", Message: "is required"}
	}

	to, verr := partyID(raw, "to")
	if verr != nil {
		return Envelope{}, verr
	}
	if to == "" {
		return Envelope{}, &ValidationError{Field: "to.id", Message: "is required"}
	}

	text, ok := raw["text"].(string)
	if !ok {
		return Envelope{}, &ValidationError{Field: "text", Message: "must be a string"}
	}

	ts, verr := c.timestamp(raw["timestamp"])
	if verr != nil {
		return Envelope{}, verr
	}

	meta := Metadata{}
	if v, ok := raw["metadata"]; ok && v != nil {
		var err error
		switch m := v.(type) {
		case map[string]interface{}:
			meta, err = MetadataFrom(m)
		case Metadata:
			meta = m.Clone()
		default:
			err = fmt.Errorf("must be an object of scalars")
		}
		if err != nil {
			return Envelope{}, &ValidationError{Field: "metadata", Message: err.Error()}
		}
	}

	return Envelope{
		Direction: dir,
		Channel:   ch,
		From:      Party{ID: from},
		To:        Party{ID: to},
		Text:      text,
		Timestamp: ts,
		Metadata:  meta,
	}, nil
}

func partyID(raw map[string]interface{}, field string) (string, *ValidationError) {
	v, ok := raw[field]
	if !ok || v == nil {
		return "", nil
	}

	var id interface{}
	switch p := v.(type) {
	case map[string]interface{}:
		id = p["id"]
	case Party:
		id = p.ID
	default:
		return "", &ValidationError{Field: field, Message: "must be an object with an id"}
	}

	if id == nil {
		return "", nil
	}
	s, ok := id.(string)
	if !ok {
		return "", &ValidationError{Field: field + ".id", Message: "must be a string"}
	}
	return strings.TrimSpace(s), nil
}

func (c *Coercer) timestamp(v interface{}) (time.Time, *ValidationError) {
	switch t := v.(type) {
	case nil:
		return c.now(), nil
	case time.Time:
		if t.IsZero() {
			return c.now(), nil
		}
		return t.UTC(), nil
	case string:
		if strings.TrimSpace(t) == "" {
			return c.now(), nil
		}
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return time.Time{}, &ValidationError{Field: "timestamp", Message: "must be an ISO-8601 timestamp"}
		}
		return parsed.UTC(), nil
	case float64:
		return unixTime(t), nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return time.Time{}, &ValidationError{Field: "timestamp", Message: "must be an ISO-8601 timestamp"}
		}
		return unixTime(f), nil
	default:
		return time.Time{}, &ValidationError{Field: "timestamp", Message: "must be an ISO-8601 timestamp"}
	}
}

func (c *Coercer) now() time.Time {
	if c.Now == nil {
		return time.Now().UTC()
	}
	return c.Now().UTC()
}

// unixTime accepts seconds or milliseconds since the epoch.
func unixTime(v float64) time.Time {
	if v > 1e12 {
		return time.UnixMilli(int64(v)).UTC()
	}
	sec := int64(v)
	nsec := int64((v - float64(sec)) * 1e9)
	return time.Unix(sec, nsec).UTC()
}

func decodeObject(raw []byte) (map[string]interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var m map[string]interface{}
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("invalid JSON object: %w", err)
	}
	if m == nil {
		return nil, fmt.Errorf("must be an object")
	}
	return m, nil
}
