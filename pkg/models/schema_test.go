package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"omni/pkg/errors"
)

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestCoercer() *Coercer {
	c := NewCoercer(DefaultChannels())
	c.Now = func() time.Time { return fixedNow }
	return c
}

func TestCoerceInboundMap_Valid(t *testing.T) {
	c := newTestCoercer()

	env, err := c.CoerceInboundMap(map[string]interface{}{
		"channel":  "WhatsApp",
		"from":     map[string]interface{}{"id": "whatsapp:+15551234567"},
		"to":       map[string]interface{}{"id": "whatsapp:+15557654321"},
		"text":     "Hello",
		"metadata": map[string]interface{}{"source_message_id": "wamid.1", "attempt": 2.0},
	})
	require.NoError(t, err)

	assert.Equal(t, DirectionInbound, env.Direction)
	assert.Equal(t, ChannelWhatsApp, env.Channel)
	assert.Equal(t, "whatsapp:+15551234567", env.From.ID)
	assert.Equal(t, "whatsapp:+15557654321", env.To.ID)
	assert.Equal(t, "Hello", env.Text)
	assert.Equal(t, fixedNow, env.Timestamp)

	id, ok := env.Metadata.GetString(MetaSourceMessageID)
	assert.True(t, ok)
	assert.Equal(t, "wamid.1", id)
	n, ok := env.Metadata["attempt"].AsNumber()
	assert.True(t, ok)
	assert.Equal(t, 2.0, n)
}

func TestCoerceInboundMap_Rejections(t *testing.T) {
	c := newTestCoercer()

	base := func() map[string]interface{} {
		return map[string]interface{}{
			"channel": "whatsapp",
			"from":    map[string]interface{}{"id": "x"},
			"to":      map[string]interface{}{"id": "y"},
			"text":    "hi",
		}
	}

	tests := []struct {
		name   string
		mutate func(m map[string]interface{})
		field  string
	}{
		{
			name:   "missing to",
			mutate: func(m map[string]interface{}) { delete(m, "to") },
			field:  "to.id",
		},
		{
			name:   "empty from id",
			mutate: func(m map[string]interface{}) { m["from"] = map[string]interface{}{"id": "  "} },
			field:  "from.id",
		},
		{
			name:   "outbound direction",
			mutate: func(m map[string]interface{}) { m["direction"] = "out" },
			field:  "direction",
		},
		{
			name:   "unknown channel",
			mutate: func(m map[string]interface{}) { m["channel"] = "pager" },
			field:  "channel",
		},
		{
			name:   "missing channel",
			mutate: func(m map[string]interface{}) { delete(m, "channel") },
			field:  "channel",
		},
		{
			name:   "text not a string",
			mutate: func(m map[string]interface{}) { m["text"] = 42.0 },
			field:  "text",
		},
		{
			name:   "party not an object",
			mutate: func(m map[string]interface{}) { m["from"] = "x" },
			field:  "from",
		},
		{
			name:   "bad timestamp",
			mutate: func(m map[string]interface{}) { m["timestamp"] = "yesterday" },
			field:  "timestamp",
		},
		{
			name:   "nested metadata",
			mutate: func(m map[string]interface{}) { m["metadata"] = map[string]interface{}{"raw": map[string]interface{}{}} },
			field:  "metadata",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := base()
			tt.mutate(raw)

			_, err := c.CoerceInboundMap(raw)
			require.Error(t, err)
			assert.True(t, errors.IsKind(err, errors.KindInboundInvalid))

			var appErr *errors.Error
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, tt.field, appErr.Details["field"])
		})
	}
}

func TestCoerceInbound_MissingToIsInboundInvalid(t *testing.T) {
	_, err := CoerceInbound([]byte(`{"channel":"whatsapp","from":{"id":"x"},"text":"hi"}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrInboundInvalid)
	assert.True(t, errors.IsValidation(err))
}

func TestCoerceInbound_InvalidJSON(t *testing.T) {
	_, err := CoerceInbound([]byte(`[1,2]`))
	assert.True(t, errors.IsKind(err, errors.KindInboundInvalid))
}

func TestCoerceInbound_ExplicitTimestamp(t *testing.T) {
	c := newTestCoercer()

	env, err := c.CoerceInbound([]byte(`{
		"channel":"sms","from":{"id":"sms:+15550000001"},"to":{"id":"sms:+15550000002"},
		"text":"x","timestamp":"2023-01-02T03:04:05.123Z"}`))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2023, 1, 2, 3, 4, 5, 123000000, time.UTC), env.Timestamp)
}

func TestCoerceOutboundMap(t *testing.T) {
	c := newTestCoercer()

	tests := []struct {
		name    string
		raw     map[string]interface{}
		wantErr bool
		field   string
	}{
		{
			name: "email ok without from",
			raw: map[string]interface{}{
				"channel": "email",
				"to":      map[string]interface{}{"id": "email:jane@example.com"},
				"text":    "hello",
			},
		},
		{
			name: "email missing to",
			raw: map[string]interface{}{
				"channel": "email",
				"from":    map[string]interface{}{"id": "email:support@example.com"},
				"text":    "hello",
			},
			wantErr: true,
			field:   "to.id",
		},
		{
			name: "email recipient not an address",
			raw: map[string]interface{}{
				"channel": "email",
				"to":      map[string]interface{}{"id": "user:123"},
				"text":    "hello",
			},
			wantErr: true,
			field:   "to.id",
		},
		{
			name: "sms requires e164",
			raw: map[string]interface{}{
				"channel": "sms",
				"to":      map[string]interface{}{"id": "sms:5551234"},
				"text":    "hello",
			},
			wantErr: true,
			field:   "to.id",
		},
		{
			name: "whatsapp e164 ok",
			raw: map[string]interface{}{
				"channel": "whatsapp",
				"to":      map[string]interface{}{"id": "whatsapp:+15551234567"},
				"text":    "hello",
			},
		},
		{
			name: "web has no extra rule",
			raw: map[string]interface{}{
				"channel": "web",
				"to":      map[string]interface{}{"id": "user:123"},
				"text":    "hello",
			},
		},
		{
			name: "inbound direction rejected",
			raw: map[string]interface{}{
				"direction": "in",
				"channel":   "web",
				"to":        map[string]interface{}{"id": "user:123"},
				"text":      "hello",
			},
			wantErr: true,
			field:   "direction",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := c.CoerceOutboundMap(tt.raw)
			if !tt.wantErr {
				require.NoError(t, err)
				assert.True(t, IsOutbound(env))
				return
			}
			require.Error(t, err)
			assert.True(t, errors.IsKind(err, errors.KindOutboundInvalid))
			var appErr *errors.Error
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, tt.field, appErr.Details["field"])
		})
	}
}

func TestCoerce_DirectionDiscriminantsAreExclusive(t *testing.T) {
	c := newTestCoercer()

	in, err := c.CoerceInboundMap(map[string]interface{}{
		"channel": "web",
		"from":    map[string]interface{}{"id": "user:1"},
		"to":      map[string]interface{}{"id": "site:1"},
		"text":    "a",
	})
	require.NoError(t, err)
	out, err := c.CoerceOutboundMap(map[string]interface{}{
		"channel": "web",
		"to":      map[string]interface{}{"id": "user:1"},
		"text":    "b",
	})
	require.NoError(t, err)

	for _, env := range []Envelope{in, out} {
		assert.True(t, IsInbound(env) != IsOutbound(env))
	}
	assert.True(t, IsInbound(in))
	assert.True(t, IsOutbound(out))
}

func TestCoerce_IsPureModuloTimestamp(t *testing.T) {
	c := NewCoercer(DefaultChannels())
	raw := []byte(`{"channel":"web","from":{"id":"user:1"},"to":{"id":"site:1"},"text":"same"}`)

	a, err := c.CoerceInbound(raw)
	require.NoError(t, err)
	b, err := c.CoerceInbound(raw)
	require.NoError(t, err)

	a.Timestamp, b.Timestamp = time.Time{}, time.Time{}
	assert.Equal(t, a, b)
}

func TestChannelSet_RestrictAndRules(t *testing.T) {
	set := DefaultChannels()
	require.NoError(t, set.Restrict([]Channel{ChannelWeb, ChannelEmail}))
	assert.Equal(t, []Channel{ChannelEmail, ChannelWeb}, set.Channels())
	assert.False(t, set.Allowed(ChannelSMS))
	assert.Error(t, set.Restrict([]Channel{"pager"}))

	require.NoError(t, set.AddOutboundRule(ChannelWeb, func(e Envelope) error {
		if e.Text == "" {
			return &ValidationError{Field: "text", Message: "must not be empty"}
		}
		return nil
	}))
	assert.Error(t, set.AddOutboundRule("pager", nil))

	c := NewCoercer(set)
	_, err := c.CoerceOutboundMap(map[string]interface{}{
		"channel": "web",
		"to":      map[string]interface{}{"id": "user:1"},
		"text":    "",
	})
	require.Error(t, err)
	var appErr *errors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "text", appErr.Details["field"])
}

func TestEnvelope_JSONShape(t *testing.T) {
	c := newTestCoercer()
	env, err := NewInboundBuilder(ChannelWhatsApp).
		From("whatsapp:+15551234567").
		To("whatsapp:+15557654321").
		Text("Hello").
		Meta(MetaSourceMessageID, "wamid.1").
		Build(c)
	require.NoError(t, err)

	body, err := json.Marshal(env)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(body, &decoded))
	assert.Equal(t, "in", decoded["direction"])
	assert.Equal(t, "whatsapp", decoded["channel"])
	assert.Equal(t, map[string]interface{}{"id": "whatsapp:+15551234567"}, decoded["from"])
	assert.Equal(t, "2024-05-01T12:00:00Z", decoded["timestamp"])
	assert.Equal(t, map[string]interface{}{"source_message_id": "wamid.1"}, decoded["metadata"])

	again, err := c.CoerceInbound(body)
	require.NoError(t, err)
	assert.Equal(t, env, again)
}

func TestEnvelope_WithMetadataDoesNotMutate(t *testing.T) {
	env := Envelope{Metadata: Metadata{"a": String("1")}}
	next := env.WithMetadata("b", Bool(true))

	assert.Len(t, env.Metadata, 1)
	assert.Len(t, next.Metadata, 2)
}

func TestEnvelope_Reply(t *testing.T) {
	c := newTestCoercer()
	in, err := NewInboundBuilder(ChannelSMS).
		From("sms:+15550000001").
		To("sms:+15550000002").
		Text("ping").
		Meta(MetaSourceMessageID, "SM1").
		Build(c)
	require.NoError(t, err)

	out, err := c.CoerceOutboundMap(in.Reply("pong"))
	require.NoError(t, err)
	assert.Equal(t, "sms:+15550000001", out.To.ID)
	assert.Equal(t, "sms:+15550000002", out.From.ID)
	reply, _ := out.Metadata.GetString(MetaInReplyTo)
	assert.Equal(t, "SM1", reply)
}

func TestNormalizePhone(t *testing.T) {
	assert.Equal(t, "+15551234567", NormalizePhone("1 (555) 123-4567"))
	assert.Equal(t, "+15551234567", NormalizePhone("+15551234567"))
	assert.Equal(t, "", NormalizePhone("abc"))
	assert.True(t, IsE164("+15551234567"))
	assert.False(t, IsE164("15551234567"))
	assert.Equal(t, "whatsapp:+1", QualifiedID(ChannelWhatsApp, "+1"))
	assert.Equal(t, "whatsapp:+1", QualifiedID(ChannelWhatsApp, "whatsapp:+1"))
	assert.Equal(t, "", QualifiedID(ChannelWhatsApp, " "))
}
