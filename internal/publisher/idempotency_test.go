package publisher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"omni/pkg/models"
)

func testEnvelope() models.Envelope {
	return models.Envelope{
		Direction: models.DirectionInbound,
		Channel:   models.ChannelWhatsApp,
		From:      models.Party{ID: "whatsapp:+15551234567"},
		To:        models.Party{ID: "whatsapp:+15557654321"},
		Text:      "Hello",
		Timestamp: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Metadata:  models.Metadata{},
	}
}

func TestDeriveKey_Deterministic(t *testing.T) {
	a, b := testEnvelope(), testEnvelope()
	assert.Equal(t, DeriveKey(a), DeriveKey(b))
	assert.Len(t, DeriveKey(a), 64)

	// metadata and direction do not take part in the key
	b = b.WithMetadata("x", models.String("y"))
	b.Direction = models.DirectionOutbound
	assert.Equal(t, DeriveKey(a), DeriveKey(b))
}

func TestDeriveKey_FieldSensitive(t *testing.T) {
	base := testEnvelope()

	tests := []struct {
		name   string
		mutate func(e *models.Envelope)
	}{
		{name: "channel", mutate: func(e *models.Envelope) { e.Channel = models.ChannelSMS }},
		{name: "from", mutate: func(e *models.Envelope) { e.From.ID = "whatsapp:+15550000000" }},
		{name: "to", mutate: func(e *models.Envelope) { e.To.ID = "whatsapp:+15550000000" }},
		{name: "text", mutate: func(e *models.Envelope) { e.Text = "Hello!" }},
		{name: "timestamp", mutate: func(e *models.Envelope) { e.Timestamp = e.Timestamp.Add(time.Nanosecond) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := testEnvelope()
			tt.mutate(&e)
			assert.NotEqual(t, DeriveKey(base), DeriveKey(e))
		})
	}
}

func TestDeriveKey_FieldBoundaries(t *testing.T) {
	a := testEnvelope()
	a.From.ID, a.To.ID = "ab", "c"
	b := testEnvelope()
	b.From.ID, b.To.ID = "a", "bc"
	assert.NotEqual(t, DeriveKey(a), DeriveKey(b))

	c := testEnvelope()
	c.Text = "x|y"
	d := testEnvelope()
	d.Text = "x"
	d.To.ID = d.To.ID + "|y"
	assert.NotEqual(t, DeriveKey(c), DeriveKey(d))
}

func TestDeriveKey_TimestampZoneIndependent(t *testing.T) {
	a := testEnvelope()
	b := testEnvelope()
	b.Timestamp = a.Timestamp.In(time.FixedZone("X", 3*3600))
	assert.Equal(t, DeriveKey(a), DeriveKey(b))
}

func TestIdempotencyKey_Precedence(t *testing.T) {
	env := testEnvelope()
	withMeta := env.WithMetadata(models.MetaIdempotencyKey, models.String("meta-key"))

	assert.Equal(t, "explicit", IdempotencyKey(withMeta, " explicit "))
	assert.Equal(t, "meta-key", IdempotencyKey(withMeta, ""))
	assert.Equal(t, DeriveKey(env), IdempotencyKey(env, ""))
	assert.Equal(t, DeriveKey(env), IdempotencyKey(env.WithMetadata(models.MetaIdempotencyKey, models.String("  ")), ""))
}

func TestIdempotencyKey_SourceMessageID(t *testing.T) {
	env := testEnvelope().WithMetadata(models.MetaSourceMessageID, models.String(" wamid.1 "))

	tests := []struct {
		name     string
		env      models.Envelope
		explicit string
		want     string
	}{
		{name: "provider id", env: env, want: "whatsapp:wamid.1"},
		{name: "explicit wins", env: env, explicit: "k", want: "k"},
		{name: "metadata key wins", env: env.WithMetadata(models.MetaIdempotencyKey, models.String("meta")), want: "meta"},
		{name: "blank provider id", env: testEnvelope().WithMetadata(models.MetaSourceMessageID, models.String(" ")), want: DeriveKey(testEnvelope())},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IdempotencyKey(tt.env, tt.explicit))
		})
	}
}

func TestIdempotencyKey_StableWithoutProviderTimestamp(t *testing.T) {
	first := testEnvelope().WithMetadata(models.MetaSourceMessageID, models.String("SM123"))
	first.Channel = models.ChannelSMS
	second := first
	second.Timestamp = first.Timestamp.Add(2 * time.Millisecond)

	assert.Equal(t, IdempotencyKey(first, ""), IdempotencyKey(second, ""))
	assert.Equal(t, "sms:SM123", IdempotencyKey(first, ""))
}
