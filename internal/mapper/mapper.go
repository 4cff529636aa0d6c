package mapper

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	apperrors "omni/pkg/errors"
	"omni/pkg/models"
)

const (
	ContentTypeJSON = "application/json"
	ContentTypeForm = "application/x-www-form-urlencoded"
)

// ErrIgnored marks payloads that are well formed but carry nothing to
// deliver, such as messages posted by bots.
var ErrIgnored = errors.New("event ignored")

// Mapper translates one channel's provider payloads to and from envelopes.
// Implementations are stateless and safe for concurrent use.
type Mapper interface {
	Channel() models.Channel
	// Normalize builds an inbound envelope. The result has passed schema validation.
	Normalize(payload []byte) (models.Envelope, error)
	// Render turns an outbound envelope into the provider's send request.
	Render(env models.Envelope) (SendRequest, error)
}

// BatchMapper is implemented by channels whose webhooks deliver several
// messages per call.
type BatchMapper interface {
	Mapper
	NormalizeBatch(payload []byte) ([]models.Envelope, error)
}

// SendRequest is the provider call a rendered outbound envelope maps to.
// Endpoint is relative to the provider's API base.
type SendRequest struct {
	Channel     models.Channel
	Endpoint    string
	ContentType string
	Body        []byte
}

// Challenge is returned by Normalize when the provider is verifying the
// webhook endpoint instead of delivering a message.
type Challenge struct {
	Channel models.Channel
	Value   string
}

func (c *Challenge) Error() string {
	return fmt.Sprintf("%s webhook verification challenge", c.Channel)
}

func AsChallenge(err error) (*Challenge, bool) {
	var c *Challenge
	if errors.As(err, &c) {
		return c, true
	}
	return nil, false
}

type Registry struct {
	mu      sync.RWMutex
	coercer *models.Coercer
	mappers map[models.Channel]Mapper
}

func NewRegistry(coercer *models.Coercer) *Registry {
	if coercer == nil {
		coercer = models.DefaultCoercer()
	}
	return &Registry{
		coercer: coercer,
		mappers: make(map[models.Channel]Mapper),
	}
}

// NewDefaultRegistry registers a mapper for every built-in channel.
func NewDefaultRegistry(coercer *models.Coercer) *Registry {
	r := NewRegistry(coercer)
	r.Register(NewWhatsApp(r.coercer))
	r.Register(NewEmail(r.coercer))
	r.Register(NewSMS(r.coercer))
	r.Register(NewWeb(r.coercer))
	r.Register(NewSlack(r.coercer))
	r.Register(NewTelegram(r.coercer))
	r.Register(NewDiscord(r.coercer))
	return r
}

func (r *Registry) Register(m Mapper) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mappers[m.Channel()] = m
}

// Lookup returns the mapper for a channel that is both registered and
// enabled in the coercer's allow-list.
func (r *Registry) Lookup(ch models.Channel) (Mapper, error) {
	r.mu.RLock()
	m, ok := r.mappers[ch]
	r.mu.RUnlock()

	if !ok || !r.coercer.Channels.Allowed(ch) {
		return nil, apperrors.ErrNotFound.
			WithDetail("channel", string(ch)).
			WithDetail("message", fmt.Sprintf("channel %q is not available", ch))
	}
	return m, nil
}

func (r *Registry) Channels() []models.Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.Channel, 0, len(r.mappers))
	for ch := range r.mappers {
		if r.coercer.Channels.Allowed(ch) {
			out = append(out, ch)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Normalize maps every message in the payload. Mappers without batch
// support yield exactly one envelope.
func (r *Registry) Normalize(ch models.Channel, payload []byte) ([]models.Envelope, error) {
	m, err := r.Lookup(ch)
	if err != nil {
		return nil, err
	}
	if bm, ok := m.(BatchMapper); ok {
		return bm.NormalizeBatch(payload)
	}
	env, err := m.Normalize(payload)
	if err != nil {
		return nil, err
	}
	return []models.Envelope{env}, nil
}

func (r *Registry) Render(env models.Envelope) (SendRequest, error) {
	m, err := r.Lookup(env.Channel)
	if err != nil {
		return SendRequest{}, err
	}
	return m.Render(env)
}

// base carries what every mapper shares: its channel and the coercer the
// inbound envelopes go through.
type base struct {
	channel models.Channel
	coercer *models.Coercer
}

func newBase(ch models.Channel, coercer *models.Coercer) base {
	if coercer == nil {
		coercer = models.DefaultCoercer()
	}
	return base{channel: ch, coercer: coercer}
}

func (b base) Channel() models.Channel {
	return b.channel
}

func (b base) inbound() *models.EnvelopeBuilder {
	return models.NewInboundBuilder(b.channel)
}

func (b base) coerce(eb *models.EnvelopeBuilder) (models.Envelope, error) {
	return b.coercer.CoerceInboundMap(eb.Raw())
}

func (b base) qualify(raw string) string {
	return models.QualifiedID(b.channel, raw)
}

func (b base) malformed(format string, args ...interface{}) error {
	return apperrors.MalformedPayload(string(b.channel), fmt.Sprintf(format, args...))
}

func (b base) checkOutbound(env models.Envelope) error {
	if !models.IsOutbound(env) {
		return apperrors.Invalid(apperrors.ErrOutboundInvalid, "direction", `must be "out"`)
	}
	if env.Channel != b.channel {
		return apperrors.Invalid(apperrors.ErrOutboundInvalid, "channel",
			fmt.Sprintf("%s mapper cannot render %q", b.channel, env.Channel))
	}
	if strings.TrimSpace(env.To.ID) == "" {
		return apperrors.Invalid(apperrors.ErrOutboundInvalid, "to.id", "is required")
	}
	return nil
}

func (b base) jsonRequest(endpoint string, body interface{}) (SendRequest, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return SendRequest{}, apperrors.ErrInternal.WithCause(fmt.Errorf("failed to encode %s request: %w", b.channel, err))
	}
	return SendRequest{
		Channel:     b.channel,
		Endpoint:    endpoint,
		ContentType: ContentTypeJSON,
		Body:        data,
	}, nil
}

// unixSeconds parses provider timestamps such as "1700000000" or Slack's
// "1700000000.000100". Unparseable input yields the zero time so the
// coercer defaults it.
func unixSeconds(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || f <= 0 {
		return time.Time{}
	}
	sec := int64(f)
	return time.Unix(sec, int64((f-float64(sec))*1e9)).UTC()
}

func replyTo(env models.Envelope) string {
	s, _ := env.Metadata.GetString(models.MetaInReplyTo)
	return s
}
