package models

import (
	"fmt"
	"net/mail"
	"regexp"
	"sort"
	"strings"
	"sync"
)

// Predicate is an extra outbound check a channel composes into the base schema.
// Returning a *ValidationError names the failing field.
type Predicate func(Envelope) error

type channelEntry struct {
	enabled  bool
	outbound []Predicate
}

// ChannelSet is the allow-list of channels with their outbound predicates.
type ChannelSet struct {
	mu       sync.RWMutex
	channels map[Channel]*channelEntry
}

func NewChannelSet() *ChannelSet {
	return &ChannelSet{channels: make(map[Channel]*channelEntry)}
}

// DefaultChannels returns a fresh set with every built-in channel and its predicates.
func DefaultChannels() *ChannelSet {
	set := NewChannelSet()
	set.Register(ChannelWhatsApp, RequirePhoneRecipient(ChannelWhatsApp))
	set.Register(ChannelEmail, RequireEmailRecipient)
	set.Register(ChannelSMS, RequirePhoneRecipient(ChannelSMS))
	set.Register(ChannelWeb)
	set.Register(ChannelSlack)
	set.Register(ChannelTelegram)
	set.Register(ChannelDiscord)
	return set
}

// Register adds (or re-enables) a channel. Predicates are appended to any already registered.
func (s *ChannelSet) Register(ch Channel, outbound ...Predicate) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.channels[ch]
	if !ok {
		entry = &channelEntry{}
		s.channels[ch] = entry
	}
	entry.enabled = true
	entry.outbound = append(entry.outbound, outbound...)
}

func (s *ChannelSet) AddOutboundRule(ch Channel, pred Predicate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.channels[ch]
	if !ok {
		return fmt.Errorf("unknown channel: %s", ch)
	}
	entry.outbound = append(entry.outbound, pred)
	return nil
}

// Restrict disables every channel not listed. Unknown names are reported.
func (s *ChannelSet) Restrict(enabled []Channel) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	keep := make(map[Channel]bool, len(enabled))
	for _, ch := range enabled {
		if _, ok := s.channels[ch]; !ok {
			return fmt.Errorf("unknown channel: %s", ch)
		}
		keep[ch] = true
	}
	for ch, entry := range s.channels {
		entry.enabled = keep[ch]
	}
	return nil
}

func (s *ChannelSet) Allowed(ch Channel) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.channels[ch]
	return ok && entry.enabled
}

func (s *ChannelSet) Channels() []Channel {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Channel, 0, len(s.channels))
	for ch, entry := range s.channels {
		if entry.enabled {
			out = append(out, ch)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s *ChannelSet) outboundRules(ch Channel) []Predicate {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.channels[ch]
	if !ok {
		return nil
	}
	rules := make([]Predicate, len(entry.outbound))
	copy(rules, entry.outbound)
	return rules
}

// QualifiedID prefixes a raw channel address, e.g. ("whatsapp", "+1555") -> "whatsapp:+1555".
func QualifiedID(ch Channel, raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	prefix := string(ch) + ":"
	if strings.HasPrefix(raw, prefix) {
		return raw
	}
	return prefix + raw
}

// Address strips the channel qualifier from a party id.
func Address(ch Channel, id string) string {
	return strings.TrimPrefix(id, string(ch)+":")
}

var e164 = regexp.MustCompile(`^\+[1-9][0-9]{6,14}$`)

func IsE164(number string) bool {
	return e164.MatchString(number)
}

// NormalizePhone turns "15551234567" or "+1 (555) 123-4567" into "+15551234567".
func NormalizePhone(raw string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(raw) {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return ""
	}
	return "+" + b.String()
}

func RequirePhoneRecipient(ch Channel) Predicate {
	return func(e Envelope) error {
		if !IsE164(Address(ch, e.To.ID)) {
			return &ValidationError{Field: "to.id", Message: "must be an E.164 phone number"}
		}
		return nil
	}
}

func RequireEmailRecipient(e Envelope) error {
	addr, err := mail.ParseAddress(Address(ChannelEmail, e.To.ID))
	if err != nil || !strings.Contains(addr.Address, "@") {
		return &ValidationError{Field: "to.id", Message: "must be an email address"}
	}
	return nil
}
