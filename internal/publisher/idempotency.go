package publisher

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"omni/pkg/models"
)

// IdempotencyKey picks the key a publish is deduplicated on: the explicit
// key, then metadata["idempotency_key"], then the provider message id scoped
// by channel, then a hash of the content.
//
// Provider ids come before the hash because several providers omit a send
// time, and the coerced "now" timestamp would change on every redelivery.
func IdempotencyKey(env models.Envelope, explicit string) string {
	if k := strings.TrimSpace(explicit); k != "" {
		return k
	}
	if k, ok := env.Metadata.GetString(models.MetaIdempotencyKey); ok && strings.TrimSpace(k) != "" {
		return strings.TrimSpace(k)
	}
	if id, ok := env.Metadata.GetString(models.MetaSourceMessageID); ok && strings.TrimSpace(id) != "" {
		return string(env.Channel) + ":" + strings.TrimSpace(id)
	}
	return DeriveKey(env)
}

// DeriveKey hashes channel, parties, text and timestamp. Each field is
// length prefixed so ("ab","c") and ("a","bc") never collide.
func DeriveKey(env models.Envelope) string {
	fields := []string{
		string(env.Channel),
		env.From.ID,
		env.To.ID,
		env.Text,
		env.Timestamp.UTC().Format(time.RFC3339Nano),
	}

	h := sha256.New()
	for i, f := range fields {
		if i > 0 {
			h.Write([]byte{'|'})
		}
		h.Write([]byte(strconv.Itoa(len(f))))
		h.Write([]byte{':'})
		h.Write([]byte(f))
	}
	return hex.EncodeToString(h.Sum(nil))
}
