package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/gin-gonic/gin"

	apperrors "omni/pkg/errors"
)

// BearerAuth accepts requests carrying "Authorization: Bearer <token>" for
// any configured token. An empty token list disables the check.
func BearerAuth(tokens []string) gin.HandlerFunc {
	allowed := make([][]byte, 0, len(tokens))
	for _, t := range tokens {
		if t = strings.TrimSpace(t); t != "" {
			allowed = append(allowed, []byte(t))
		}
	}

	return func(c *gin.Context) {
		if len(allowed) == 0 {
			c.Next()
			return
		}

		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok || !matchAny(allowed, []byte(token)) {
			c.Header("WWW-Authenticate", `Bearer realm="omni"`)
			c.AbortWithStatusJSON(apperrors.ErrUnauthorized.Status, apperrors.ToErrorResponse(apperrors.ErrUnauthorized))
			return
		}
		c.Next()
	}
}

func bearerToken(header string) (string, bool) {
	const prefix = "bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}

// matchAny compares against every token so timing does not reveal which
// one matched.
func matchAny(allowed [][]byte, token []byte) bool {
	match := 0
	for _, a := range allowed {
		match |= subtle.ConstantTimeCompare(a, token)
	}
	return match == 1
}
