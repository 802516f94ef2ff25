// Package token manages the VoipNow access token: its on-disk format,
// the auth-config fingerprint stored next to it, and the background
// expiration checker that keeps it fresh.
package token

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/alexjbarnes/voipnow-mcp/internal/errors"
	"github.com/alexjbarnes/voipnow-mcp/internal/lockfile"
)

// ExpiryHorizon is how close to expiry a token may get before it is
// reissued.
const ExpiryHorizon = 5 * time.Minute

// Token is an issued access token. The on-disk format is a single line
// "issuedAt:expiresAt:secret" with epoch-second timestamps; other
// processes cooperating on the same token file depend on this shape.
type Token struct {
	IssuedAt  int64
	ExpiresAt int64
	Secret    string
}

// Parse decodes the on-disk token format. Errors never include the
// file content, which may hold a partial secret.
func Parse(data []byte) (Token, error) {
	s := strings.TrimSpace(string(data))
	if s == "" {
		return Token{}, apperrors.ErrTokenEmpty
	}

	parts := strings.SplitN(s, ":", 3)
	if len(parts) < 3 || parts[2] == "" {
		return Token{}, fmt.Errorf("%w: expected 3 colon-separated fields", apperrors.ErrTokenMalformed)
	}

	issued, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return Token{}, fmt.Errorf("%w: bad issue timestamp", apperrors.ErrTokenMalformed)
	}

	expires, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return Token{}, fmt.Errorf("%w: bad expiry timestamp", apperrors.ErrTokenMalformed)
	}

	return Token{IssuedAt: issued, ExpiresAt: expires, Secret: parts[2]}, nil
}

// Encode serializes the token into its on-disk format.
func (t Token) Encode() []byte {
	return []byte(strconv.FormatInt(t.IssuedAt, 10) + ":" + strconv.FormatInt(t.ExpiresAt, 10) + ":" + t.Secret)
}

// ExpiringWithin reports whether the token has expired or will expire
// within the given horizon. The boundary is inclusive: a token exactly
// horizon away from expiry counts as expiring.
func (t Token) ExpiringWithin(horizon time.Duration) bool {
	return time.Now().Unix() >= t.ExpiresAt-int64(horizon.Seconds())
}

// Load reads and decodes the token file under a shared lock.
func Load(path string) (Token, error) {
	data, err := lockfile.ReadLocked(path)
	if err != nil {
		return Token{}, err
	}

	return Parse(data)
}

// Save atomically writes the token file with owner-only permissions.
func Save(path string, t Token) error {
	return lockfile.WriteAtomic(path, t.Encode())
}
