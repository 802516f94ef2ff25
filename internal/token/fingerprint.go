package token

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/alexjbarnes/voipnow-mcp/internal/lockfile"
)

// Fingerprint returns a deterministic hex digest over the
// authentication-relevant configuration fields. A token issued under
// one fingerprint is invalid under any other, regardless of expiry.
func Fingerprint(appID, appSecret, host string) string {
	h := sha256.New()
	fmt.Fprintf(h, "appId=%s\nappSecret=%s\nvoipnowHost=%s\n", appID, appSecret, host)

	return hex.EncodeToString(h.Sum(nil))
}

// FingerprintPath returns the fingerprint file path for a token file.
func FingerprintPath(tokenPath string) string {
	return tokenPath + ".config_hash"
}

// SyncFingerprint compares the stored fingerprint against current and
// persists current. It returns true when the stored value existed and
// differs, meaning the token on disk was issued under a different auth
// configuration. A missing fingerprint file is first use, not a change.
func SyncFingerprint(path, current string) (bool, error) {
	data, err := lockfile.ReadLocked(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return false, err
		}

		return false, lockfile.WriteAtomic(path, []byte(current))
	}

	if strings.TrimSpace(string(data)) == current {
		return false, nil
	}

	return true, lockfile.WriteAtomic(path, []byte(current))
}
