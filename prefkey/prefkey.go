// Package prefkey derives the anonymized key under which a user's pinned
// token for a host is stored.
package prefkey

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/dchest/blake2s"
)

// Size is the digest width in bytes; keys are twice as long in hex.
const Size = 10

// ErrNoUser is returned when no user identity is available.
var ErrNoUser = errors.New("no user identity")

// Derive returns the upper-case hex BLAKE2s-80 digest of the decimal user
// id followed by host. The digest is unkeyed, so keys are stable across
// restarts and match those in existing default_setting_db.yaml files.
func Derive(userID int64, host string) (string, error) {
	if userID == 0 {
		return "", ErrNoUser
	}
	h, err := blake2s.New(&blake2s.Config{Size: Size})
	if err != nil {
		return "", fmt.Errorf("create digest: %w", err)
	}
	h.Write([]byte(strconv.FormatInt(userID, 10) + host))
	return strings.ToUpper(fmt.Sprintf("%x", h.Sum(nil))), nil
}
