package auth

import (
	"strings"

	"github.com/mcnijman/go-emailaddress"
)

// NormalizeEmail validates address and lower-cases its domain part. The local part is kept
// as typed, since mailbox names may be case sensitive.
func NormalizeEmail(address string) (string, error) {
	parsed, err := emailaddress.Parse(strings.TrimSpace(address))
	if err != nil {
		return "", err
	}
	return parsed.LocalPart + "@" + strings.ToLower(parsed.Domain), nil
}
