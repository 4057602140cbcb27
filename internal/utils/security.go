package contextutils

import (
	"net/url"
	"strings"
)

// MaskSecret hides all but the first and last four characters of a key or token
// so it can be logged.
func MaskSecret(secret string) string {
	if secret == "" {
		return "[EMPTY]"
	}
	if len(secret) <= 8 {
		return strings.Repeat("*", len(secret))
	}
	return secret[:4] + strings.Repeat("*", len(secret)-8) + secret[len(secret)-4:]
}

// RedactURL strips the password from a connection URL. Unparseable input is
// masked entirely.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" {
		return MaskSecret(raw)
	}
	if u.User != nil {
		if _, ok := u.User.Password(); ok {
			u.User = url.UserPassword(u.User.Username(), "xxxxx")
		}
	}
	return u.String()
}
