package security

import (
	"net/url"
)

// RedactURI masks the password in a connection string so it can be
// logged. The username and topology stay visible for debugging; an
// unparseable URI is fully hidden rather than leaked.
func RedactURI(uri string) string {
	if uri == "" {
		return ""
	}
	u, err := url.Parse(uri)
	if err != nil {
		return "(redacted)"
	}
	if u.User != nil {
		if _, hasPassword := u.User.Password(); hasPassword {
			u.User = url.UserPassword(u.User.Username(), "****")
		}
	}
	return u.String()
}
