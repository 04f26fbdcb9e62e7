// Package httpbasicauth parses the Authorization header of an HTTP Basic
// Auth request, as used by the WebDAV listener to authenticate against a
// configured principal table.
package httpbasicauth

import (
	"encoding/base64"
	"regexp"
	"strings"
)

var headerRe = regexp.MustCompile(`^\s*Basic\s+(\S.*?)\s*$`)

// Parse extracts the username and password from the value of an
// Authorization header. It reports ok=false if the header is not
// well-formed HTTP Basic Auth.
func Parse(authHeader string) (user, pass string, ok bool) {
	m := headerRe.FindStringSubmatch(authHeader)
	if m == nil {
		return "", "", false
	}

	decoded, err := base64.StdEncoding.DecodeString(m[1])
	if err != nil {
		return "", "", false
	}

	user, pass, found := strings.Cut(string(decoded), ":")
	if !found {
		return "", "", false
	}

	return user, pass, true
}
