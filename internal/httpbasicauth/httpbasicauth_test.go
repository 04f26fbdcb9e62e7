package httpbasicauth

import (
	"encoding/base64"
	"testing"
)

func TestParse(t *testing.T) {
	enc := base64.StdEncoding.EncodeToString([]byte("alice:s3cret"))

	cases := []struct {
		header   string
		wantUser string
		wantPass string
		wantOK   bool
	}{
		{"Basic " + enc, "alice", "s3cret", true},
		{"  Basic   " + enc + "  ", "alice", "s3cret", true},
		{"Bearer " + enc, "", "", false},
		{"Basic not-base64!!", "", "", false},
		{"Basic " + base64.StdEncoding.EncodeToString([]byte("noseparator")), "", "", false},
		{"", "", "", false},
	}

	for _, c := range cases {
		user, pass, ok := Parse(c.header)
		if ok != c.wantOK || user != c.wantUser || pass != c.wantPass {
			t.Errorf("Parse(%q) = (%q, %q, %v), want (%q, %q, %v)",
				c.header, user, pass, ok, c.wantUser, c.wantPass, c.wantOK)
		}
	}
}
