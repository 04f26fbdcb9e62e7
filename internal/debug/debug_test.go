package debug

import "testing"

func TestPadFile(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"all", "all"},
		{"debug.go", "*/debug.go:*"},
		{"internal/debug/debug.go", "internal/debug/debug.go:*"},
		{"debug.go:42", "*/debug.go:42"},
	}

	for _, c := range cases {
		if got := padFile(c.in); got != c.want {
			t.Errorf("padFile(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestCheckFilter(t *testing.T) {
	filter := map[string]bool{
		"*/debug.go:*": true,
		"*/other.go:*": false,
	}

	if !checkFilter(filter, "debug/debug.go:42") {
		t.Errorf("expected match via glob for debug.go")
	}
	if checkFilter(filter, "debug/other.go:42") {
		t.Errorf("expected no match for other.go (explicitly disabled)")
	}
	if checkFilter(filter, "debug/unrelated.go:42") {
		t.Errorf("expected no match for unrelated file with no \"all\" tag")
	}

	filter["all"] = true
	if !checkFilter(filter, "debug/unrelated.go:42") {
		t.Errorf("expected match via \"all\" tag")
	}
}
