package radio

import (
	"regexp"
	"testing"
)

var canonicalID = regexp.MustCompile(`^![0-9a-f]{8}$`)

func TestFormatNodeNum(t *testing.T) {
	cases := []struct {
		num  uint32
		want string
	}{
		{0xa20a0de0, "!a20a0de0"},
		{0x1, "!00000001"},
		{0, "!00000000"},
		{0xFFFFFFFE, "!fffffffe"},
	}
	for _, tc := range cases {
		if got := FormatNodeNum(tc.num); got != tc.want {
			t.Errorf("FormatNodeNum(%#x) = %q, want %q", tc.num, got, tc.want)
		}
	}
}

func TestNormalizeNodeID_Forms(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"!a20a0de0", "!a20a0de0", true},
		{"!A20A0DE0", "!a20a0de0", true},
		{"a20a0de0", "!a20a0de0", true},
		{"A20A0DE0", "!a20a0de0", true},
		{"1a2b", "!00001a2b", true},
		{"  1a2b  ", "!00001a2b", true},
		{"0", "!00000000", true},
		{"", "", false},
		{"nothex!", "", false},
		{"a20a0de0ff", "", false}, // more than 8 hex digits
	}
	for _, tc := range cases {
		got, ok := NormalizeNodeID(tc.in)
		if ok != tc.ok || got != tc.want {
			t.Errorf("NormalizeNodeID(%q) = (%q, %v), want (%q, %v)", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}

func TestNormalizeNodeID_Idempotent(t *testing.T) {
	inputs := []string{"!a20a0de0", "A20A0DE0", "1a2b", "!ABCDEF01"}
	for _, in := range inputs {
		first, ok := NormalizeNodeID(in)
		if !ok {
			t.Fatalf("NormalizeNodeID(%q) unexpectedly failed", in)
		}
		second, ok := NormalizeNodeID(first)
		if !ok || second != first {
			t.Errorf("normalize not idempotent for %q: %q -> %q", in, first, second)
		}
	}
}

func TestNormalizeNodeID_CanonicalShape(t *testing.T) {
	inputs := []string{"a20a0de0", "1", "FFFF", "0"}
	for _, in := range inputs {
		got, ok := NormalizeNodeID(in)
		if !ok {
			t.Fatalf("NormalizeNodeID(%q) failed", in)
		}
		if !canonicalID.MatchString(got) {
			t.Errorf("NormalizeNodeID(%q) = %q, not canonical", in, got)
		}
	}
}

func TestShortID(t *testing.T) {
	if got := ShortID("!a20a0de0"); got != "a20a0de0" {
		t.Errorf("ShortID = %q, want %q", got, "a20a0de0")
	}
	if got := ShortID("a20a0de0"); got != "a20a0de0" {
		t.Errorf("ShortID without prefix = %q, want unchanged", got)
	}
}
