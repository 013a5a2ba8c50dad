package messages

import (
	"testing"
	"time"
)

func TestProtocolRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		id   string
		text string
	}{
		{"simple", "a20a0de0_1700000000123", "hello out there"},
		{"multiline", "12345678_1", "line one\nline two\n\nline four"},
		{"brackets in body", "abcd_2", "math: [1]+[2]=[3]"},
		{"empty body", "abcd_3", ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			wire := FormatOutgoing(tc.id, tc.text)
			id, body, ok := ParseMessage(wire)
			if !ok {
				t.Fatalf("ParseMessage(%q) did not recognize the envelope", wire)
			}
			if id != tc.id || body != tc.text {
				t.Errorf("round trip = (%q, %q), want (%q, %q)", id, body, tc.id, tc.text)
			}
		})
	}
}

func TestReceiptRoundTrip(t *testing.T) {
	wire := FormatReceipt("a20a0de0_1700000000123")
	if wire != "[RECEIPT:a20a0de0_1700000000123]" {
		t.Fatalf("FormatReceipt = %q", wire)
	}

	id, ok := ParseReceipt(wire)
	if !ok || id != "a20a0de0_1700000000123" {
		t.Errorf("ParseReceipt(%q) = (%q, %v)", wire, id, ok)
	}
}

func TestParseMessage_RejectsPlainText(t *testing.T) {
	for _, text := range []string{
		"hello",
		"MSG:abc]missing opener",
		"[RECEIPT:abc]",
		"[MSG:]no id",
		"",
	} {
		if id, _, ok := ParseMessage(text); ok {
			t.Errorf("ParseMessage(%q) = (%q, ok), want rejection", text, id)
		}
	}
}

func TestParseReceipt_RejectsNonReceipts(t *testing.T) {
	for _, text := range []string{
		"hello",
		"[MSG:abc]body",
		"[RECEIPT:]",
		"",
	} {
		if id, ok := ParseReceipt(text); ok {
			t.Errorf("ParseReceipt(%q) = (%q, ok), want rejection", text, id)
		}
	}
}

func TestNewMessageID(t *testing.T) {
	at := time.UnixMilli(1700000000123)

	if got := NewMessageID("!a20a0de0", at); got != "a20a0de0_1700000000123" {
		t.Errorf("NewMessageID = %q, want %q", got, "a20a0de0_1700000000123")
	}
	if got := NewMessageID("a20a0de0", at); got != "a20a0de0_1700000000123" {
		t.Errorf("NewMessageID without prefix = %q", got)
	}
}

func TestIsBulletin(t *testing.T) {
	cases := []struct {
		dest string
		want bool
	}{
		{"", true},
		{"^all", true},
		{"!a20a0de0", false},
	}
	for _, tc := range cases {
		if got := IsBulletin(tc.dest); got != tc.want {
			t.Errorf("IsBulletin(%q) = %v, want %v", tc.dest, got, tc.want)
		}
	}
}
