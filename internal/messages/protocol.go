// Package messages implements the structured text-message layer carried
// over the mesh: the [MSG:id]/[RECEIPT:id] envelope protocol, the
// persistent message store, and the service tying both to the radio.
package messages

import (
	"fmt"
	"regexp"
	"time"

	"meshmon/internal/radio"
)

var (
	msgPattern     = regexp.MustCompile(`(?s)^\[MSG:([^\]]+)\](.*)$`)
	receiptPattern = regexp.MustCompile(`^\[RECEIPT:([^\]]+)\]`)
)

// NewMessageID builds a message id from the sender's node id and a
// timestamp, e.g. "a20a0de0_1700000000123".
func NewMessageID(nodeID string, now time.Time) string {
	return fmt.Sprintf("%s_%d", radio.ShortID(nodeID), now.UnixMilli())
}

// FormatOutgoing wraps text in the structured-message envelope.
func FormatOutgoing(messageID, text string) string {
	return "[MSG:" + messageID + "]" + text
}

// FormatReceipt builds the read-receipt envelope for a message id.
func FormatReceipt(messageID string) string {
	return "[RECEIPT:" + messageID + "]"
}

// ParseMessage extracts the id and body from a structured message. The
// body is returned verbatim, including embedded newlines. ok is false
// when text does not carry the envelope; such text is still stored, just
// as unstructured traffic.
func ParseMessage(text string) (id, body string, ok bool) {
	m := msgPattern.FindStringSubmatch(text)
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}

// ParseReceipt extracts the message id from a read receipt.
func ParseReceipt(text string) (id string, ok bool) {
	m := receiptPattern.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// IsBulletin reports whether a destination addresses the whole mesh
// rather than a specific node.
func IsBulletin(destination string) bool {
	return destination == "" || destination == radio.BroadcastID
}
