package pipeline

import "unicode/utf8"

// Validate implements the Received→Validated transition: non-empty, UTF-8,
// length <= 4096.
func Validate(msg InboundMessage) bool {
	if msg.Text == "" {
		return false
	}
	if len(msg.Text) > maxTextLen {
		return false
	}
	return utf8.ValidString(msg.Text)
}
