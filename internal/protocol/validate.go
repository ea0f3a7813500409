package protocol

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	// MaxTextBytes bounds the encoded size of an outbound text payload.
	MaxTextBytes = 4096

	// MaxTextChars bounds the visible character count.
	MaxTextChars = 2000
)

// ValidateText checks an outbound message body before it is echoed or
// sent. The server enforces its own limits; rejecting locally keeps an
// oversized or empty message from ever producing a local echo.
func ValidateText(text string) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("protocol: message text is empty")
	}
	if len(text) > MaxTextBytes {
		return fmt.Errorf("protocol: message exceeds %d byte limit", MaxTextBytes)
	}
	if utf8.RuneCountInString(text) > MaxTextChars {
		return fmt.Errorf("protocol: message exceeds %d character limit", MaxTextChars)
	}
	if !utf8.ValidString(text) {
		return fmt.Errorf("protocol: message contains invalid UTF-8")
	}
	return nil
}
