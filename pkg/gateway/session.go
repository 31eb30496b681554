package gateway

import (
	"crypto/sha256"
	"encoding/hex"

	"orbital-hq/callisto/pkg/translate"
)

// SessionID derives a stable conversation identifier from the first user
// message's text. Every turn of one conversation re-sends that first
// message unchanged, so the hash keys sticky account selection and the
// signature cache across turns without any client cooperation.
func SessionID(req *translate.MessagesRequest) string {
	for _, m := range req.Messages {
		if m.Role != "user" {
			continue
		}
		var seed string
		for _, block := range m.Content {
			if block.Type == "text" {
				seed += block.Text
			}
		}
		if seed == "" {
			break
		}
		sum := sha256.Sum256([]byte(seed))
		return "session-" + hex.EncodeToString(sum[:8])
	}
	return ""
}
