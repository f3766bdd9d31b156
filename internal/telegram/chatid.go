package telegram

import (
	"strconv"
	"strings"
)

// supergroupMarker prefixes channel and supergroup ids in the Bot API.
const supergroupMarker = "-100"

// NormalizeChatID canonicalizes a stored destination id into the form the
// Bot API expects. Equivalent spellings of the same supergroup ("-100123",
// "-123", "100123", "123") all map to "-100123". Aliases ("@channel") and
// anything unrecognised are returned unchanged (after trimming).
func NormalizeChatID(raw string) string {
	id := strings.TrimSpace(raw)
	switch {
	case id == "":
		return id
	case strings.HasPrefix(id, supergroupMarker):
		return id
	case strings.HasPrefix(id, "-"):
		return supergroupMarker + id[1:]
	case strings.HasPrefix(id, "@"):
		return id
	case !isDigits(id):
		return id
	case strings.HasPrefix(id, supergroupMarker[1:]):
		return "-" + id
	default:
		return supergroupMarker + id
	}
}

// ParseChatID splits a normalized destination into the numeric chat id or
// the channel username form used by the bot library. Exactly one of the
// results is set.
func ParseChatID(normalized string) (int64, string) {
	if n, err := strconv.ParseInt(normalized, 10, 64); err == nil {
		return n, ""
	}
	return 0, normalized
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
