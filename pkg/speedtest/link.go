package speedtest

import (
	"strings"

	"github.com/google/uuid"
)

// ResultLink formats a result ID into the public result URL. Modern IDs are
// UUIDs; legacy IDs are numeric and use the image URL form the queue bot
// also accepts. Unknown shapes yield "".
func ResultLink(id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return ""
	}
	if _, err := uuid.Parse(id); err == nil {
		return "https://www.speedtest.net/result/c/" + id
	}
	if isDigits(id) {
		return "https://www.speedtest.net/result/" + id + ".png"
	}
	return ""
}

// JoinCommand builds the queue-join line. The bot treats a repeated join
// from the same nick as a no-op, so resending after a reconnect is safe.
func JoinCommand(link string) string {
	if link == "" {
		return "!queue"
	}
	return "!queue " + link
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}
