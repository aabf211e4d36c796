package netconf

import "regexp"

var messageIDPattern = regexp.MustCompile(`message-id\s*=\s*(?:"([^"]*)"|'([^']*)')`)

// ExtractMessageID returns the first message-id attribute value in payload.
func ExtractMessageID(payload string) (string, bool) {
	m := messageIDPattern.FindStringSubmatch(payload)
	if m == nil {
		return "", false
	}
	id := m[1]
	if id == "" {
		id = m[2]
	}
	if id == "" {
		return "", false
	}
	return id, true
}
