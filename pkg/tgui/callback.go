package tgui

import (
	"errors"
	"strings"
)

// MaxCallbackDataLen is Telegram's callback_data size limit in bytes.
// NOTE: This is the length of the full string: "plugin:action:payload".
const MaxCallbackDataLen = 64

var ErrCallbackDataTooLong = errors.New("tgui: callback_data too long")

// Data formats inline callback data as "plugin:action[:part[:part...]]".
// Parts are kept as-is (no escaping) and must not contain ':' themselves
// unless they are the last part.
func Data(plugin, action string, parts ...string) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(plugin))
	b.WriteByte(':')
	b.WriteString(strings.TrimSpace(action))
	for _, p := range parts {
		if p == "" {
			continue
		}
		b.WriteByte(':')
		b.WriteString(p)
	}
	return b.String()
}

// CheckData returns ErrCallbackDataTooLong when data would be rejected by Telegram.
func CheckData(data string) error {
	if len(data) > MaxCallbackDataLen {
		return ErrCallbackDataTooLong
	}
	return nil
}

// ParseData splits callback data into plugin, action and the raw payload
// (everything after the second ':').
func ParseData(data string) (plugin, action, payload string, ok bool) {
	parts := strings.SplitN(strings.TrimSpace(data), ":", 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", "", false
	}
	if len(parts) == 3 {
		payload = parts[2]
	}
	return parts[0], parts[1], payload, true
}
