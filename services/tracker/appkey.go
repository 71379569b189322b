package tracker

import "strings"

// UnknownApp is the key used for labels that can not be attributed.
const UnknownApp = "Unknown"

// SanitizeAppKey rewrites an application label into a key safe for storage maps:
// dots become underscores and a leading '$' is escaped as "_$".
func SanitizeAppKey(label string) string {
	if label == "" {
		return UnknownApp
	}
	key := strings.ReplaceAll(label, ".", "_")
	if strings.HasPrefix(key, "$") {
		key = "_" + key
	}
	return key
}

// SanitizeAppValue sanitizes a decoded value of unknown type. Anything other than
// a non-empty string maps to UnknownApp.
func SanitizeAppValue(v any) string {
	switch label := v.(type) {
	case string:
		return SanitizeAppKey(label)
	case *string:
		if label == nil {
			return UnknownApp
		}
		return SanitizeAppKey(*label)
	default:
		return UnknownApp
	}
}

func isSanitizedKey(key string) bool {
	return key != "" && !strings.Contains(key, ".") && !strings.HasPrefix(key, "$")
}
