package progress

import "strings"

// RecordKey is the store key of a (key, locale) pair: "{key}:{locale}".
func RecordKey(key, locale string) string {
	return key + ":" + locale
}

// SplitRecordKey reverses RecordKey. The locale is the text after the last
// colon, so keys that are URLs with ports and schemes survive.
func SplitRecordKey(k string) (key, locale string, ok bool) {
	i := strings.LastIndexByte(k, ':')
	if i <= 0 || i == len(k)-1 {
		return "", "", false
	}
	return k[:i], k[i+1:], true
}
