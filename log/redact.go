package log

import (
	"net/url"
	"strings"
)

// Keys whose values never reach the log output regardless of content
var secretKeys = map[string]bool{
	"api_key":       true,
	"password":      true,
	"authorization": true,
	"imap_password": true,
	"smtp_password": true,
}

func redactKeyvals(keyvals ...interface{}) []interface{} {
	out := make([]interface{}, len(keyvals))
	for i, kv := range keyvals {
		if i%2 == 1 {
			if key, ok := keyvals[i-1].(string); ok && secretKeys[strings.ToLower(key)] {
				out[i] = "xxxxx"
				continue
			}
		}
		if s, ok := kv.(string); ok {
			out[i] = RedactURL(s)
			continue
		}
		out[i] = kv
	}
	return out
}

// RedactURL masks the password portion of a URL-shaped string. Strings without
// a scheme come back unchanged; URL-shaped strings that fail to parse are
// replaced wholesale rather than risk leaking an embedded credential.
func RedactURL(s string) string {
	if !strings.Contains(s, "://") {
		return s
	}
	u, err := url.Parse(s)
	if err != nil {
		return "REDACTED"
	}
	if _, hasPassword := u.User.Password(); hasPassword {
		u.User = url.UserPassword(u.User.Username(), "xxxxx")
		return u.String()
	}
	return s
}
