package util

import (
	"net/url"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var schemePrefix = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9+.\-]*://`)

// ValidateURL reports whether raw is an absolute http or https URL with a host.
func ValidateURL(raw string) bool {
	u, err := url.ParseRequestURI(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	return u.Hostname() != "" && !strings.ContainsFunc(u.Host, unicode.IsSpace)
}

// NormalizeURL trims whitespace, prepends https:// when no scheme is present
// and strips a single trailing slash. It is idempotent.
func NormalizeURL(raw string) string {
	s := strings.TrimSpace(raw)
	if !schemePrefix.MatchString(s) {
		s = "https://" + s
	}
	if strings.HasSuffix(s, "/") {
		// "a//" and "a /" keep their slash so a second pass has nothing left to strip or trim.
		prev, _ := utf8.DecodeLastRuneInString(s[:len(s)-1])
		if prev != '/' && !unicode.IsSpace(prev) {
			s = s[:len(s)-1]
		}
	}
	return s
}
