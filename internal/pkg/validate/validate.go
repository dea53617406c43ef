package validate

import (
	"net/url"
	"strings"
)

func Required(value string) bool {
	return strings.TrimSpace(value) != ""
}

// HTTPURL reports whether value is an absolute http or https URL.
func HTTPURL(value string) bool {
	parsed, err := url.Parse(strings.TrimSpace(value))
	if err != nil || parsed.Host == "" {
		return false
	}
	return parsed.Scheme == "http" || parsed.Scheme == "https"
}
