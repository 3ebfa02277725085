package platform

import (
	"html"
	"regexp"
	"strings"
)

var badChars = regexp.MustCompile(`[\\/:*?"<>|\x00-\x1f]`)

// SanitizeName makes a variant tag or page title safe as a path component
func SanitizeName(name string) string {
	res := html.UnescapeString(name)

	// Windows/Linux/macOS safety
	res = badChars.ReplaceAllString(res, "_")
	res = strings.TrimSpace(res)
	res = strings.Trim(res, ".")

	if res == "" {
		return "default"
	}
	return res
}
