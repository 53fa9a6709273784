package detect

import (
	"strings"

	"github.com/mssola/useragent"
)

// Platform extracts browser and OS names for the access log. It is
// informational only and never feeds a block decision.
func Platform(userAgent string) (browser, os string) {
	if strings.TrimSpace(userAgent) == "" {
		return "", ""
	}
	ua := useragent.New(userAgent)
	name, version := ua.Browser()
	browser = strings.TrimSpace(name + " " + version)
	return browser, ua.OS()
}
