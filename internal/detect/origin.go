package detect

import "strings"

// DefaultClickIDParam is appended by Meta's ad network to every ad click.
const DefaultClickIDParam = "fbclid"

// OriginResult reports both legitimacy signals independently, even though
// either one alone is enough.
type OriginResult struct {
	IsLegitimate     bool   `json:"isLegitimate"`
	HasAdClickID     bool   `json:"hasAdClickId"`
	IsInAppBrowser   bool   `json:"isInAppBrowser"`
	InAppBrowserName string `json:"inAppBrowserName,omitempty"`
	Reason           string `json:"reason"`
}

// OriginLock treats a visit as a real ad click when the URL carries an
// ad-click identifier OR the visitor is inside a Meta in-app browser.
type OriginLock struct {
	ClickIDParams []string
}

func NewOriginLock(params ...string) OriginLock {
	if len(params) == 0 {
		params = []string{DefaultClickIDParam}
	}
	return OriginLock{ClickIDParams: params}
}

func (o OriginLock) Detect(fullURL, userAgent string) OriginResult {
	param, hasClickID := o.clickID(fullURL)

	var res OriginResult
	if s, ok := firstMatch(originInAppSignatures, userAgent); ok {
		res.IsInAppBrowser = true
		res.InAppBrowserName = s.label
	}

	switch {
	case hasClickID:
		res.IsLegitimate = true
		res.HasAdClickID = true
		res.Reason = "Legitimate click: " + param + " detected"
	case res.IsInAppBrowser:
		res.IsLegitimate = true
		res.Reason = "Legitimate click: in-app browser (" + res.InAppBrowserName + ")"
	default:
		res.Reason = "Direct access without ad trace (no " + o.primaryParam() + ", outside in-app browser)"
	}
	return res
}

func (o OriginLock) primaryParam() string {
	if len(o.ClickIDParams) == 0 {
		return DefaultClickIDParam
	}
	return o.ClickIDParams[0]
}

// clickID looks for name=value pairs in both the query string and the
// fragment of the raw URL.
func (o OriginLock) clickID(rawURL string) (string, bool) {
	i := strings.IndexAny(rawURL, "?#")
	if i < 0 {
		return "", false
	}
	pairs := strings.FieldsFunc(rawURL[i+1:], func(r rune) bool {
		return r == '&' || r == '?' || r == '#' || r == ';'
	})
	params := o.ClickIDParams
	if len(params) == 0 {
		params = []string{DefaultClickIDParam}
	}
	for _, kv := range pairs {
		key, _, hasValue := strings.Cut(kv, "=")
		if !hasValue {
			continue
		}
		for _, p := range params {
			if key == p {
				return p, true
			}
		}
	}
	return "", false
}

// ShouldBlockByOrigin only ever blocks when the campaign enabled the lock.
func ShouldBlockByOrigin(res OriginResult, enabled bool) Verdict {
	if !enabled || res.IsLegitimate {
		return Verdict{}
	}
	return Verdict{ShouldBlock: true, Reason: res.Reason}
}
