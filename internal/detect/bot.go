package detect

import (
	"strings"
	"unicode/utf8"
)

type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// BotResult is the automation layer's verdict. Reason is empty for humans.
type BotResult struct {
	IsBot      bool       `json:"isBot"`
	Reason     string     `json:"reason,omitempty"`
	Confidence Confidence `json:"confidence"`
}

const minUserAgentLen = 20

// DetectBot classifies a User-Agent. Checks run in a fixed order and the
// first hit decides; it is not a scoring system.
func DetectBot(userAgent string) BotResult {
	if strings.TrimSpace(userAgent) == "" {
		return BotResult{IsBot: true, Reason: "Missing User-Agent", Confidence: ConfidenceHigh}
	}

	if s, ok := firstMatch(botSignatures, userAgent); ok {
		return BotResult{IsBot: true, Reason: s.label, Confidence: ConfidenceHigh}
	}

	if s, ok := firstMatch(suspiciousSignatures, userAgent); ok {
		return BotResult{IsBot: true, Reason: s.label, Confidence: ConfidenceMedium}
	}

	if utf8.RuneCountInString(userAgent) < minUserAgentLen {
		return BotResult{IsBot: true, Reason: "Suspiciously Short User-Agent", Confidence: ConfidenceMedium}
	}

	if !browserEngineToken.MatchString(userAgent) && !mobileOSToken.MatchString(userAgent) {
		return BotResult{IsBot: true, Reason: "No Browser Signature", Confidence: ConfidenceMedium}
	}

	return BotResult{IsBot: false, Confidence: ConfidenceLow}
}
