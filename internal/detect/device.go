package detect

import "strings"

type DeviceType string

const (
	DeviceMobile  DeviceType = "mobile"
	DeviceTablet  DeviceType = "tablet"
	DeviceDesktop DeviceType = "desktop"
	DeviceUnknown DeviceType = "unknown"
)

// DeviceResult is the device layer's classification. Tablets count as
// mobile for blocking purposes, so IsMobile is also set for them.
type DeviceResult struct {
	DeviceType DeviceType `json:"deviceType"`
	IsMobile   bool       `json:"isMobile"`
	IsDesktop  bool       `json:"isDesktop"`
	IsTablet   bool       `json:"isTablet"`
	Reason     string     `json:"reason"`
}

// Verdict is a layer's block vote.
type Verdict struct {
	ShouldBlock bool   `json:"shouldBlock"`
	Reason      string `json:"reason,omitempty"`
}

// DetectDevice classifies a User-Agent into mobile, tablet, desktop or
// unknown. Unmatched non-empty agents default to desktop: most scripted
// clients carry no device tokens at all.
func DetectDevice(userAgent string) DeviceResult {
	if strings.TrimSpace(userAgent) == "" {
		return DeviceResult{DeviceType: DeviceUnknown, Reason: "Missing User-Agent"}
	}

	if _, ok := firstMatch(inAppDeviceSignatures, userAgent); ok {
		return mobile("In-App Browser (Social Media App)")
	}

	if _, ok := firstMatch(tabletSignatures, userAgent); ok {
		return DeviceResult{
			DeviceType: DeviceTablet,
			IsMobile:   true,
			IsTablet:   true,
			Reason:     "Tablet Device",
		}
	}

	if _, ok := firstMatch(mobileSignatures, userAgent); ok {
		return mobile("Mobile Device")
	}

	if genericMobileToken.MatchString(userAgent) {
		return mobile("Mobile Browser")
	}

	if _, ok := firstMatch(desktopSignatures, userAgent); ok {
		return desktop("Desktop Browser")
	}

	return desktop("Unknown (Defaulting to Desktop)")
}

func mobile(reason string) DeviceResult {
	return DeviceResult{DeviceType: DeviceMobile, IsMobile: true, Reason: reason}
}

func desktop(reason string) DeviceResult {
	return DeviceResult{DeviceType: DeviceDesktop, IsDesktop: true, Reason: reason}
}

// ShouldBlockDevice blocks desktop visitors when the campaign asks for it.
func ShouldBlockDevice(res DeviceResult, blockDesktop bool) Verdict {
	if blockDesktop && res.IsDesktop {
		return Verdict{ShouldBlock: true, Reason: "Desktop Blocked: " + res.Reason}
	}
	return Verdict{}
}
