package detect

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectDevice(t *testing.T) {
	tests := []struct {
		name       string
		ua         string
		wantType   DeviceType
		wantReason string
	}{
		{"empty", "", DeviceUnknown, "Missing User-Agent"},
		{"instagram over windows", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 Instagram 300.0", DeviceMobile, "In-App Browser (Social Media App)"},
		{"instagram iphone", instagramUA, DeviceMobile, "In-App Browser (Social Media App)"},
		{"facebook app on desktop tokens", "Mozilla/5.0 (Macintosh) [FBAN/FBIOS;FBAV/440.0]", DeviceMobile, "In-App Browser (Social Media App)"},
		{"ipad", ipadUA, DeviceTablet, "Tablet Device"},
		{"android without mobile token", androidTabUA, DeviceTablet, "Tablet Device"},
		{"kindle", "Mozilla/5.0 (Linux; U; en-US) AppleWebKit/528.5+ (KHTML, like Gecko, Safari/528.5+) Version/4.0 Kindle/3.0", DeviceTablet, "Tablet Device"},
		{"android phone", androidPhoneUA, DeviceMobile, "Mobile Device"},
		{"iphone", iphoneUA, DeviceMobile, "Mobile Device"},
		{"generic mobile token", "SomeBrowser/1.0 Mobile", DeviceMobile, "Mobile Browser"},
		{"windows", chromeWindowsUA, DeviceDesktop, "Desktop Browser"},
		{"mac", safariMacUA, DeviceDesktop, "Desktop Browser"},
		{"linux", firefoxLinuxUA, DeviceDesktop, "Desktop Browser"},
		{"unrecognised defaults to desktop", "curl/8.0", DeviceDesktop, "Unknown (Defaulting to Desktop)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DetectDevice(tt.ua)
			assert.Equal(t, tt.wantType, got.DeviceType)
			assert.Equal(t, tt.wantReason, got.Reason)
			assert.Equal(t, tt.wantType == DeviceDesktop, got.IsDesktop)
			assert.Equal(t, tt.wantType == DeviceTablet, got.IsTablet)
			assert.Equal(t, tt.wantType == DeviceMobile || tt.wantType == DeviceTablet, got.IsMobile)
		})
	}
}

func TestDetectDevice_Idempotent(t *testing.T) {
	assert.Equal(t, DetectDevice(instagramUA), DetectDevice(instagramUA))
}

func TestShouldBlockDevice(t *testing.T) {
	desktop := DetectDevice(chromeWindowsUA)
	phone := DetectDevice(iphoneUA)

	v := ShouldBlockDevice(desktop, true)
	assert.True(t, v.ShouldBlock)
	assert.Equal(t, "Desktop Blocked: Desktop Browser", v.Reason)

	assert.False(t, ShouldBlockDevice(desktop, false).ShouldBlock)
	assert.False(t, ShouldBlockDevice(phone, true).ShouldBlock)
	assert.False(t, ShouldBlockDevice(DetectDevice(""), true).ShouldBlock)
}
