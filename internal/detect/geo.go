package detect

import (
	"context"
	"strings"
)

// GeoResult is a resolved country. Both fields are empty when unknown.
type GeoResult struct {
	Country     string `json:"country,omitempty"`
	CountryName string `json:"countryName,omitempty"`
}

func (g GeoResult) Known() bool { return g.Country != "" }

type Country struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

var countries = []Country{
	{"BR", "Brazil"},
	{"US", "United States"},
	{"PT", "Portugal"},
	{"ES", "Spain"},
	{"AR", "Argentina"},
	{"MX", "Mexico"},
	{"CO", "Colombia"},
	{"CL", "Chile"},
	{"PE", "Peru"},
	{"VE", "Venezuela"},
	{"EC", "Ecuador"},
	{"UY", "Uruguay"},
	{"PY", "Paraguay"},
	{"BO", "Bolivia"},
	{"GB", "United Kingdom"},
	{"DE", "Germany"},
	{"FR", "France"},
	{"IT", "Italy"},
	{"CA", "Canada"},
	{"AU", "Australia"},
	{"JP", "Japan"},
	{"CN", "China"},
	{"IN", "India"},
	{"RU", "Russia"},
	{"ZA", "South Africa"},
	{"NG", "Nigeria"},
	{"EG", "Egypt"},
	{"AO", "Angola"},
	{"MZ", "Mozambique"},
	{"CV", "Cape Verde"},
	{"GW", "Guinea-Bissau"},
	{"ST", "Sao Tome and Principe"},
	{"TL", "Timor-Leste"},
}

var countryNames = func() map[string]string {
	m := make(map[string]string, len(countries))
	for _, c := range countries {
		m[c.Code] = c.Name
	}
	return m
}()

// AvailableCountries lists the countries a campaign can block, in display order.
func AvailableCountries() []Country {
	return append([]Country(nil), countries...)
}

// CountryName returns the display name for an ISO alpha-2 code, or the
// uppercased code itself when the table has no entry.
func CountryName(code string) string {
	code = strings.ToUpper(code)
	if name, ok := countryNames[code]; ok {
		return name
	}
	return code
}

// "XX" is what Cloudflare sends when it cannot place an address.
const unknownCountryCode = "XX"

// ResolveCountry picks the first usable country header value. The edge
// header wins over the CDN header. Values that are not two letters are
// ignored.
func ResolveCountry(edgeCountry, cdnCountry string) (GeoResult, bool) {
	for _, v := range []string{edgeCountry, cdnCountry} {
		code := strings.ToUpper(strings.TrimSpace(v))
		if !isCountryCode(code) || code == unknownCountryCode {
			continue
		}
		return GeoResult{Country: code, CountryName: CountryName(code)}, true
	}
	return GeoResult{}, false
}

// isCountryCode accepts ISO 3166-1 alpha-2 shaped values only.
func isCountryCode(code string) bool {
	if len(code) != 2 {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < 'A' || code[i] > 'Z' {
			return false
		}
	}
	return true
}

// CountryLookup resolves an IP address to a country. Implementations fail
// open: any error or timeout yields an empty GeoResult.
type CountryLookup interface {
	LookupCountry(ctx context.Context, ip string) GeoResult
}

// GeoDetector resolves a request's country from trusted headers, falling
// back to Lookup when set.
type GeoDetector struct {
	Lookup CountryLookup
}

func (d GeoDetector) Detect(ctx context.Context, edgeCountry, cdnCountry, ip string) GeoResult {
	if g, ok := ResolveCountry(edgeCountry, cdnCountry); ok {
		return g
	}
	if d.Lookup == nil {
		return GeoResult{}
	}
	return d.Lookup.LookupCountry(ctx, ip)
}

// ShouldBlockByCountry is an exact, case-insensitive membership test. An
// unknown country or an empty block-list never blocks.
func ShouldBlockByCountry(country string, blocked []string) Verdict {
	if len(blocked) == 0 || country == "" {
		return Verdict{}
	}
	code := strings.ToUpper(country)
	for _, b := range blocked {
		if strings.ToUpper(strings.TrimSpace(b)) == code {
			return Verdict{
				ShouldBlock: true,
				Reason:      "Blocked country: " + CountryName(code) + " (" + code + ")",
			}
		}
	}
	return Verdict{}
}
