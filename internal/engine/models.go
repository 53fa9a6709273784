package engine

import (
	"net/netip"
	"strings"
	"time"
)

// Campaign is the read-only configuration the pipeline decides against.
type Campaign struct {
	ID       string `json:"id"`
	UserID   string `json:"userId"`
	DomainID string `json:"domainId,omitempty"` // empty for global campaigns
	Name     string `json:"name"`
	Slug     string `json:"slug"`

	DestinationURL string `json:"destinationUrl"`
	SafePageURL    string `json:"safePageUrl"`

	IsActive         bool     `json:"isActive"`
	BlockBots        bool     `json:"blockBots"`
	BlockDesktop     bool     `json:"blockDesktop"`
	BlockedCountries []string `json:"blockedCountries"`
	EnableOriginLock bool     `json:"enableOriginLock"`

	CreatedAt time.Time `json:"createdAt"`
}

// Bound reports whether the campaign is tied to an entry domain.
func (c Campaign) Bound() bool { return c.DomainID != "" }

// Target picks the safe page for blocked visitors, the destination otherwise.
func (c Campaign) Target(blocked bool) string {
	if blocked {
		return c.SafePageURL
	}
	return c.DestinationURL
}

// Request holds the inbound facts the pipeline reads. It is filled once at
// the HTTP boundary and never mutated.
type Request struct {
	Host         string
	Slug         string
	UserAgent    string
	Referer      string
	ForwardedFor string
	RealIP       string
	RemoteAddr   string
	URL          string // scheme://host/path?query, used by the origin lock
	EdgeCountry  string // platform edge geo header
	CDNCountry   string // CDN geo header
}

// ClientIP takes the first X-Forwarded-For hop, then X-Real-IP, then the
// socket peer with its port stripped. A source that does not parse as an IP
// address is skipped.
func (r Request) ClientIP() string {
	if r.ForwardedFor != "" {
		first, _, _ := strings.Cut(r.ForwardedFor, ",")
		if ip, ok := parseIP(first); ok {
			return ip
		}
	}
	if ip, ok := parseIP(r.RealIP); ok {
		return ip
	}
	if ap, err := netip.ParseAddrPort(r.RemoteAddr); err == nil {
		return ap.Addr().WithZone("").String()
	}
	if ip, ok := parseIP(r.RemoteAddr); ok {
		return ip
	}
	return "unknown"
}

func parseIP(s string) (string, bool) {
	addr, err := netip.ParseAddr(strings.TrimSpace(s))
	if err != nil {
		return "", false
	}
	return addr.WithZone("").String(), true
}

// AccessLogEntry is the append-only audit record of one resolved request.
// ID and CreatedAt are assigned by the store.
type AccessLogEntry struct {
	ID          string    `json:"id"`
	CampaignID  string    `json:"campaignId"`
	UserAgent   string    `json:"userAgent"`
	IPAddress   string    `json:"ipAddress"`
	Referer     string    `json:"referer,omitempty"`
	Country     string    `json:"country,omitempty"`
	DeviceType  string    `json:"deviceType"`
	Browser     string    `json:"browser,omitempty"`
	OS          string    `json:"os,omitempty"`
	IsBot       bool      `json:"isBot"`
	BotReason   string    `json:"botReason,omitempty"`
	WasBlocked  bool      `json:"wasBlocked"`
	BlockReason string    `json:"blockReason,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// CampaignStats summarises a campaign's access log.
type CampaignStats struct {
	Total   int64 `json:"total"`
	Blocked int64 `json:"blocked"`
	Humans  int64 `json:"humans"`
}

// UserStats summarises the access logs of all campaigns a user owns.
type UserStats struct {
	TotalCampaigns int64 `json:"totalCampaigns"`
	TotalClicks    int64 `json:"totalClicks"`
	BlockedBots    int64 `json:"blockedBots"`
	HumanVisitors  int64 `json:"humanVisitors"`
}
