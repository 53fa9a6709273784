package engine

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"link-cloaker/internal/detect"
)

const iphoneUA = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1"

func hostileRequest() Request {
	return Request{
		Host:        "go.example.com",
		Slug:        "promo",
		UserAgent:   "curl/8.0",
		URL:         "https://go.example.com/r/promo",
		EdgeCountry: "BR",
		RemoteAddr:  "203.0.113.9:51234",
	}
}

func TestDecide_Precedence(t *testing.T) {
	tests := []struct {
		name       string
		campaign   Campaign
		wantLayer  Layer
		wantReason string
	}{
		{
			name:       "all layers enabled reports bot only",
			campaign:   Campaign{BlockBots: true, BlockDesktop: true, BlockedCountries: []string{"BR"}, EnableOriginLock: true},
			wantLayer:  LayerBot,
			wantReason: "Layer 1 (Bot): cURL",
		},
		{
			name:       "device next",
			campaign:   Campaign{BlockDesktop: true, BlockedCountries: []string{"BR"}, EnableOriginLock: true},
			wantLayer:  LayerDevice,
			wantReason: "Layer 2 (Device): Desktop Blocked: Unknown (Defaulting to Desktop)",
		},
		{
			name:       "geo next",
			campaign:   Campaign{BlockedCountries: []string{"br"}, EnableOriginLock: true},
			wantLayer:  LayerGeo,
			wantReason: "Layer 3 (Geo): Blocked country: Brazil (BR)",
		},
		{
			name:       "origin lock last",
			campaign:   Campaign{EnableOriginLock: true},
			wantLayer:  LayerOrigin,
			wantReason: "Layer 4 (Origin Lock): Direct access without ad trace (no fbclid, outside in-app browser)",
		},
		{
			name:      "nothing enabled allows",
			campaign:  Campaign{},
			wantLayer: LayerNone,
		},
	}

	p := NewPipeline(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := p.Evaluate(context.Background(), tt.campaign, hostileRequest())
			assert.Equal(t, tt.wantLayer != LayerNone, o.Decision.Blocked)
			assert.Equal(t, tt.wantLayer, o.Decision.Layer)
			assert.Equal(t, tt.wantReason, o.Decision.Reason)
		})
	}
}

func TestEvaluate_EndToEndScenarios(t *testing.T) {
	c := Campaign{
		ID:             "c1",
		BlockBots:      true,
		DestinationURL: "https://offer.example.com",
		SafePageURL:    "https://safe.example.com",
	}
	p := NewPipeline(nil)

	t.Run("curl is blocked", func(t *testing.T) {
		r := Request{UserAgent: "curl/8.0", URL: "https://go.example.com/r/promo"}
		o := p.Evaluate(context.Background(), c, r)
		assert.True(t, o.Decision.Blocked)
		assert.Equal(t, "Layer 1 (Bot): cURL", o.Decision.Reason)
		assert.Equal(t, c.SafePageURL, c.Target(o.Decision.Blocked))
	})

	t.Run("iphone is allowed", func(t *testing.T) {
		r := Request{UserAgent: iphoneUA, URL: "https://go.example.com/r/promo"}
		o := p.Evaluate(context.Background(), c, r)
		assert.False(t, o.Decision.Blocked)
		assert.Empty(t, o.Decision.Reason)
		assert.Equal(t, c.DestinationURL, c.Target(o.Decision.Blocked))

		entry := BuildAccessLog(c, r, o)
		assert.False(t, entry.WasBlocked)
		assert.Equal(t, "mobile", entry.DeviceType)
	})
}

func TestEvaluate_Idempotent(t *testing.T) {
	p := NewPipeline(nil)
	c := Campaign{BlockBots: true, BlockDesktop: true, BlockedCountries: []string{"BR"}, EnableOriginLock: true}
	first := p.Evaluate(context.Background(), c, hostileRequest())
	second := p.Evaluate(context.Background(), c, hostileRequest())
	assert.Equal(t, first, second)
}

func TestBuildAccessLog(t *testing.T) {
	c := Campaign{ID: "c1", BlockBots: true, BlockedCountries: []string{"BR"}}
	r := hostileRequest()
	r.Referer = "https://l.facebook.com/"
	r.ForwardedFor = "198.51.100.4, 10.0.0.1"

	o := NewPipeline(nil).Evaluate(context.Background(), c, r)
	entry := BuildAccessLog(c, r, o)

	require.Equal(t, "c1", entry.CampaignID)
	assert.Equal(t, "curl/8.0", entry.UserAgent)
	assert.Equal(t, "198.51.100.4", entry.IPAddress)
	assert.Equal(t, "https://l.facebook.com/", entry.Referer)
	assert.Equal(t, "BR", entry.Country)
	assert.Equal(t, "desktop", entry.DeviceType)
	assert.True(t, entry.IsBot)
	assert.Equal(t, "cURL", entry.BotReason)
	assert.True(t, entry.WasBlocked)
	assert.Equal(t, "Layer 1 (Bot): cURL", entry.BlockReason)
	assert.Empty(t, entry.ID)
	assert.True(t, entry.CreatedAt.IsZero())
}

func TestRequest_ClientIP(t *testing.T) {
	tests := []struct {
		name string
		req  Request
		want string
	}{
		{"forwarded for first hop", Request{ForwardedFor: " 198.51.100.4 , 10.0.0.1", RealIP: "10.9.9.9"}, "198.51.100.4"},
		{"real ip", Request{RealIP: "198.51.100.5", RemoteAddr: "10.0.0.1:80"}, "198.51.100.5"},
		{"ipv4 peer", Request{RemoteAddr: "198.51.100.6:41234"}, "198.51.100.6"},
		{"ipv6 peer", Request{RemoteAddr: "[2001:db8::1]:41234"}, "2001:db8::1"},
		{"garbage forwarded for falls back", Request{ForwardedFor: strings.Repeat("a", 60) + ", 10.0.0.1", RealIP: "198.51.100.7"}, "198.51.100.7"},
		{"garbage real ip falls back", Request{RealIP: "not-an-ip", RemoteAddr: "198.51.100.8:443"}, "198.51.100.8"},
		{"bare peer", Request{RemoteAddr: "198.51.100.9"}, "198.51.100.9"},
		{"garbage peer", Request{RemoteAddr: "pipe"}, "unknown"},
		{"nothing", Request{}, "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.req.ClientIP())
		})
	}
}

type countingLookup struct {
	calls atomic.Int32
}

func (l *countingLookup) LookupCountry(_ context.Context, _ string) detect.GeoResult {
	l.calls.Add(1)
	return detect.GeoResult{Country: "US", CountryName: "United States"}
}

func TestEvaluate_GeoLookupOnlyWhenItMatters(t *testing.T) {
	ctx := context.Background()
	human := Request{UserAgent: iphoneUA, URL: "https://go.example.com/r/promo", RemoteAddr: "198.51.100.4:5000"}
	bot := Request{UserAgent: "curl/8.0", URL: "https://go.example.com/r/promo", RemoteAddr: "198.51.100.4:5000"}

	tests := []struct {
		name        string
		campaign    Campaign
		req         Request
		wantCalls   int32
		wantCountry string
	}{
		{"no block-list", Campaign{BlockBots: true}, bot, 0, ""},
		{"no block-list human", Campaign{}, human, 0, ""},
		{"already blocked by bot layer", Campaign{BlockBots: true, BlockedCountries: []string{"US"}}, bot, 0, ""},
		{"block-list without header", Campaign{BlockedCountries: []string{"US"}}, human, 1, "US"},
		{"header wins", Campaign{BlockedCountries: []string{"US"}}, func() Request { r := human; r.EdgeCountry = "br"; return r }(), 0, "BR"},
		{"header recorded without block-list", Campaign{}, func() Request { r := human; r.CDNCountry = "DE"; return r }(), 0, "DE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lookup := &countingLookup{}
			o := NewPipeline(lookup).Evaluate(ctx, tt.campaign, tt.req)
			assert.Equal(t, tt.wantCalls, lookup.calls.Load())
			assert.Equal(t, tt.wantCountry, o.Geo.Country)
		})
	}

	lookup := &countingLookup{}
	o := NewPipeline(lookup).Evaluate(ctx, Campaign{BlockedCountries: []string{"us"}}, human)
	assert.Equal(t, LayerGeo, o.Decision.Layer)
}

func TestBuildAccessLog_FitsColumns(t *testing.T) {
	c := Campaign{ID: "c1", BlockedCountries: []string{"BR"}}
	r := Request{
		UserAgent:    "Mozilla/5.0 (X11; Linux x86_64) " + strings.Repeat("Gecko", 80) + "\x00",
		ForwardedFor: strings.Repeat("f", 60),
		RemoteAddr:   "203.0.113.9:51234",
		EdgeCountry:  "Brazil",
		CDNCountry:   "Portugal",
	}
	o := NewPipeline(nil).Evaluate(context.Background(), c, r)
	o.Decision.Reason = strings.Repeat("é", 300)
	entry := BuildAccessLog(c, r, o)

	assert.Equal(t, "203.0.113.9", entry.IPAddress)
	assert.Empty(t, entry.Country)
	assert.LessOrEqual(t, utf8.RuneCountInString(entry.Browser), 100)
	assert.LessOrEqual(t, utf8.RuneCountInString(entry.OS), 100)
	assert.Equal(t, 255, utf8.RuneCountInString(entry.BlockReason))
	assert.True(t, utf8.ValidString(entry.BlockReason))
	assert.NotContains(t, entry.UserAgent, "\x00")
}

func TestClamp(t *testing.T) {
	assert.Equal(t, "abc", clamp("abc", 5))
	assert.Equal(t, "ab", clamp("abc", 2))
	assert.Equal(t, "éé", clamp("ééé", 2))
	assert.Equal(t, "ab", clamp("a\xffb", 5))
}
