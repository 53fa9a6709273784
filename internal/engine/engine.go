package engine

import (
	"context"
	"strings"
	"unicode/utf8"

	"link-cloaker/internal/detect"
)

type Layer string

const (
	LayerNone   Layer = "none"
	LayerBot    Layer = "bot"
	LayerDevice Layer = "device"
	LayerGeo    Layer = "geo"
	LayerOrigin Layer = "origin_lock"
)

// Decision is the single outcome of the four layers. Reason is empty when
// the visitor is allowed.
type Decision struct {
	Blocked bool   `json:"blocked"`
	Layer   Layer  `json:"layer"`
	Reason  string `json:"reason,omitempty"`
}

// Decide applies the fixed layer precedence: bot, device, geo, origin lock.
// The first layer that blocks supplies the recorded reason; later layers are
// not consulted. Historical audit logs depend on this order.
func Decide(c Campaign, bot detect.BotResult, device detect.DeviceResult, geo, origin detect.Verdict) Decision {
	if c.BlockBots && bot.IsBot {
		return Decision{Blocked: true, Layer: LayerBot, Reason: "Layer 1 (Bot): " + bot.Reason}
	}
	if v := detect.ShouldBlockDevice(device, c.BlockDesktop); v.ShouldBlock {
		return Decision{Blocked: true, Layer: LayerDevice, Reason: "Layer 2 (Device): " + v.Reason}
	}
	if geo.ShouldBlock {
		return Decision{Blocked: true, Layer: LayerGeo, Reason: "Layer 3 (Geo): " + geo.Reason}
	}
	if origin.ShouldBlock {
		return Decision{Blocked: true, Layer: LayerOrigin, Reason: "Layer 4 (Origin Lock): " + origin.Reason}
	}
	return Decision{Layer: LayerNone}
}

// Outcome carries every layer's output next to the final decision, so the
// access log and the inspect command see the same facts.
type Outcome struct {
	ClientIP      string              `json:"clientIp"`
	Bot           detect.BotResult    `json:"bot"`
	Device        detect.DeviceResult `json:"device"`
	Geo           detect.GeoResult    `json:"geo"`
	GeoVerdict    detect.Verdict      `json:"geoVerdict"`
	Origin        detect.OriginResult `json:"origin"`
	OriginVerdict detect.Verdict      `json:"originVerdict"`
	Decision      Decision            `json:"decision"`
}

// Pipeline runs the detection layers for one request. It holds only
// configuration and is safe for concurrent use.
type Pipeline struct {
	Geo    detect.GeoDetector
	Origin detect.OriginLock
}

func NewPipeline(lookup detect.CountryLookup, clickIDParams ...string) Pipeline {
	return Pipeline{
		Geo:    detect.GeoDetector{Lookup: lookup},
		Origin: detect.NewOriginLock(clickIDParams...),
	}
}

func (p Pipeline) Evaluate(ctx context.Context, c Campaign, r Request) Outcome {
	o := Outcome{ClientIP: r.ClientIP()}

	o.Bot = detect.DetectBot(r.UserAgent)
	o.Device = detect.DetectDevice(r.UserAgent)

	// Header countries are always recorded. The rate-limited lookup is only
	// spent when it can change the decision.
	if g, ok := detect.ResolveCountry(r.EdgeCountry, r.CDNCountry); ok {
		o.Geo = g
	} else if len(c.BlockedCountries) > 0 && !Decide(c, o.Bot, o.Device, detect.Verdict{}, detect.Verdict{}).Blocked {
		o.Geo = p.Geo.Detect(ctx, "", "", o.ClientIP)
	}
	o.GeoVerdict = detect.ShouldBlockByCountry(o.Geo.Country, c.BlockedCountries)

	o.Origin = p.Origin.Detect(r.URL, r.UserAgent)
	o.OriginVerdict = detect.ShouldBlockByOrigin(o.Origin, c.EnableOriginLock)

	o.Decision = Decide(c, o.Bot, o.Device, o.GeoVerdict, o.OriginVerdict)
	return o
}

// access_logs column widths.
const (
	maxIPLen     = 45
	maxCountry   = 2
	maxDevice    = 20
	maxPlatform  = 100
	maxReasonLen = 255
)

// BuildAccessLog shapes the audit record for a decided request. Values are
// cut to the access_logs column widths so an oversized header cannot make
// the insert fail.
func BuildAccessLog(c Campaign, r Request, o Outcome) AccessLogEntry {
	browser, os := detect.Platform(r.UserAgent)
	return AccessLogEntry{
		CampaignID:  c.ID,
		UserAgent:   clean(r.UserAgent),
		IPAddress:   clamp(o.ClientIP, maxIPLen),
		Referer:     clean(r.Referer),
		Country:     clamp(o.Geo.Country, maxCountry),
		DeviceType:  clamp(string(o.Device.DeviceType), maxDevice),
		Browser:     clamp(browser, maxPlatform),
		OS:          clamp(os, maxPlatform),
		IsBot:       o.Bot.IsBot,
		BotReason:   clamp(o.Bot.Reason, maxReasonLen),
		WasBlocked:  o.Decision.Blocked,
		BlockReason: clamp(o.Decision.Reason, maxReasonLen),
	}
}

// clean drops bytes Postgres refuses in text columns.
func clean(s string) string {
	s = strings.ToValidUTF8(s, "")
	return strings.ReplaceAll(s, "\x00", "")
}

// clamp cuts s to at most n characters.
func clamp(s string, n int) string {
	s = clean(s)
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
