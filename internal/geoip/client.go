package geoip

import (
	"context"
	"fmt"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"link-cloaker/internal/detect"
	"link-cloaker/internal/observability"
)

const (
	DefaultBaseURL = "http://ip-api.com/json/"
	MaxTimeout     = 3 * time.Second
)

// Client resolves IPs through an ip-api.com compatible endpoint. It never
// returns an error: every failure degrades to an unknown country.
type Client struct {
	baseURL string
	timeout time.Duration
	http    *http.Client
	limiter *rate.Limiter
}

type Options struct {
	BaseURL       string
	Timeout       time.Duration
	RatePerMinute int
	HTTPClient    *http.Client
}

func New(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if !strings.HasSuffix(opts.BaseURL, "/") {
		opts.BaseURL += "/"
	}
	if opts.Timeout <= 0 || opts.Timeout > MaxTimeout {
		opts.Timeout = MaxTimeout
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	limit := rate.Inf
	burst := 0
	if opts.RatePerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(opts.RatePerMinute))
		burst = opts.RatePerMinute
	}
	return &Client{
		baseURL: opts.BaseURL,
		timeout: opts.Timeout,
		http:    opts.HTTPClient,
		limiter: rate.NewLimiter(limit, burst),
	}
}

type apiResponse struct {
	Status      string `json:"status"`
	CountryCode string `json:"countryCode"`
	Country     string `json:"country"`
}

func (c *Client) LookupCountry(ctx context.Context, ip string) detect.GeoResult {
	if !routable(ip) {
		observability.GeoLookups.WithLabelValues("skipped").Inc()
		return detect.GeoResult{}
	}
	if !c.limiter.Allow() {
		observability.GeoLookups.WithLabelValues("rate_limited").Inc()
		return detect.GeoResult{}
	}

	res, err := c.fetch(ctx, ip)
	if err != nil {
		observability.GeoLookups.WithLabelValues("error").Inc()
		log.Warn().Err(err).Str("ip", ip).Msg("geo lookup failed")
		return detect.GeoResult{}
	}
	if !res.Known() {
		observability.GeoLookups.WithLabelValues("miss").Inc()
		return res
	}
	observability.GeoLookups.WithLabelValues("hit").Inc()
	return res
}

func (c *Client) fetch(ctx context.Context, ip string) (detect.GeoResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	endpoint := c.baseURL + url.PathEscape(ip) + "?fields=status,countryCode,country"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return detect.GeoResult{}, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return detect.GeoResult{}, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return detect.GeoResult{}, fmt.Errorf("geo api returned status %d", resp.StatusCode)
	}

	var body apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return detect.GeoResult{}, fmt.Errorf("decode response: %w", err)
	}
	if body.Status != "success" || body.CountryCode == "" {
		return detect.GeoResult{}, nil
	}

	code := strings.ToUpper(body.CountryCode)
	name := body.Country
	if name == "" {
		name = detect.CountryName(code)
	}
	return detect.GeoResult{Country: code, CountryName: name}, nil
}

// routable reports whether ip is worth asking a public geo provider about.
func routable(ip string) bool {
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return false
	}
	return !(addr.IsLoopback() || addr.IsPrivate() || addr.IsUnspecified() ||
		addr.IsLinkLocalUnicast() || addr.IsMulticast())
}
