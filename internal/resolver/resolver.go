package resolver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/rs/zerolog/log"

	"link-cloaker/internal/engine"
	"link-cloaker/internal/observability"
	"link-cloaker/internal/storage"
)

var (
	ErrNotFound      = errors.New("no active campaign")
	ErrInvalidTarget = errors.New("invalid redirect target")
)

// CampaignStore is the read side of campaign storage.
type CampaignStore interface {
	GetCampaignBySlugAndDomain(ctx context.Context, slug, domain string) (engine.Campaign, error)
	GetCampaignBySlug(ctx context.Context, slug string) (engine.Campaign, error)
}

// Recorder accepts access log entries. It must not block.
type Recorder interface {
	Record(e engine.AccessLogEntry) bool
}

type Resolver struct {
	store    CampaignStore
	pipeline engine.Pipeline
	recorder Recorder
}

func New(store CampaignStore, pipeline engine.Pipeline, recorder Recorder) *Resolver {
	return &Resolver{store: store, pipeline: pipeline, recorder: recorder}
}

// Result is the outcome of a dispatched request.
type Result struct {
	Campaign engine.Campaign
	Outcome  engine.Outcome
	Target   string
}

// NormalizeHost strips the port from a Host header value, lowercases it and
// drops a leading "www.".
func NormalizeHost(host string) string {
	host = strings.TrimSpace(host)
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
	return storage.NormalizeDomain(host)
}

// Resolve finds the campaign for (host, slug). A campaign bound to the
// request's entry domain wins; otherwise only an unbound campaign may match
// the slug. Inactive campaigns resolve to ErrNotFound.
func (r *Resolver) Resolve(ctx context.Context, host, slug string) (engine.Campaign, error) {
	if slug == "" {
		return engine.Campaign{}, ErrNotFound
	}

	if domain := NormalizeHost(host); domain != "" {
		c, err := r.store.GetCampaignBySlugAndDomain(ctx, slug, domain)
		switch {
		case err == nil:
			return active(c)
		case !errors.Is(err, storage.ErrNotFound):
			return engine.Campaign{}, fmt.Errorf("lookup campaign by domain: %w", err)
		}
	}

	c, err := r.store.GetCampaignBySlug(ctx, slug)
	if errors.Is(err, storage.ErrNotFound) {
		return engine.Campaign{}, ErrNotFound
	}
	if err != nil {
		return engine.Campaign{}, fmt.Errorf("lookup campaign by slug: %w", err)
	}
	if c.Bound() {
		return engine.Campaign{}, ErrNotFound
	}
	return active(c)
}

func active(c engine.Campaign) (engine.Campaign, error) {
	if !c.IsActive {
		return engine.Campaign{}, ErrNotFound
	}
	return c, nil
}

// Dispatch resolves the campaign, runs the detection layers, records the
// access log and returns the redirect target. The log entry is written even
// when the chosen target turns out to be unusable.
func (r *Resolver) Dispatch(ctx context.Context, req engine.Request) (Result, error) {
	c, err := r.Resolve(ctx, req.Host, req.Slug)
	if err != nil {
		return Result{}, err
	}

	o := r.pipeline.Evaluate(ctx, c, req)
	observability.Decisions.WithLabelValues(string(o.Decision.Layer)).Inc()
	if r.recorder != nil {
		r.recorder.Record(engine.BuildAccessLog(c, req, o))
	}

	log.Debug().
		Str("campaign_id", c.ID).
		Str("slug", c.Slug).
		Str("ip", o.ClientIP).
		Bool("blocked", o.Decision.Blocked).
		Str("reason", o.Decision.Reason).
		Msg("redirect decided")

	res := Result{Campaign: c, Outcome: o, Target: c.Target(o.Decision.Blocked)}
	if err := ValidateTarget(res.Target); err != nil {
		return res, fmt.Errorf("campaign %s: %w", c.ID, err)
	}
	return res, nil
}

// ValidateTarget accepts absolute http(s) URLs with a host.
func ValidateTarget(target string) error {
	if strings.TrimSpace(target) == "" {
		return fmt.Errorf("%w: empty", ErrInvalidTarget)
	}
	u, err := url.Parse(target)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTarget, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %q", ErrInvalidTarget, target)
	}
	return nil
}
