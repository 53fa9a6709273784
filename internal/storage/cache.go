package storage

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"link-cloaker/internal/cache"
	"link-cloaker/internal/engine"
	"link-cloaker/internal/observability"
)

// Source is what the campaign index is built from. Both Store and
// MemoryStore satisfy it.
type Source interface {
	LoadCampaigns(ctx context.Context) ([]IndexedCampaign, error)
	GetCampaignBySlugAndDomain(ctx context.Context, slug, domain string) (engine.Campaign, error)
	GetCampaignBySlug(ctx context.Context, slug string) (engine.Campaign, error)
}

type domainKey struct{ slug, domain string }

type campaignSet struct {
	bound  map[domainKey]engine.Campaign
	bySlug map[string]engine.Campaign
	size   int
}

// CampaignIndex serves slug lookups from an in-memory snapshot of all
// campaigns. Until the first Refresh it reads through to the source.
type CampaignIndex struct {
	src  Source
	snap cache.Snapshot[*campaignSet]
}

func NewCampaignIndex(src Source) *CampaignIndex {
	return &CampaignIndex{src: src}
}

// NormalizeDomain lowercases a host name and drops a trailing root dot and
// a leading "www.".
func NormalizeDomain(d string) string {
	d = strings.ToLower(strings.TrimSpace(d))
	d = strings.TrimSuffix(d, ".")
	return strings.TrimPrefix(d, "www.")
}

// Update rebuilds the snapshot from rows. A slug shared by a global and a
// bound campaign resolves to the global one on slug-only lookups.
func (ix *CampaignIndex) Update(rows []IndexedCampaign) {
	set := &campaignSet{
		bound:  make(map[domainKey]engine.Campaign, len(rows)),
		bySlug: make(map[string]engine.Campaign, len(rows)),
		size:   len(rows),
	}
	for _, r := range rows {
		if r.Bound() {
			set.bound[domainKey{r.Slug, NormalizeDomain(r.EntryDomain)}] = r.Campaign
			continue
		}
		set.bySlug[r.Slug] = r.Campaign
	}
	for _, r := range rows {
		if _, ok := set.bySlug[r.Slug]; !ok {
			set.bySlug[r.Slug] = r.Campaign
		}
	}
	ix.snap.Store(set)
	observability.CampaignIndexSize.Set(float64(set.size))
}

func (ix *CampaignIndex) Refresh(ctx context.Context) error {
	rows, err := ix.src.LoadCampaigns(ctx)
	if err != nil {
		return err
	}
	ix.Update(rows)
	return nil
}

func (ix *CampaignIndex) Len() int {
	set, ok := ix.snap.Load()
	if !ok {
		return 0
	}
	return set.size
}

func (ix *CampaignIndex) GetCampaignBySlugAndDomain(ctx context.Context, slug, domain string) (engine.Campaign, error) {
	set, ok := ix.snap.Load()
	if !ok {
		return ix.src.GetCampaignBySlugAndDomain(ctx, slug, domain)
	}
	c, ok := set.bound[domainKey{slug, NormalizeDomain(domain)}]
	if !ok {
		return engine.Campaign{}, ErrNotFound
	}
	return c, nil
}

func (ix *CampaignIndex) GetCampaignBySlug(ctx context.Context, slug string) (engine.Campaign, error) {
	set, ok := ix.snap.Load()
	if !ok {
		return ix.src.GetCampaignBySlug(ctx, slug)
	}
	c, ok := set.bySlug[slug]
	if !ok {
		return engine.Campaign{}, ErrNotFound
	}
	return c, nil
}

// StartRefresher reloads the index on a fixed period until ctx ends. A
// non-positive period disables it.
func (ix *CampaignIndex) StartRefresher(ctx context.Context, every time.Duration) {
	if every <= 0 {
		return
	}
	go func() {
		t := time.NewTicker(every)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if err := ix.Refresh(ctx); err != nil {
					log.Error().Err(err).Msg("periodic campaign refresh")
				}
			}
		}
	}()
}
