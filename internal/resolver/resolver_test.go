package resolver

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"link-cloaker/internal/engine"
	"link-cloaker/internal/storage"
)

const (
	iphoneUA = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1"
	botUA    = "Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)"
)

type captureRecorder struct{ entries []engine.AccessLogEntry }

func (c *captureRecorder) Record(e engine.AccessLogEntry) bool {
	c.entries = append(c.entries, e)
	return true
}

type brokenStore struct{}

func (brokenStore) GetCampaignBySlugAndDomain(context.Context, string, string) (engine.Campaign, error) {
	return engine.Campaign{}, errors.New("connection refused")
}

func (brokenStore) GetCampaignBySlug(context.Context, string) (engine.Campaign, error) {
	return engine.Campaign{}, errors.New("connection refused")
}

func fixture(t *testing.T) (*storage.MemoryStore, *captureRecorder, *Resolver) {
	t.Helper()
	m := storage.NewMemoryStore()
	_, err := m.AddDomain(storage.Domain{ID: "dom-a", UserID: "u1", EntryDomain: "a.example.com"})
	require.NoError(t, err)
	_, err = m.AddDomain(storage.Domain{ID: "dom-b", UserID: "u1", EntryDomain: "b.example.com"})
	require.NoError(t, err)

	campaigns := []engine.Campaign{
		{ID: "bound-a", DomainID: "dom-a", Slug: "promo", IsActive: true, BlockBots: true,
			DestinationURL: "https://offer.example.com/a", SafePageURL: "https://safe.example.com/a"},
		{ID: "global", Slug: "global", IsActive: true, BlockBots: true,
			DestinationURL: "https://offer.example.com/g", SafePageURL: "https://safe.example.com/g"},
		{ID: "shared-global", Slug: "shared", IsActive: true,
			DestinationURL: "https://offer.example.com/sg", SafePageURL: "https://safe.example.com/sg"},
		{ID: "shared-b", DomainID: "dom-b", Slug: "shared", IsActive: true,
			DestinationURL: "https://offer.example.com/sb", SafePageURL: "https://safe.example.com/sb"},
		{ID: "paused", Slug: "paused", IsActive: false,
			DestinationURL: "https://offer.example.com/p", SafePageURL: "https://safe.example.com/p"},
		{ID: "paused-b", DomainID: "dom-b", Slug: "global", IsActive: false,
			DestinationURL: "https://offer.example.com/pb", SafePageURL: "https://safe.example.com/pb"},
		{ID: "broken", Slug: "broken", IsActive: true,
			DestinationURL: "", SafePageURL: "https://safe.example.com/x"},
	}
	for _, c := range campaigns {
		_, err := m.AddCampaign(c)
		require.NoError(t, err)
	}
	rec := &captureRecorder{}
	return m, rec, New(m, engine.NewPipeline(nil), rec)
}

func TestNormalizeHost(t *testing.T) {
	tests := map[string]string{
		"WWW.Example.com:8080":  "example.com",
		"example.com":           "example.com",
		"[::1]:443":             "::1",
		"[::1]":                 "::1",
		"":                      "",
		" www.a.example.com ":   "a.example.com",
		"promo.example.com.":    "promo.example.com",
		"Promo.Example.com.:80": "promo.example.com",
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizeHost(in), in)
	}
}

func TestResolve(t *testing.T) {
	_, _, r := fixture(t)

	tests := []struct {
		name    string
		host    string
		slug    string
		wantID  string
		wantErr error
	}{
		{"bound on its domain", "a.example.com", "promo", "bound-a", nil},
		{"bound via www and port", "WWW.a.example.com:443", "promo", "bound-a", nil},
		{"bound via fully qualified host", "a.example.com.", "promo", "bound-a", nil},
		{"bound via other domain", "b.example.com", "promo", "", ErrNotFound},
		{"bound via missing host", "", "promo", "", ErrNotFound},
		{"global on any host", "whatever.test", "global", "global", nil},
		{"global without host", "", "global", "global", nil},
		{"domain binding wins", "b.example.com", "shared", "shared-b", nil},
		{"global fallback for shared slug", "a.example.com", "shared", "shared-global", nil},
		{"inactive global", "a.example.com", "paused", "", ErrNotFound},
		{"inactive bound does not fall back", "b.example.com", "global", "", ErrNotFound},
		{"unknown slug", "a.example.com", "nope", "", ErrNotFound},
		{"empty slug", "a.example.com", "", "", ErrNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c, err := r.Resolve(context.Background(), tc.host, tc.slug)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.wantID, c.ID)
		})
	}
}

func TestResolve_ThroughCampaignIndex(t *testing.T) {
	m, rec, _ := fixture(t)
	ix := storage.NewCampaignIndex(m)
	require.NoError(t, ix.Refresh(context.Background()))
	r := New(ix, engine.NewPipeline(nil), rec)

	c, err := r.Resolve(context.Background(), "a.example.com", "promo")
	require.NoError(t, err)
	assert.Equal(t, "bound-a", c.ID)

	_, err = r.Resolve(context.Background(), "b.example.com", "promo")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = r.Resolve(context.Background(), "b.example.com", "global")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolve_StoreError(t *testing.T) {
	r := New(brokenStore{}, engine.NewPipeline(nil), nil)
	_, err := r.Resolve(context.Background(), "a.example.com", "promo")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestDispatch(t *testing.T) {
	_, rec, r := fixture(t)
	ctx := context.Background()

	res, err := r.Dispatch(ctx, engine.Request{
		Host: "a.example.com", Slug: "promo", UserAgent: iphoneUA,
		URL: "https://a.example.com/r/promo", RemoteAddr: "198.51.100.7:5555",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://offer.example.com/a", res.Target)
	assert.False(t, res.Outcome.Decision.Blocked)

	res, err = r.Dispatch(ctx, engine.Request{
		Host: "a.example.com", Slug: "promo", UserAgent: botUA,
		URL: "https://a.example.com/r/promo", ForwardedFor: "203.0.113.1, 10.0.0.1",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://safe.example.com/a", res.Target)
	assert.Equal(t, engine.LayerBot, res.Outcome.Decision.Layer)

	require.Len(t, rec.entries, 2)
	assert.Equal(t, "bound-a", rec.entries[1].CampaignID)
	assert.Equal(t, "203.0.113.1", rec.entries[1].IPAddress)
	assert.True(t, rec.entries[1].WasBlocked)
	assert.Equal(t, "Layer 1 (Bot): Generic Bot", rec.entries[1].BlockReason)
}

func TestDispatch_NotFoundWritesNoLog(t *testing.T) {
	_, rec, r := fixture(t)
	_, err := r.Dispatch(context.Background(), engine.Request{Host: "b.example.com", Slug: "promo", UserAgent: iphoneUA})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Empty(t, rec.entries)
}

func TestDispatch_InvalidTarget(t *testing.T) {
	_, rec, r := fixture(t)
	_, err := r.Dispatch(context.Background(), engine.Request{Host: "x.test", Slug: "broken", UserAgent: iphoneUA})
	assert.ErrorIs(t, err, ErrInvalidTarget)
	assert.Len(t, rec.entries, 1, "the visit is still recorded")
}

func TestValidateTarget(t *testing.T) {
	assert.NoError(t, ValidateTarget("https://example.com/path?q=1"))
	assert.NoError(t, ValidateTarget("http://example.com"))
	for _, bad := range []string{"", "  ", "/relative", "javascript:alert(1)", "ftp://example.com", "https://"} {
		assert.ErrorIs(t, ValidateTarget(bad), ErrInvalidTarget, bad)
	}
}
