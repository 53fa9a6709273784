package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"link-cloaker/internal/engine"
)

var (
	ErrSlugTaken     = errors.New("slug already in use")
	ErrDomainTaken   = errors.New("entry domain already registered")
	ErrUnknownDomain = errors.New("unknown domain")
)

type Domain struct {
	ID          string
	UserID      string
	EntryDomain string
}

// MemoryStore keeps domains, campaigns and access logs in process. It backs
// local runs and tests, and enforces the same slug uniqueness as the schema.
type MemoryStore struct {
	mu        sync.RWMutex
	domains   map[string]Domain
	campaigns []engine.Campaign
	logs      []engine.AccessLogEntry
	lastTS    time.Time
	now       func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		domains: make(map[string]Domain),
		now:     time.Now,
	}
}

// tick returns a timestamp strictly after every one handed out before.
func (m *MemoryStore) tick() time.Time {
	t := m.now().UTC()
	if !t.After(m.lastTS) {
		t = m.lastTS.Add(time.Microsecond)
	}
	m.lastTS = t
	return t
}

func (m *MemoryStore) AddDomain(d Domain) (Domain, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d.EntryDomain = NormalizeDomain(d.EntryDomain)
	if d.EntryDomain == "" {
		return Domain{}, fmt.Errorf("entry domain is required")
	}
	for _, existing := range m.domains {
		if existing.EntryDomain == d.EntryDomain {
			return Domain{}, fmt.Errorf("%w: %s", ErrDomainTaken, d.EntryDomain)
		}
	}
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	m.domains[d.ID] = d
	return d, nil
}

func (m *MemoryStore) AddCampaign(c engine.Campaign) (engine.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c.Slug == "" {
		return engine.Campaign{}, fmt.Errorf("slug is required")
	}
	if c.Bound() {
		if _, ok := m.domains[c.DomainID]; !ok {
			return engine.Campaign{}, fmt.Errorf("%w: %s", ErrUnknownDomain, c.DomainID)
		}
	}
	for _, existing := range m.campaigns {
		if existing.Slug == c.Slug && existing.DomainID == c.DomainID {
			return engine.Campaign{}, fmt.Errorf("%w: %s", ErrSlugTaken, c.Slug)
		}
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = m.tick()
	}
	m.campaigns = append(m.campaigns, c)
	return c, nil
}

func (m *MemoryStore) GetCampaignBySlugAndDomain(_ context.Context, slug, domain string) (engine.Campaign, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	domain = NormalizeDomain(domain)
	for _, c := range m.campaigns {
		if c.Slug != slug || !c.Bound() {
			continue
		}
		if m.domains[c.DomainID].EntryDomain == domain {
			return c, nil
		}
	}
	return engine.Campaign{}, ErrNotFound
}

func (m *MemoryStore) GetCampaignBySlug(_ context.Context, slug string) (engine.Campaign, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var (
		found engine.Campaign
		ok    bool
	)
	for _, c := range m.campaigns {
		if c.Slug != slug {
			continue
		}
		if !c.Bound() {
			return c, nil
		}
		if !ok {
			found, ok = c, true
		}
	}
	if !ok {
		return engine.Campaign{}, ErrNotFound
	}
	return found, nil
}

func (m *MemoryStore) LoadCampaigns(_ context.Context) ([]IndexedCampaign, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []IndexedCampaign
	for _, c := range m.campaigns {
		out = append(out, IndexedCampaign{Campaign: c, EntryDomain: m.domains[c.DomainID].EntryDomain})
	}
	return out, nil
}

func (m *MemoryStore) campaignExists(id string) bool {
	for _, c := range m.campaigns {
		if c.ID == id {
			return true
		}
	}
	return false
}

func (m *MemoryStore) AppendAccessLog(_ context.Context, e engine.AccessLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.campaignExists(e.CampaignID) {
		return fmt.Errorf("insert access log: %w", ErrNotFound)
	}
	e.ID = uuid.NewString()
	e.CreatedAt = m.tick()
	m.logs = append(m.logs, e)
	return nil
}

func (m *MemoryStore) AccessLogs(_ context.Context, campaignID string, limit int) ([]engine.AccessLogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []engine.AccessLogEntry{}
	for i := len(m.logs) - 1; i >= 0 && len(out) < limit; i-- {
		if m.logs[i].CampaignID == campaignID {
			out = append(out, m.logs[i])
		}
	}
	return out, nil
}

func (m *MemoryStore) CampaignStats(_ context.Context, campaignID string) (engine.CampaignStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var st engine.CampaignStats
	for _, e := range m.logs {
		if e.CampaignID != campaignID {
			continue
		}
		st.Total++
		if e.WasBlocked {
			st.Blocked++
		}
		if !e.IsBot {
			st.Humans++
		}
	}
	return st, nil
}

func (m *MemoryStore) UserStats(_ context.Context, userID string) (engine.UserStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	owned := map[string]bool{}
	for _, c := range m.campaigns {
		if c.UserID == userID {
			owned[c.ID] = true
		}
	}
	st := engine.UserStats{TotalCampaigns: int64(len(owned))}
	for _, e := range m.logs {
		if !owned[e.CampaignID] {
			continue
		}
		st.TotalClicks++
		if e.WasBlocked {
			st.BlockedBots++
		}
		if !e.IsBot {
			st.HumanVisitors++
		}
	}
	return st, nil
}

type seedFile struct {
	Domains []struct {
		ID          string `yaml:"id"`
		UserID      string `yaml:"user_id"`
		EntryDomain string `yaml:"entry_domain"`
	} `yaml:"domains"`
	Campaigns []struct {
		ID               string   `yaml:"id"`
		UserID           string   `yaml:"user_id"`
		DomainID         string   `yaml:"domain_id"`
		Name             string   `yaml:"name"`
		Slug             string   `yaml:"slug"`
		DestinationURL   string   `yaml:"destination_url"`
		SafePageURL      string   `yaml:"safe_page_url"`
		IsActive         *bool    `yaml:"is_active"`
		BlockBots        *bool    `yaml:"block_bots"`
		BlockDesktop     bool     `yaml:"block_desktop"`
		BlockedCountries []string `yaml:"blocked_countries"`
		EnableOriginLock bool     `yaml:"enable_origin_lock"`
	} `yaml:"campaigns"`
}

func orTrue(b *bool) bool { return b == nil || *b }

// LoadSeedFile reads domains and campaigns from a YAML file. is_active and
// block_bots default to true like the database columns.
func (m *MemoryStore) LoadSeedFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read seed file: %w", err)
	}
	return m.LoadSeed(raw)
}

func (m *MemoryStore) LoadSeed(raw []byte) error {
	var seed seedFile
	if err := yaml.Unmarshal(raw, &seed); err != nil {
		return fmt.Errorf("decode seed: %w", err)
	}
	for _, d := range seed.Domains {
		if _, err := m.AddDomain(Domain{ID: d.ID, UserID: d.UserID, EntryDomain: d.EntryDomain}); err != nil {
			return err
		}
	}
	for _, s := range seed.Campaigns {
		countries := make([]string, 0, len(s.BlockedCountries))
		for _, cc := range s.BlockedCountries {
			countries = append(countries, strings.ToUpper(strings.TrimSpace(cc)))
		}
		_, err := m.AddCampaign(engine.Campaign{
			ID:               s.ID,
			UserID:           s.UserID,
			DomainID:         s.DomainID,
			Name:             s.Name,
			Slug:             s.Slug,
			DestinationURL:   s.DestinationURL,
			SafePageURL:      s.SafePageURL,
			IsActive:         orTrue(s.IsActive),
			BlockBots:        orTrue(s.BlockBots),
			BlockDesktop:     s.BlockDesktop,
			BlockedCountries: countries,
			EnableOriginLock: s.EnableOriginLock,
		})
		if err != nil {
			return err
		}
	}
	return nil
}
