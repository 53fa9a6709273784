package storage

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"link-cloaker/internal/config"
	"link-cloaker/internal/engine"
)

var ErrNotFound = errors.New("campaign not found")

//go:embed schema.sql
var schemaSQL string

type Store struct {
	pool    *pgxpool.Pool
	channel string
}

// IndexedCampaign is a campaign joined with its normalized entry
// domain (empty for global campaigns).
type IndexedCampaign struct {
	engine.Campaign
	EntryDomain string
}

func New(ctx context.Context, cfg config.Config) (*Store, error) {
	dsn := cfg.DSN()
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres DSN: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.Postgres.MaxOpenConns)
	poolCfg.MinConns = int32(cfg.Postgres.MaxIdleConns)
	poolCfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	return &Store{pool: pool, channel: cfg.Listener.Channel}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Migrate applies the embedded schema. Statements are idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

const campaignColumns = `
	c.id, c.user_id, c.domain_id, c.name, c.slug,
	c.destination_url, c.safe_page_url,
	c.is_active, c.block_bots, c.block_desktop, c.blocked_countries, c.enable_origin_lock,
	c.created_at`

func scanCampaign(row pgx.Row, extra ...any) (engine.Campaign, error) {
	var (
		c        engine.Campaign
		domainID *string
	)
	dest := []any{
		&c.ID, &c.UserID, &domainID, &c.Name, &c.Slug,
		&c.DestinationURL, &c.SafePageURL,
		&c.IsActive, &c.BlockBots, &c.BlockDesktop, &c.BlockedCountries, &c.EnableOriginLock,
		&c.CreatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return engine.Campaign{}, err
	}
	if domainID != nil {
		c.DomainID = *domainID
	}
	return c, nil
}

// GetCampaignBySlugAndDomain finds the campaign bound to slug on the given
// normalized entry domain.
func (s *Store) GetCampaignBySlugAndDomain(ctx context.Context, slug, domain string) (engine.Campaign, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+campaignColumns+`
		FROM campaigns c
		JOIN domains d ON d.id = c.domain_id
		WHERE c.slug = $1 AND d.entry_domain = $2
		LIMIT 1`, slug, domain)
	c, err := scanCampaign(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return engine.Campaign{}, ErrNotFound
	}
	if err != nil {
		return engine.Campaign{}, fmt.Errorf("query campaign by slug and domain: %w", err)
	}
	return c, nil
}

// GetCampaignBySlug finds a campaign by slug alone, preferring the global
// (unbound) one when a bound campaign shares the slug.
func (s *Store) GetCampaignBySlug(ctx context.Context, slug string) (engine.Campaign, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+campaignColumns+`
		FROM campaigns c
		WHERE c.slug = $1
		ORDER BY c.domain_id NULLS FIRST
		LIMIT 1`, slug)
	c, err := scanCampaign(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return engine.Campaign{}, ErrNotFound
	}
	if err != nil {
		return engine.Campaign{}, fmt.Errorf("query campaign by slug: %w", err)
	}
	return c, nil
}

// LoadCampaigns loads every campaign with its entry domain. Inactive ones are
// included so lookups see them and refuse them.
func (s *Store) LoadCampaigns(ctx context.Context) ([]IndexedCampaign, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rows, err := s.pool.Query(ctx, `
		SELECT `+campaignColumns+`, COALESCE(d.entry_domain, '')
		FROM campaigns c
		LEFT JOIN domains d ON d.id = c.domain_id
		ORDER BY c.id`)
	if err != nil {
		return nil, fmt.Errorf("query campaigns: %w", err)
	}
	defer rows.Close()

	var out []IndexedCampaign
	for rows.Next() {
		var entry string
		c, err := scanCampaign(rows, &entry)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		out = append(out, IndexedCampaign{Campaign: c, EntryDomain: entry})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// AppendAccessLog inserts one audit record. The id is generated here and
// created_at is assigned by the database clock.
func (s *Store) AppendAccessLog(ctx context.Context, e engine.AccessLogEntry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO access_logs (
			id, campaign_id, user_agent, ip_address, referer, country,
			device_type, browser, os, is_bot, bot_reason, was_blocked, block_reason
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		uuid.NewString(), e.CampaignID, nullable(e.UserAgent), nullable(e.IPAddress),
		nullable(e.Referer), nullable(e.Country), nullable(e.DeviceType),
		nullable(e.Browser), nullable(e.OS), e.IsBot, nullable(e.BotReason),
		e.WasBlocked, nullable(e.BlockReason),
	)
	if err != nil {
		return fmt.Errorf("insert access log: %w", err)
	}
	return nil
}

// AccessLogs returns the newest entries of a campaign first.
func (s *Store) AccessLogs(ctx context.Context, campaignID string, limit int) ([]engine.AccessLogEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, campaign_id,
		       COALESCE(user_agent, ''), COALESCE(ip_address, ''), COALESCE(referer, ''),
		       COALESCE(country, ''), COALESCE(device_type, ''), COALESCE(browser, ''),
		       COALESCE(os, ''), is_bot, COALESCE(bot_reason, ''), was_blocked,
		       COALESCE(block_reason, ''), created_at
		FROM access_logs
		WHERE campaign_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, campaignID, limit)
	if err != nil {
		return nil, fmt.Errorf("query access logs: %w", err)
	}
	defer rows.Close()

	out := []engine.AccessLogEntry{}
	for rows.Next() {
		var e engine.AccessLogEntry
		if err := rows.Scan(
			&e.ID, &e.CampaignID, &e.UserAgent, &e.IPAddress, &e.Referer,
			&e.Country, &e.DeviceType, &e.Browser, &e.OS, &e.IsBot, &e.BotReason,
			&e.WasBlocked, &e.BlockReason, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan access log: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) CampaignStats(ctx context.Context, campaignID string) (engine.CampaignStats, error) {
	var st engine.CampaignStats
	err := s.pool.QueryRow(ctx, `
		SELECT count(*),
		       count(*) FILTER (WHERE was_blocked),
		       count(*) FILTER (WHERE NOT is_bot)
		FROM access_logs
		WHERE campaign_id = $1`, campaignID).Scan(&st.Total, &st.Blocked, &st.Humans)
	if err != nil {
		return engine.CampaignStats{}, fmt.Errorf("query campaign stats: %w", err)
	}
	return st, nil
}

func (s *Store) UserStats(ctx context.Context, userID string) (engine.UserStats, error) {
	var st engine.UserStats
	err := s.pool.QueryRow(ctx, `
		SELECT (SELECT count(*) FROM campaigns WHERE user_id = $1),
		       count(l.id),
		       count(l.id) FILTER (WHERE l.was_blocked),
		       count(l.id) FILTER (WHERE NOT l.is_bot)
		FROM campaigns c
		LEFT JOIN access_logs l ON l.campaign_id = c.id
		WHERE c.user_id = $1`, userID).Scan(&st.TotalCampaigns, &st.TotalClicks, &st.BlockedBots, &st.HumanVisitors)
	if err != nil {
		return engine.UserStats{}, fmt.Errorf("query user stats: %w", err)
	}
	return st, nil
}

func (s *Store) ListenChannel() string {
	if s.channel == "" {
		return "campaign_change"
	}
	return s.channel
}

func (s *Store) PgxPool() *pgxpool.Pool {
	if s.pool == nil {
		panic(errors.New("pgx pool is nil"))
	}
	return s.pool
}
