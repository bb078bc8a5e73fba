package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/leadpipe/internal/db"
	"github.com/sells-group/leadpipe/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool. The pool
// connects lazily, so an unreachable server surfaces on the first query or Ping.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS leads (
	id                 TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	place_id           TEXT NOT NULL UNIQUE,
	name               TEXT NOT NULL DEFAULT '',
	formatted_address  TEXT NOT NULL DEFAULT '',
	lat                DOUBLE PRECISION,
	lng                DOUBLE PRECISION,
	phone              TEXT NOT NULL DEFAULT '',
	website            TEXT NOT NULL DEFAULT '',
	domain             TEXT NOT NULL DEFAULT '',
	price_level        TEXT NOT NULL DEFAULT '',
	types              TEXT[] NOT NULL DEFAULT '{}',
	business_status    TEXT NOT NULL DEFAULT '',
	opening_hours      TEXT[] NOT NULL DEFAULT '{}',
	maps_url           TEXT NOT NULL DEFAULT '',
	rating             DOUBLE PRECISION,
	user_ratings_total INTEGER NOT NULL DEFAULT 0,
	raw_payload        JSONB,
	niche              TEXT NOT NULL DEFAULT '',
	location           TEXT NOT NULL DEFAULT '',
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_leads_niche_location ON leads(niche, location);
CREATE INDEX IF NOT EXISTS idx_leads_domain ON leads(domain) WHERE domain <> '';

CREATE TABLE IF NOT EXISTS lead_groups (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	name        TEXT NOT NULL UNIQUE,
	description TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS lead_group_members (
	group_id TEXT NOT NULL REFERENCES lead_groups(id) ON DELETE CASCADE,
	lead_id  TEXT NOT NULL REFERENCES leads(id) ON DELETE CASCADE,
	PRIMARY KEY (group_id, lead_id)
);

CREATE TABLE IF NOT EXISTS lead_search_runs (
	id             TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	niche          TEXT NOT NULL,
	location       TEXT NOT NULL,
	original_count INTEGER NOT NULL,
	deduped_count  INTEGER NOT NULL,
	saved_count    INTEGER NOT NULL,
	dry_run        BOOLEAN NOT NULL DEFAULT false,
	finished_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_lead_search_runs_pair ON lead_search_runs(niche, location, finished_at DESC);
`

// leadColumns are written on every upsert; id and created_at come from column defaults.
var leadColumns = []string{
	"place_id", "name", "formatted_address", "lat", "lng", "phone", "website", "domain",
	"price_level", "types", "business_status", "opening_hours", "maps_url", "rating",
	"user_ratings_total", "raw_payload", "niche", "location", "updated_at",
}

var leadUpsert = db.UpsertConfig{
	Table:        "leads",
	Columns:      leadColumns,
	ConflictKeys: []string{"place_id"},
	Returning:    []string{"id", "place_id"},
}

var runColumns = []string{
	"niche", "location", "original_count", "deduped_count", "saved_count", "dry_run", "finished_at",
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// UpsertLeads writes leads in one transaction keyed on place_id and returns the
// id of every inserted or updated row.
func (s *PostgresStore) UpsertLeads(ctx context.Context, leads []model.Lead) ([]model.UpsertedLead, error) {
	if len(leads) == 0 {
		return nil, nil
	}

	now := time.Now().UTC()
	rows := make([][]any, len(leads))
	for i := range leads {
		rows[i] = leadRow(&leads[i], now)
	}

	out := make([]model.UpsertedLead, 0, len(leads))
	_, err := db.BulkUpsertReturning(ctx, s.pool, leadUpsert, rows, func(r pgx.Rows) error {
		var u model.UpsertedLead
		if err := r.Scan(&u.ID, &u.PlaceID); err != nil {
			return err
		}
		out = append(out, u)
		return nil
	})
	if err != nil {
		return nil, eris.Wrap(err, "postgres: upsert leads")
	}
	return out, nil
}

func leadRow(l *model.Lead, now time.Time) []any {
	var raw any
	if len(l.RawPayload) > 0 {
		raw = json.RawMessage(l.RawPayload)
	}
	return []any{
		l.PlaceID, l.Name, l.FormattedAddress, l.Lat, l.Lng, l.Phone, l.Website, l.Domain,
		l.PriceLevel, nonNil(l.Types), l.BusinessStatus, nonNil(l.OpeningHours), l.MapsURL, l.Rating,
		l.UserRatingsTotal, raw, l.Niche, l.Location, now,
	}
}

func (s *PostgresStore) GetLeadByPlaceID(ctx context.Context, placeID string) (*model.Lead, error) {
	var l model.Lead
	var raw []byte
	err := s.pool.QueryRow(ctx,
		`SELECT id, place_id, name, formatted_address, lat, lng, phone, website, domain, price_level,
			types, business_status, opening_hours, maps_url, rating, user_ratings_total, raw_payload,
			niche, location
		FROM leads WHERE place_id = $1`,
		placeID,
	).Scan(&l.ID, &l.PlaceID, &l.Name, &l.FormattedAddress, &l.Lat, &l.Lng, &l.Phone, &l.Website,
		&l.Domain, &l.PriceLevel, &l.Types, &l.BusinessStatus, &l.OpeningHours, &l.MapsURL, &l.Rating,
		&l.UserRatingsTotal, &raw, &l.Niche, &l.Location)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get lead %s", placeID)
	}
	l.RawPayload = raw
	return &l, nil
}

func (s *PostgresStore) CountLeads(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM leads`).Scan(&n); err != nil {
		return 0, eris.Wrap(err, "postgres: count leads")
	}
	return n, nil
}

// GetGroupByName returns nil when no group has that name.
func (s *PostgresStore) GetGroupByName(ctx context.Context, name string) (*model.LeadGroup, error) {
	var g model.LeadGroup
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, description, created_at FROM lead_groups WHERE name = $1`,
		name,
	).Scan(&g.ID, &g.Name, &g.Description, &g.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get group %q", name)
	}
	return &g, nil
}

// CreateGroup returns ErrGroupExists when a concurrent writer created the name first.
func (s *PostgresStore) CreateGroup(ctx context.Context, name, description string) (*model.LeadGroup, error) {
	var g model.LeadGroup
	err := s.pool.QueryRow(ctx,
		`INSERT INTO lead_groups (name, description) VALUES ($1, $2)
		ON CONFLICT (name) DO NOTHING
		RETURNING id, name, description, created_at`,
		name, description,
	).Scan(&g.ID, &g.Name, &g.Description, &g.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrGroupExists
		}
		return nil, eris.Wrapf(err, "postgres: create group %q", name)
	}
	return &g, nil
}

// AddGroupMembers links leads to a group, ignoring existing memberships.
// It returns the number of new memberships.
func (s *PostgresStore) AddGroupMembers(ctx context.Context, groupID string, leadIDs []string) (int64, error) {
	if len(leadIDs) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO lead_group_members (group_id, lead_id)
		SELECT $1, unnest($2::text[])
		ON CONFLICT DO NOTHING`,
		groupID, leadIDs,
	)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: add members to group %s", groupID)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) InsertSearchRuns(ctx context.Context, runs []model.LeadSearchRun) error {
	rows := make([][]any, len(runs))
	for i, r := range runs {
		finished := r.FinishedAt
		if finished.IsZero() {
			finished = time.Now().UTC()
		}
		rows[i] = []any{r.Niche, r.Location, r.OriginalCount, r.DedupedCount, r.SavedCount, r.DryRun, finished}
	}
	if _, err := db.CopyFrom(ctx, s.pool, "lead_search_runs", runColumns, rows); err != nil {
		return eris.Wrap(err, "postgres: insert search runs")
	}
	return nil
}

func (s *PostgresStore) ListSearchRuns(ctx context.Context, filter RunFilter) ([]model.LeadSearchRun, error) {
	query := `SELECT id, niche, location, original_count, deduped_count, saved_count, dry_run, finished_at
		FROM lead_search_runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Niche != "" {
		query += fmt.Sprintf(` AND niche = $%d`, argIdx)
		args = append(args, filter.Niche)
		argIdx++
	}
	if filter.Location != "" {
		query += fmt.Sprintf(` AND location = $%d`, argIdx)
		args = append(args, filter.Location)
		argIdx++
	}
	query += fmt.Sprintf(` ORDER BY finished_at DESC LIMIT $%d`, argIdx)
	args = append(args, filter.limit())

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list search runs")
	}
	defer rows.Close()

	var runs []model.LeadSearchRun
	for rows.Next() {
		var r model.LeadSearchRun
		if err := rows.Scan(&r.ID, &r.Niche, &r.Location, &r.OriginalCount, &r.DedupedCount,
			&r.SavedCount, &r.DryRun, &r.FinishedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan search run")
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: iterate search runs")
}
