package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/leadpipe/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// One writer; concurrent upsert chunks would otherwise hit SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS leads (
	id                 TEXT PRIMARY KEY,
	place_id           TEXT NOT NULL UNIQUE,
	name               TEXT NOT NULL DEFAULT '',
	formatted_address  TEXT NOT NULL DEFAULT '',
	lat                REAL,
	lng                REAL,
	phone              TEXT NOT NULL DEFAULT '',
	website            TEXT NOT NULL DEFAULT '',
	domain             TEXT NOT NULL DEFAULT '',
	price_level        TEXT NOT NULL DEFAULT '',
	types              TEXT NOT NULL DEFAULT '[]',
	business_status    TEXT NOT NULL DEFAULT '',
	opening_hours      TEXT NOT NULL DEFAULT '[]',
	maps_url           TEXT NOT NULL DEFAULT '',
	rating             REAL,
	user_ratings_total INTEGER NOT NULL DEFAULT 0,
	raw_payload        TEXT,
	niche              TEXT NOT NULL DEFAULT '',
	location           TEXT NOT NULL DEFAULT '',
	created_at         DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at         DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_leads_niche_location ON leads(niche, location);

CREATE TABLE IF NOT EXISTS lead_groups (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL UNIQUE,
	description TEXT NOT NULL DEFAULT '',
	created_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS lead_group_members (
	group_id TEXT NOT NULL REFERENCES lead_groups(id) ON DELETE CASCADE,
	lead_id  TEXT NOT NULL REFERENCES leads(id) ON DELETE CASCADE,
	PRIMARY KEY (group_id, lead_id)
);

CREATE TABLE IF NOT EXISTS lead_search_runs (
	id             TEXT PRIMARY KEY,
	niche          TEXT NOT NULL,
	location       TEXT NOT NULL,
	original_count INTEGER NOT NULL,
	deduped_count  INTEGER NOT NULL,
	saved_count    INTEGER NOT NULL,
	dry_run        BOOLEAN NOT NULL DEFAULT 0,
	finished_at    DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_lead_search_runs_pair ON lead_search_runs(niche, location, finished_at);
`

const sqliteUpsertLead = `
INSERT INTO leads (
	id, place_id, name, formatted_address, lat, lng, phone, website, domain, price_level,
	types, business_status, opening_hours, maps_url, rating, user_ratings_total, raw_payload,
	niche, location, updated_at
) VALUES (
	:id, :place_id, :name, :formatted_address, :lat, :lng, :phone, :website, :domain, :price_level,
	:types, :business_status, :opening_hours, :maps_url, :rating, :user_ratings_total, :raw_payload,
	:niche, :location, :updated_at
)
ON CONFLICT(place_id) DO UPDATE SET
	name = excluded.name,
	formatted_address = excluded.formatted_address,
	lat = excluded.lat,
	lng = excluded.lng,
	phone = excluded.phone,
	website = excluded.website,
	domain = excluded.domain,
	price_level = excluded.price_level,
	types = excluded.types,
	business_status = excluded.business_status,
	opening_hours = excluded.opening_hours,
	maps_url = excluded.maps_url,
	rating = excluded.rating,
	user_ratings_total = excluded.user_ratings_total,
	raw_payload = excluded.raw_payload,
	niche = excluded.niche,
	location = excluded.location,
	updated_at = excluded.updated_at
RETURNING id, place_id`

// sqliteLead is the on-disk shape of a lead: list columns are JSON text.
type sqliteLead struct {
	ID               string         `db:"id"`
	PlaceID          string         `db:"place_id"`
	Name             string         `db:"name"`
	FormattedAddress string         `db:"formatted_address"`
	Lat              *float64       `db:"lat"`
	Lng              *float64       `db:"lng"`
	Phone            string         `db:"phone"`
	Website          string         `db:"website"`
	Domain           string         `db:"domain"`
	PriceLevel       string         `db:"price_level"`
	Types            string         `db:"types"`
	BusinessStatus   string         `db:"business_status"`
	OpeningHours     string         `db:"opening_hours"`
	MapsURL          string         `db:"maps_url"`
	Rating           *float64       `db:"rating"`
	UserRatingsTotal int            `db:"user_ratings_total"`
	RawPayload       sql.NullString `db:"raw_payload"`
	Niche            string         `db:"niche"`
	Location         string         `db:"location"`
	UpdatedAt        time.Time      `db:"updated_at"`
}

func toSQLiteLead(l model.Lead, id string, now time.Time) (sqliteLead, error) {
	types, err := json.Marshal(nonNil(l.Types))
	if err != nil {
		return sqliteLead{}, err
	}
	hours, err := json.Marshal(nonNil(l.OpeningHours))
	if err != nil {
		return sqliteLead{}, err
	}
	row := sqliteLead{
		ID:               id,
		PlaceID:          l.PlaceID,
		Name:             l.Name,
		FormattedAddress: l.FormattedAddress,
		Lat:              l.Lat,
		Lng:              l.Lng,
		Phone:            l.Phone,
		Website:          l.Website,
		Domain:           l.Domain,
		PriceLevel:       l.PriceLevel,
		Types:            string(types),
		BusinessStatus:   l.BusinessStatus,
		OpeningHours:     string(hours),
		MapsURL:          l.MapsURL,
		Rating:           l.Rating,
		UserRatingsTotal: l.UserRatingsTotal,
		Niche:            l.Niche,
		Location:         l.Location,
		UpdatedAt:        now,
	}
	if len(l.RawPayload) > 0 {
		row.RawPayload = sql.NullString{String: string(l.RawPayload), Valid: true}
	}
	return row, nil
}

func (r sqliteLead) toModel() (model.Lead, error) {
	l := model.Lead{
		ID:               r.ID,
		PlaceID:          r.PlaceID,
		Name:             r.Name,
		FormattedAddress: r.FormattedAddress,
		Lat:              r.Lat,
		Lng:              r.Lng,
		Phone:            r.Phone,
		Website:          r.Website,
		Domain:           r.Domain,
		PriceLevel:       r.PriceLevel,
		BusinessStatus:   r.BusinessStatus,
		MapsURL:          r.MapsURL,
		Rating:           r.Rating,
		UserRatingsTotal: r.UserRatingsTotal,
		Niche:            r.Niche,
		Location:         r.Location,
	}
	if err := json.Unmarshal([]byte(r.Types), &l.Types); err != nil {
		return l, err
	}
	if err := json.Unmarshal([]byte(r.OpeningHours), &l.OpeningHours); err != nil {
		return l, err
	}
	if r.RawPayload.Valid {
		l.RawPayload = json.RawMessage(r.RawPayload.String)
	}
	return l, nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// UpsertLeads writes leads in one transaction keyed on place_id. A place_id
// repeated within the batch is written twice and reported once.
func (s *SQLiteStore) UpsertLeads(ctx context.Context, leads []model.Lead) ([]model.UpsertedLead, error) {
	if len(leads) == 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareNamedContext(ctx, sqliteUpsertLead)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: prepare upsert")
	}
	defer stmt.Close() //nolint:errcheck

	now := time.Now().UTC()
	seen := make(map[string]int, len(leads))
	out := make([]model.UpsertedLead, 0, len(leads))
	for _, l := range leads {
		row, err := toSQLiteLead(l, uuid.NewString(), now)
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: encode lead %s", l.PlaceID)
		}
		var u model.UpsertedLead
		if err := stmt.QueryRowxContext(ctx, row).StructScan(&u); err != nil {
			return nil, eris.Wrapf(err, "sqlite: upsert lead %s", l.PlaceID)
		}
		if i, ok := seen[u.PlaceID]; ok {
			out[i] = u
			continue
		}
		seen[u.PlaceID] = len(out)
		out = append(out, u)
	}

	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: commit upsert")
	}
	return out, nil
}

func (s *SQLiteStore) GetLeadByPlaceID(ctx context.Context, placeID string) (*model.Lead, error) {
	var row sqliteLead
	err := s.db.GetContext(ctx, &row,
		`SELECT id, place_id, name, formatted_address, lat, lng, phone, website, domain, price_level,
			types, business_status, opening_hours, maps_url, rating, user_ratings_total, raw_payload,
			niche, location, updated_at
		FROM leads WHERE place_id = ?`, placeID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: get lead %s", placeID)
	}
	l, err := row.toModel()
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: decode lead %s", placeID)
	}
	return &l, nil
}

func (s *SQLiteStore) CountLeads(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.GetContext(ctx, &n, `SELECT count(*) FROM leads`); err != nil {
		return 0, eris.Wrap(err, "sqlite: count leads")
	}
	return n, nil
}

func (s *SQLiteStore) GetGroupByName(ctx context.Context, name string) (*model.LeadGroup, error) {
	var g model.LeadGroup
	err := s.db.GetContext(ctx, &g,
		`SELECT id, name, description, created_at FROM lead_groups WHERE name = ?`, name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: get group %q", name)
	}
	return &g, nil
}

func (s *SQLiteStore) CreateGroup(ctx context.Context, name, description string) (*model.LeadGroup, error) {
	g := model.LeadGroup{
		ID:          uuid.NewString(),
		Name:        name,
		Description: description,
		CreatedAt:   time.Now().UTC(),
	}
	res, err := s.db.NamedExecContext(ctx,
		`INSERT INTO lead_groups (id, name, description, created_at)
		VALUES (:id, :name, :description, :created_at)
		ON CONFLICT(name) DO NOTHING`, g)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: create group %q", name)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return nil, ErrGroupExists
	}
	return &g, nil
}

func (s *SQLiteStore) AddGroupMembers(ctx context.Context, groupID string, leadIDs []string) (int64, error) {
	if len(leadIDs) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	var added int64
	for _, id := range leadIDs {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO lead_group_members (group_id, lead_id) VALUES (?, ?) ON CONFLICT DO NOTHING`,
			groupID, id)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: add member %s to group %s", id, groupID)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: rows affected")
		}
		added += n
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit members")
	}
	return added, nil
}

func (s *SQLiteStore) InsertSearchRuns(ctx context.Context, runs []model.LeadSearchRun) error {
	if len(runs) == 0 {
		return nil
	}
	rows := make([]model.LeadSearchRun, len(runs))
	for i, r := range runs {
		r.ID = uuid.NewString()
		if r.FinishedAt.IsZero() {
			r.FinishedAt = time.Now().UTC()
		}
		rows[i] = r
	}
	_, err := s.db.NamedExecContext(ctx,
		`INSERT INTO lead_search_runs
			(id, niche, location, original_count, deduped_count, saved_count, dry_run, finished_at)
		VALUES
			(:id, :niche, :location, :original_count, :deduped_count, :saved_count, :dry_run, :finished_at)`,
		rows)
	return eris.Wrap(err, "sqlite: insert search runs")
}

func (s *SQLiteStore) ListSearchRuns(ctx context.Context, filter RunFilter) ([]model.LeadSearchRun, error) {
	query := `SELECT id, niche, location, original_count, deduped_count, saved_count, dry_run, finished_at
		FROM lead_search_runs WHERE 1=1`
	args := []any{}

	if filter.Niche != "" {
		query += ` AND niche = ?`
		args = append(args, filter.Niche)
	}
	if filter.Location != "" {
		query += ` AND location = ?`
		args = append(args, filter.Location)
	}
	query += ` ORDER BY finished_at DESC LIMIT ?`
	args = append(args, filter.limit())

	var runs []model.LeadSearchRun
	if err := s.db.SelectContext(ctx, &runs, query, args...); err != nil {
		return nil, eris.Wrap(err, "sqlite: list search runs")
	}
	return runs, nil
}
