package db

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var leadsCfg = UpsertConfig{
	Table:        "leads",
	Columns:      []string{"place_id", "name"},
	ConflictKeys: []string{"place_id"},
	Returning:    []string{"id", "place_id"},
}

func TestBulkUpsertReturning_EmptyRows(t *testing.T) {
	n, err := BulkUpsertReturning(context.Background(), nil, leadsCfg, nil, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestBulkUpsertReturning_ConfigErrors(t *testing.T) {
	rows := [][]any{{"p1", "a"}}
	tests := []struct {
		name string
		cfg  UpsertConfig
		want string
	}{
		{"no columns", UpsertConfig{Table: "leads", ConflictKeys: []string{"place_id"}, Returning: []string{"id"}}, "no columns specified"},
		{"no conflict keys", UpsertConfig{Table: "leads", Columns: []string{"place_id"}, Returning: []string{"id"}}, "no conflict keys specified"},
		{"no returning", UpsertConfig{Table: "leads", Columns: []string{"place_id"}, ConflictKeys: []string{"place_id"}}, "no returning columns specified"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BulkUpsertReturning(context.Background(), nil, tt.cfg, rows, nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestBulkUpsertReturning_Success(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec("CREATE TEMP TABLE").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_leads"}, []string{"place_id", "name"}).WillReturnResult(2)
	mock.ExpectExec("DELETE FROM").WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectQuery(`INSERT INTO "leads"`).
		WillReturnRows(pgxmock.NewRows([]string{"id", "place_id"}).
			AddRow("id-1", "p1").
			AddRow("id-2", "p2"))
	mock.ExpectCommit()

	var got []string
	n, err := BulkUpsertReturning(context.Background(), mock, leadsCfg,
		[][]any{{"p1", "a"}, {"p2", "b"}},
		func(r pgx.Rows) error {
			var id, placeID string
			if err := r.Scan(&id, &placeID); err != nil {
				return err
			}
			got = append(got, id+":"+placeID)
			return nil
		})

	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Equal(t, []string{"id-1:p1", "id-2:p2"}, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkUpsertReturning_CopyError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec("CREATE TEMP TABLE").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_leads"}, []string{"place_id", "name"}).
		WillReturnError(errors.New("copy failed"))
	mock.ExpectRollback()

	_, err = BulkUpsertReturning(context.Background(), mock, leadsCfg, [][]any{{"p1", "a"}}, func(pgx.Rows) error { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COPY into temp table for leads")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertSQL(t *testing.T) {
	sql := upsertSQL(leadsCfg, "_tmp_upsert_leads")
	assert.Equal(t,
		`INSERT INTO "leads" ("place_id", "name") SELECT "place_id", "name" FROM "_tmp_upsert_leads" ON CONFLICT ("place_id") DO UPDATE SET "name" = EXCLUDED."name" RETURNING "id", "place_id"`,
		sql)
}

func TestDedupSQL(t *testing.T) {
	sql := dedupSQL("_tmp_upsert_leads", []string{"place_id"})
	assert.Equal(t,
		`DELETE FROM "_tmp_upsert_leads" a USING "_tmp_upsert_leads" b WHERE a.ctid < b.ctid AND a."place_id" = b."place_id"`,
		sql)
}

func TestIdentifier(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"leads", `"leads"`},
		{"audit.lead_search_runs", `"audit"."lead_search_runs"`},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, identifier(tt.input).Sanitize())
		})
	}
}

func TestTempTableName(t *testing.T) {
	assert.Equal(t, "_tmp_upsert_audit_leads", tempTableName("audit.leads"))
}
