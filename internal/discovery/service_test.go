package discovery

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadpipe/internal/model"
	"github.com/sells-group/leadpipe/pkg/google"
)

var spokane = Pair{Niche: "dentist", Location: "Spokane, WA"}

// scenarioSearcher returns p1 twice (once without a website) and p2 once.
func scenarioSearcher() *mockSearcher {
	return &mockSearcher{results: map[string][]google.Place{
		spokane.Query(): {
			place("p1", "Acme Dental", ""),
			place("p1", "Acme Dental", "https://x.com"),
			place("p2", "Bright Smiles", ""),
		},
	}}
}

func scenarioRequest(dryRun bool) Request {
	return Request{Niches: []string{spokane.Niche}, Locations: []string{spokane.Location}, DryRun: dryRun}
}

func TestService_ScenarioA_Live(t *testing.T) {
	st := newMockStore()
	svc := NewService(scenarioSearcher(), st, Config{})

	res, err := svc.Run(context.Background(), scenarioRequest(false))

	require.NoError(t, err)
	assert.Equal(t, 2, res.Count)
	assert.Equal(t, 3, res.OriginalCount)
	assert.Equal(t, 2, res.DedupedCount)
	assert.Nil(t, res.Leads)
	assert.False(t, res.Preview())

	assert.Equal(t, "https://x.com", st.leads["p1"].Website)
	assert.Equal(t, "x.com", st.leads["p1"].Domain)

	require.Len(t, st.runs, 1)
	assert.Equal(t, "dentist", st.runs[0].Niche)
	assert.Equal(t, "Spokane, WA", st.runs[0].Location)
	assert.Equal(t, 3, st.runs[0].OriginalCount)
	assert.Equal(t, 2, st.runs[0].DedupedCount)
	assert.Equal(t, 2, st.runs[0].SavedCount)
	assert.False(t, st.runs[0].DryRun)

	// p2 has no website and lands in the cohort.
	g := st.groups[NoWebsiteGroup]
	require.NotNil(t, g)
	assert.Len(t, st.members, 1)
	assert.True(t, st.members[model.LeadGroupMember{GroupID: g.ID, LeadID: st.ids["p2"]}])
}

func TestService_ScenarioB_DryRun(t *testing.T) {
	st := newMockStore()
	svc := NewService(scenarioSearcher(), st, Config{})

	res, err := svc.Run(context.Background(), scenarioRequest(true))

	require.NoError(t, err)
	assert.Equal(t, 2, res.Count)
	assert.Len(t, res.Leads, 2)
	assert.True(t, res.Preview())
	assert.Empty(t, st.upsertCalls, "dry run never upserts")
	assert.Empty(t, st.groups)

	require.Len(t, st.runs, 1)
	assert.True(t, st.runs[0].DryRun)
	assert.Zero(t, st.runs[0].SavedCount)
}

func TestService_ScenarioC_ChunkedCount(t *testing.T) {
	places := make([]google.Place, 1200)
	for i := range places {
		places[i] = place(fmt.Sprintf("p%04d", i), "biz", "https://biz.com")
	}
	s := &mockSearcher{results: map[string][]google.Place{"roofer in Denver, CO": places}}
	st := newMockStore()

	res, err := NewService(s, st, Config{}).Run(context.Background(),
		Request{Niches: []string{"roofer"}, Locations: []string{"Denver, CO"}, Max: 1200})

	require.NoError(t, err)
	assert.Len(t, st.upsertCalls, 3)
	assert.Equal(t, st.upsertedRows(), res.Count)
	assert.Equal(t, 1200, res.Count)
}

func TestService_NoStoreReturnsPreview(t *testing.T) {
	res, err := NewService(scenarioSearcher(), nil, Config{}).Run(context.Background(), scenarioRequest(false))

	require.NoError(t, err)
	assert.True(t, res.Preview())
	assert.Equal(t, 2, res.Count)
	assert.Len(t, res.Leads, 2)
	assert.Empty(t, res.Error)
}

func TestService_StoreUnavailableDegrades(t *testing.T) {
	st := newMockStore()
	st.pingErr = errors.New("connection refused")

	res, err := NewService(scenarioSearcher(), st, Config{}).Run(context.Background(), scenarioRequest(false))

	require.NoError(t, err)
	assert.True(t, res.Preview())
	assert.Len(t, res.Leads, 2)
	assert.Contains(t, res.Error, "connection refused")
	assert.Empty(t, st.upsertCalls)
	assert.Empty(t, st.runs)
}

func TestService_InvalidRequestMakesNoCalls(t *testing.T) {
	s := scenarioSearcher()

	_, err := NewService(s, newMockStore(), Config{}).Run(context.Background(), Request{Niches: []string{"dentist"}})

	assert.ErrorIs(t, err, ErrInvalidRequest)
	assert.Empty(t, s.queries)
}

func TestService_SearchErrorWritesNothing(t *testing.T) {
	s := scenarioSearcher()
	s.searchErr = map[string]error{spokane.Query(): errors.New("places 503")}
	st := newMockStore()

	_, err := NewService(s, st, Config{}).Run(context.Background(), scenarioRequest(false))

	require.Error(t, err)
	assert.Empty(t, st.upsertCalls)
	assert.Empty(t, st.runs)
}

func TestService_ChunkErrorPropagates(t *testing.T) {
	st := newMockStore()
	st.upsertErrAt = 1
	st.upsertErr = errors.New("deadlock detected")

	_, err := NewService(scenarioSearcher(), st, Config{}).Run(context.Background(), scenarioRequest(false))

	var ce *ChunkError
	require.ErrorAs(t, err, &ce)
	assert.Zero(t, ce.CommittedChunks())
	assert.Empty(t, st.runs, "no run rows for a failed batch")
}

func TestService_BestEffortFailuresSuppressed(t *testing.T) {
	st := newMockStore()
	st.createErr = errors.New("groups table missing")
	st.runsErr = errors.New("runs table missing")

	res, err := NewService(scenarioSearcher(), st, Config{}).Run(context.Background(), scenarioRequest(false))

	require.NoError(t, err)
	assert.Equal(t, 2, res.Count)
	assert.Empty(t, res.Error)
}

func TestService_MultiplePairsLogged(t *testing.T) {
	s := &mockSearcher{results: map[string][]google.Place{
		"dentist in Austin, TX": {place("a1", "A1", "https://a1.com"), place("shared", "S", "")},
		"dentist in Boise, ID":  {place("shared", "S", "https://s.com"), place("b1", "B1", "")},
		"plumber in Austin, TX": {},
		"plumber in Boise, ID":  {place("b2", "B2", "https://b2.com")},
	}}
	st := newMockStore()

	res, err := NewService(s, st, Config{Concurrency: 3, ChunkSize: 2}).Run(context.Background(), Request{
		Niches:    []string{"dentist", "plumber"},
		Locations: []string{"Austin, TX", "Boise, ID"},
	})

	require.NoError(t, err)
	assert.Equal(t, 5, res.OriginalCount)
	assert.Equal(t, 4, res.DedupedCount)
	assert.Equal(t, 4, res.Count)
	assert.Equal(t, "https://s.com", st.leads["shared"].Website)
	assert.Equal(t, "Austin, TX", st.leads["shared"].Location, "attributed to the first pair that found it")

	require.Len(t, st.runs, 3)
	assert.Equal(t, []string{"Austin, TX", "Boise, ID", "Boise, ID"},
		[]string{st.runs[0].Location, st.runs[1].Location, st.runs[2].Location})
	assert.Equal(t, 2, st.runs[0].DedupedCount)
	assert.Equal(t, 2, st.runs[1].OriginalCount)
	assert.Equal(t, 1, st.runs[1].DedupedCount)
	assert.Equal(t, 1, st.runs[1].SavedCount)

	// "shared" got a website from the second record, so only b1 is website-less.
	assert.Len(t, st.members, 1)
}
