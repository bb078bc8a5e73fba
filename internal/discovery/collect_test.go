package discovery

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadpipe/pkg/google"
)

func newPairsSearcher(pairs []Pair, perPair int) *mockSearcher {
	s := &mockSearcher{results: map[string][]google.Place{}}
	for i, p := range pairs {
		for j := 0; j < perPair; j++ {
			id := fmt.Sprintf("p%d-%d", i, j)
			s.results[p.Query()] = append(s.results[p.Query()], place(id, id, ""))
		}
	}
	return s
}

func TestCollector_Collect(t *testing.T) {
	pairs := []Pair{{"dentist", "Spokane, WA"}}
	s := &mockSearcher{
		results: map[string][]google.Place{
			"dentist in Spokane, WA": {
				place("p1", "Acme Dental", ""),
				place("p1", "Acme Dental", "https://x.com"),
				place("p2", "Bright Smiles", "https://bright.com"),
			},
		},
		details: map[string]*google.Place{
			"p2": {ID: "p2", DisplayName: google.DisplayName{Text: "Bright Smiles Dentistry"}, WebsiteURI: "https://bright.com", NationalPhoneNumber: "555"},
		},
	}

	coll, err := NewCollector(s, 1).Collect(context.Background(), pairs, 100)

	require.NoError(t, err)
	require.Len(t, coll.Leads, 3)
	assert.Equal(t, 3, coll.RawCounts[pairs[0]])
	assert.Equal(t, "Acme Dental", coll.Leads[0].Name, "no details: falls back to search result")
	assert.Equal(t, "Bright Smiles Dentistry", coll.Leads[2].Name, "details preferred")
	assert.Equal(t, "555", coll.Leads[2].Phone)
	assert.Equal(t, "dentist", coll.Leads[2].Niche)
	assert.Equal(t, 3, s.detailCalls)
}

func TestCollector_SkipsDetailsForUnkeyedResult(t *testing.T) {
	pairs := []Pair{{"a", "b"}}
	s := &mockSearcher{results: map[string][]google.Place{"a in b": {place("", "no id", "")}}}

	coll, err := NewCollector(s, 1).Collect(context.Background(), pairs, 10)

	require.NoError(t, err)
	require.Len(t, coll.Leads, 1)
	assert.Zero(t, s.detailCalls)
}

func TestCollector_RespectsMax(t *testing.T) {
	pairs := []Pair{{"a", "b"}}
	s := newPairsSearcher(pairs, 10)

	coll, err := NewCollector(s, 1).Collect(context.Background(), pairs, 4)

	require.NoError(t, err)
	assert.Len(t, coll.Leads, 4)
}

func TestCollector_ConcurrentMatchesSequentialOrder(t *testing.T) {
	req := Request{
		Niches:    []string{"dentist", "plumber", "roofer"},
		Locations: []string{"Austin, TX", "Boise, ID", "Reno, NV"},
	}
	pairs := req.Pairs()

	seq, err := NewCollector(newPairsSearcher(pairs, 5), 1).Collect(context.Background(), pairs, 100)
	require.NoError(t, err)
	par, err := NewCollector(newPairsSearcher(pairs, 5), 8).Collect(context.Background(), pairs, 100)
	require.NoError(t, err)

	require.Len(t, par.Leads, 45)
	assert.Equal(t, seq.Leads, par.Leads)
	assert.Equal(t, seq.RawCounts, par.RawCounts)
	assert.Equal(t, "p0-0", par.Leads[0].PlaceID)
	assert.Equal(t, "p8-4", par.Leads[44].PlaceID)
}

func TestCollector_SequentialQueryOrder(t *testing.T) {
	pairs := Request{Niches: []string{"n1", "n2"}, Locations: []string{"l1", "l2"}}.Pairs()
	s := newPairsSearcher(pairs, 1)

	_, err := NewCollector(s, 1).Collect(context.Background(), pairs, 10)

	require.NoError(t, err)
	assert.Equal(t, []string{"n1 in l1", "n1 in l2", "n2 in l1", "n2 in l2"}, s.queries)
}

func TestCollector_SearchErrorAborts(t *testing.T) {
	pairs := []Pair{{"a", "b"}, {"c", "d"}}
	s := newPairsSearcher(pairs, 2)
	s.searchErr = map[string]error{"c in d": errors.New("quota exceeded")}

	coll, err := NewCollector(s, 1).Collect(context.Background(), pairs, 10)

	require.Error(t, err)
	assert.Nil(t, coll)
	assert.Contains(t, err.Error(), "quota exceeded")
	assert.Contains(t, err.Error(), `search "c in d"`)
}

func TestCollector_DetailErrorAborts(t *testing.T) {
	pairs := []Pair{{"a", "b"}}
	s := newPairsSearcher(pairs, 2)
	s.detailErr = errors.New("details down")

	_, err := NewCollector(s, 2).Collect(context.Background(), pairs, 10)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "details down")
}

func TestCollector_CancelledContext(t *testing.T) {
	pairs := []Pair{{"a", "b"}, {"c", "d"}}
	s := newPairsSearcher(pairs, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewCollector(s, 1).Collect(ctx, pairs, 10)

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, s.queries)
}

func TestNewCollector_DefaultConcurrency(t *testing.T) {
	assert.Equal(t, DefaultConcurrency, NewCollector(&mockSearcher{}, 0).concurrency)
}
