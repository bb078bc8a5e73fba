package discovery

import (
	"context"
	"fmt"
	"sync"

	"github.com/sells-group/leadpipe/internal/model"
	"github.com/sells-group/leadpipe/internal/store"
	"github.com/sells-group/leadpipe/pkg/google"
)

// mockSearcher implements Searcher for testing. Safe for concurrent use.
type mockSearcher struct {
	mu          sync.Mutex
	results     map[string][]google.Place
	details     map[string]*google.Place
	searchErr   map[string]error
	detailErr   error
	queries     []string
	detailCalls int
}

func (m *mockSearcher) TextSearchAll(_ context.Context, query string, limit int) ([]google.Place, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queries = append(m.queries, query)
	if err := m.searchErr[query]; err != nil {
		return nil, err
	}
	places := m.results[query]
	if len(places) > limit {
		places = places[:limit]
	}
	return places, nil
}

func (m *mockSearcher) GetDetails(_ context.Context, placeID string) (*google.Place, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.detailCalls++
	if m.detailErr != nil {
		return nil, m.detailErr
	}
	return m.details[placeID], nil
}

// mockStore implements Store in memory, mimicking place_id upsert semantics.
type mockStore struct {
	mu sync.Mutex

	leads       map[string]model.Lead // by place id
	ids         map[string]string     // place id -> lead id
	upsertCalls [][]model.Lead
	upsertErrAt int // 1-based call that fails; 0 never
	upsertErr   error

	groups       map[string]*model.LeadGroup
	members      map[model.LeadGroupMember]bool
	createCalls  int
	getGroupErr  error
	createErr    error
	addMemberErr error
	raceOnCreate bool

	runs    []model.LeadSearchRun
	runsErr error

	pingErr error
}

func newMockStore() *mockStore {
	return &mockStore{
		leads:   make(map[string]model.Lead),
		ids:     make(map[string]string),
		groups:  make(map[string]*model.LeadGroup),
		members: make(map[model.LeadGroupMember]bool),
	}
}

func (m *mockStore) UpsertLeads(_ context.Context, leads []model.Lead) ([]model.UpsertedLead, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upsertCalls = append(m.upsertCalls, leads)
	if m.upsertErrAt == len(m.upsertCalls) {
		return nil, m.upsertErr
	}
	out := make([]model.UpsertedLead, 0, len(leads))
	for _, l := range leads {
		id, ok := m.ids[l.PlaceID]
		if !ok {
			id = fmt.Sprintf("lead-%d", len(m.ids)+1)
			m.ids[l.PlaceID] = id
		}
		l.ID = id
		m.leads[l.PlaceID] = l
		out = append(out, model.UpsertedLead{ID: id, PlaceID: l.PlaceID})
	}
	return out, nil
}

func (m *mockStore) GetGroupByName(_ context.Context, name string) (*model.LeadGroup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getGroupErr != nil {
		return nil, m.getGroupErr
	}
	return m.groups[name], nil
}

func (m *mockStore) CreateGroup(_ context.Context, name, description string) (*model.LeadGroup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createCalls++
	if m.createErr != nil {
		return nil, m.createErr
	}
	if m.raceOnCreate {
		// Another writer created the group between our lookup and insert.
		m.groups[name] = &model.LeadGroup{ID: "group-other", Name: name, Description: description}
		return nil, store.ErrGroupExists
	}
	if _, ok := m.groups[name]; ok {
		return nil, store.ErrGroupExists
	}
	g := &model.LeadGroup{ID: fmt.Sprintf("group-%d", len(m.groups)+1), Name: name, Description: description}
	m.groups[name] = g
	return g, nil
}

func (m *mockStore) AddGroupMembers(_ context.Context, groupID string, leadIDs []string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.addMemberErr != nil {
		return 0, m.addMemberErr
	}
	var added int64
	for _, id := range leadIDs {
		k := model.LeadGroupMember{GroupID: groupID, LeadID: id}
		if !m.members[k] {
			m.members[k] = true
			added++
		}
	}
	return added, nil
}

func (m *mockStore) InsertSearchRuns(_ context.Context, runs []model.LeadSearchRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.runsErr != nil {
		return m.runsErr
	}
	m.runs = append(m.runs, runs...)
	return nil
}

func (m *mockStore) Ping(context.Context) error { return m.pingErr }

func (m *mockStore) upsertedRows() int {
	n := 0
	for _, c := range m.upsertCalls {
		n += len(c)
	}
	return n
}

func place(id, name, website string) google.Place {
	return google.Place{ID: id, DisplayName: google.DisplayName{Text: name}, WebsiteURI: website}
}

func ptr(f float64) *float64 { return &f }
