// Package store persists leads, lead groups and search runs.
package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/leadpipe/internal/model"
)

// ErrGroupExists is returned by CreateGroup when a group with the same name already exists.
var ErrGroupExists = eris.New("store: group already exists")

// RunFilter specifies criteria for listing search runs.
type RunFilter struct {
	Niche    string `json:"niche,omitempty"`
	Location string `json:"location,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}

const defaultRunLimit = 100

func (f RunFilter) limit() int {
	if f.Limit <= 0 {
		return defaultRunLimit
	}
	return f.Limit
}

// Store defines the persistence interface for the lead pipeline.
type Store interface {
	// Leads
	UpsertLeads(ctx context.Context, leads []model.Lead) ([]model.UpsertedLead, error)
	GetLeadByPlaceID(ctx context.Context, placeID string) (*model.Lead, error)
	CountLeads(ctx context.Context) (int64, error)

	// Groups
	GetGroupByName(ctx context.Context, name string) (*model.LeadGroup, error)
	CreateGroup(ctx context.Context, name, description string) (*model.LeadGroup, error)
	AddGroupMembers(ctx context.Context, groupID string, leadIDs []string) (int64, error)

	// Search runs
	InsertSearchRuns(ctx context.Context, runs []model.LeadSearchRun) error
	ListSearchRuns(ctx context.Context, filter RunFilter) ([]model.LeadSearchRun, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
