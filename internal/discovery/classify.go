package discovery

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"

	"github.com/sells-group/leadpipe/internal/model"
	"github.com/sells-group/leadpipe/internal/store"
)

// GroupStore is the group surface of the store.
type GroupStore interface {
	GetGroupByName(ctx context.Context, name string) (*model.LeadGroup, error)
	CreateGroup(ctx context.Context, name, description string) (*model.LeadGroup, error)
	AddGroupMembers(ctx context.Context, groupID string, leadIDs []string) (int64, error)
}

// Classifier assigns website-less leads to a named cohort.
type Classifier struct {
	store       GroupStore
	name        string
	description string
}

// NewClassifier creates a Classifier for the named group; empty uses NoWebsiteGroup.
func NewClassifier(s GroupStore, name string) *Classifier {
	if name == "" {
		name = NoWebsiteGroup
	}
	return &Classifier{store: s, name: name, description: noWebsiteDescription}
}

// EnsureGroup returns the cohort, creating it on first use. Losing a creation
// race to another writer is not an error.
func (c *Classifier) EnsureGroup(ctx context.Context) (*model.LeadGroup, error) {
	g, err := c.store.GetGroupByName(ctx, c.name)
	if err != nil {
		return nil, eris.Wrapf(err, "discovery: look up group %q", c.name)
	}
	if g != nil {
		return g, nil
	}

	g, err = c.store.CreateGroup(ctx, c.name, c.description)
	if errors.Is(err, store.ErrGroupExists) {
		g, err = c.store.GetGroupByName(ctx, c.name)
		if err == nil && g == nil {
			err = eris.New("group vanished after create conflict")
		}
	}
	if err != nil {
		return nil, eris.Wrapf(err, "discovery: create group %q", c.name)
	}
	return g, nil
}

// Classify adds leadIDs to the cohort and returns how many memberships are new.
// Existing memberships are left alone.
func (c *Classifier) Classify(ctx context.Context, leadIDs []string) (int64, error) {
	g, err := c.EnsureGroup(ctx)
	if err != nil {
		return 0, err
	}
	ids := cleanList(leadIDs)
	if len(ids) == 0 {
		return 0, nil
	}

	n, err := c.store.AddGroupMembers(ctx, g.ID, ids)
	if err != nil {
		return 0, eris.Wrapf(err, "discovery: add %d members to group %q", len(ids), c.name)
	}
	return n, nil
}
