// Package model defines the records produced and persisted by the lead pipeline.
package model

import (
	"encoding/json"
	"time"
)

// Lead is a business discovered through a Places search, keyed by its Google place id.
type Lead struct {
	ID               string          `json:"id,omitempty" db:"id"`
	PlaceID          string          `json:"placeId" db:"place_id"`
	Name             string          `json:"name" db:"name"`
	FormattedAddress string          `json:"formattedAddress,omitempty" db:"formatted_address"`
	Lat              *float64        `json:"lat,omitempty" db:"lat"`
	Lng              *float64        `json:"lng,omitempty" db:"lng"`
	Phone            string          `json:"phone,omitempty" db:"phone"`
	Website          string          `json:"website,omitempty" db:"website"`
	Domain           string          `json:"domain,omitempty" db:"domain"`
	PriceLevel       string          `json:"priceLevel,omitempty" db:"price_level"`
	Types            []string        `json:"types,omitempty" db:"types"`
	BusinessStatus   string          `json:"businessStatus,omitempty" db:"business_status"`
	OpeningHours     []string        `json:"openingHours,omitempty" db:"opening_hours"`
	MapsURL          string          `json:"mapsUrl,omitempty" db:"maps_url"`
	Rating           *float64        `json:"rating,omitempty" db:"rating"`
	UserRatingsTotal int             `json:"userRatingsTotal" db:"user_ratings_total"`
	RawPayload       json.RawMessage `json:"rawProviderPayload,omitempty" db:"raw_payload"`
	Niche            string          `json:"niche" db:"niche"`
	Location         string          `json:"location" db:"location"`
}

// HasWebsite reports whether the lead lists a website.
func (l *Lead) HasWebsite() bool {
	return l.Website != ""
}

// UpsertedLead is the identity the store returns for each row an upsert touched.
type UpsertedLead struct {
	ID      string `json:"id" db:"id"`
	PlaceID string `json:"placeId" db:"place_id"`
}

// LeadGroup is a named cohort of leads.
type LeadGroup struct {
	ID          string    `json:"id" db:"id"`
	Name        string    `json:"name" db:"name"`
	Description string    `json:"description" db:"description"`
	CreatedAt   time.Time `json:"createdAt" db:"created_at"`
}

// LeadGroupMember joins a lead to a group. The pair is unique.
type LeadGroupMember struct {
	GroupID string `json:"groupId" db:"group_id"`
	LeadID  string `json:"leadId" db:"lead_id"`
}

// LeadSearchRun is the write-once audit row for one (niche, location) pair of a batch.
type LeadSearchRun struct {
	ID            string    `json:"id,omitempty" db:"id"`
	Niche         string    `json:"niche" db:"niche"`
	Location      string    `json:"location" db:"location"`
	OriginalCount int       `json:"originalCount" db:"original_count"`
	DedupedCount  int       `json:"dedupedCount" db:"deduped_count"`
	SavedCount    int       `json:"savedCount" db:"saved_count"`
	DryRun        bool      `json:"dryRun" db:"dry_run"`
	FinishedAt    time.Time `json:"finishedAt" db:"finished_at"`
}
