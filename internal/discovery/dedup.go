package discovery

import "github.com/sells-group/leadpipe/internal/model"

// Dedupe merges leads sharing a place id into one record, in first-seen order.
// Leads without a place id are dropped.
func Dedupe(leads []model.Lead) []model.Lead {
	index := make(map[string]int, len(leads))
	out := make([]model.Lead, 0, len(leads))
	for _, l := range leads {
		if l.PlaceID == "" {
			continue
		}
		if i, ok := index[l.PlaceID]; ok {
			out[i] = mergeLead(out[i], l)
			continue
		}
		index[l.PlaceID] = len(out)
		out = append(out, l)
	}
	return out
}

// mergeLead folds in into acc. Set fields on acc win; gaps are filled from in.
// Rating and review count move together, and only to a strictly larger count.
// A lead that already has reviews never takes a rating from a smaller count.
func mergeLead(acc, in model.Lead) model.Lead {
	fill(&acc.ID, in.ID)
	fill(&acc.Name, in.Name)
	fill(&acc.FormattedAddress, in.FormattedAddress)
	fill(&acc.Phone, in.Phone)
	fill(&acc.Website, in.Website)
	fill(&acc.Domain, in.Domain)
	fill(&acc.PriceLevel, in.PriceLevel)
	fill(&acc.BusinessStatus, in.BusinessStatus)
	fill(&acc.MapsURL, in.MapsURL)
	fill(&acc.Niche, in.Niche)
	fill(&acc.Location, in.Location)
	fillPtr(&acc.Lat, in.Lat)
	fillPtr(&acc.Lng, in.Lng)

	if len(acc.Types) == 0 {
		acc.Types = in.Types
	}
	if len(acc.OpeningHours) == 0 {
		acc.OpeningHours = in.OpeningHours
	}
	if len(acc.RawPayload) == 0 {
		acc.RawPayload = in.RawPayload
	}

	if in.UserRatingsTotal > acc.UserRatingsTotal {
		acc.Rating = in.Rating
		acc.UserRatingsTotal = in.UserRatingsTotal
	} else if acc.UserRatingsTotal == 0 {
		// With no review count to keep, a rating is taken from any duplicate.
		fillPtr(&acc.Rating, in.Rating)
	}
	return acc
}

func fill(dst *string, v string) {
	if *dst == "" {
		*dst = v
	}
}

func fillPtr[T any](dst **T, v *T) {
	if *dst == nil {
		*dst = v
	}
}

// DedupedCounts tallies surviving leads by the pair that tagged them.
func DedupedCounts(leads []model.Lead) map[Pair]int {
	counts := make(map[Pair]int)
	for i := range leads {
		counts[pairOf(&leads[i])]++
	}
	return counts
}
