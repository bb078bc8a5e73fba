package discovery

import (
	"encoding/json"
	"net/url"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/leadpipe/internal/model"
	"github.com/sells-group/leadpipe/pkg/google"
)

// Normalize maps one Places result into a Lead tagged with the pair that found it.
func Normalize(p google.Place, pair Pair) model.Lead {
	lead := model.Lead{
		PlaceID:          strings.TrimSpace(p.ID),
		Name:             clean(p.DisplayName.Text),
		FormattedAddress: clean(p.FormattedAddress),
		Phone:            clean(p.NationalPhoneNumber),
		Website:          strings.TrimSpace(p.WebsiteURI),
		PriceLevel:       p.PriceLevel,
		Types:            cleanStrings(p.Types),
		BusinessStatus:   p.BusinessStatus,
		MapsURL:          strings.TrimSpace(p.GoogleMapsURI),
		UserRatingsTotal: max(p.UserRatingCount, 0),
		Niche:            pair.Niche,
		Location:         pair.Location,
	}
	if lead.Phone == "" {
		lead.Phone = clean(p.InternationalPhoneNumber)
	}
	if lead.Website != "" {
		lead.Domain = extractDomain(lead.Website)
	}
	if p.Location != nil {
		lat, lng := p.Location.Latitude, p.Location.Longitude
		lead.Lat, lead.Lng = &lat, &lng
	}
	if p.Rating != nil {
		r := *p.Rating
		lead.Rating = &r
	}
	if p.RegularOpeningHours != nil {
		lead.OpeningHours = cleanStrings(p.RegularOpeningHours.WeekdayDescriptions)
	}

	lead.RawPayload = p.Raw
	if len(lead.RawPayload) == 0 {
		if raw, err := json.Marshal(p); err == nil {
			lead.RawPayload = raw
		}
	}
	return lead
}

func clean(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

func cleanStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = clean(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// extractDomain returns the lower-cased host of a website URL without "www.".
func extractDomain(rawURL string) string {
	if !strings.Contains(rawURL, "://") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	host = strings.TrimPrefix(host, "www.")
	return host
}
