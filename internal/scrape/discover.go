package scrape

import (
	"context"
	"net/url"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/directory-cli/pkg/jina"
)

// aggregatorHosts are listing and social sites that never count as the
// entity's own website.
var aggregatorHosts = []string{
	"yelp.", "tripadvisor.", "facebook.com", "instagram.com", "google.",
	"opentable.com", "booking.com", "expedia.", "hotels.com", "yellowpages.",
	"mapquest.com", "wikipedia.org", "linkedin.com", "x.com", "twitter.com",
}

// ErrNoWebsite is returned when discovery finds no candidate site.
var ErrNoWebsite = eris.New("scrape: no website found")

// DiscoverWebsite searches for the entity's own site by name and locality.
func DiscoverWebsite(ctx context.Context, search jina.Client, name, locality string) (string, error) {
	if search == nil || strings.TrimSpace(name) == "" {
		return "", ErrNoWebsite
	}
	query := strings.Join(strings.Fields(name+" "+locality+" official website"), " ")
	resp, err := search.Search(ctx, query)
	if err != nil {
		return "", eris.Wrap(err, "scrape: discover website")
	}
	for _, r := range resp.Data {
		if isOwnSite(r.URL) {
			return r.URL, nil
		}
	}
	return "", ErrNoWebsite
}

func isOwnSite(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return false
	}
	host := strings.ToLower(u.Host)
	for _, a := range aggregatorHosts {
		if strings.Contains(host, a) {
			return false
		}
	}
	return true
}
