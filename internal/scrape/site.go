package scrape

import (
	"net/url"
	"strings"

	"github.com/sells-group/directory-cli/internal/model"
)

// subpages lists the paths most likely to carry listing detail per type.
var subpages = map[model.EntityType][]string{
	model.EntityRestaurant:    {"/menu", "/about", "/hours"},
	model.EntityHotel:         {"/rooms", "/amenities", "/about"},
	model.EntityMall:          {"/stores", "/directory", "/hours"},
	model.EntityAttraction:    {"/tickets", "/visit", "/about"},
	model.EntityFitnessCenter: {"/classes", "/membership", "/amenities"},
	model.EntitySchool:        {"/admissions", "/academics", "/about"},
}

// CandidateURLs returns the homepage followed by type-specific subpages on the
// same host. Invalid homepages yield nil.
func CandidateURLs(homepage string, t model.EntityType) []string {
	homepage = strings.TrimSpace(homepage)
	if homepage != "" && !strings.Contains(homepage, "://") {
		homepage = "https://" + homepage
	}
	u, err := url.Parse(homepage)
	if err != nil || u.Host == "" {
		return nil
	}
	u.RawQuery = ""
	u.Fragment = ""

	root := *u
	root.Path = "/"
	out := []string{u.String()}
	if u.Path != "" && u.Path != "/" {
		out = append(out, root.String())
	}
	for _, p := range subpages[t] {
		sub := root
		sub.Path = p
		out = append(out, sub.String())
	}
	return out
}
