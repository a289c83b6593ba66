package google

import "slices"

// TextSearchResponse is the response from Places Text Search.
type TextSearchResponse struct {
	Places []Place `json:"places"`
}

// Place represents a place returned by the API.
type Place struct {
	ID                       string             `json:"id"`
	DisplayName              DisplayName        `json:"displayName"`
	FormattedAddress         string             `json:"formattedAddress,omitempty"`
	AddressComponents        []AddressComponent `json:"addressComponents,omitempty"`
	NationalPhoneNumber      string             `json:"nationalPhoneNumber,omitempty"`
	InternationalPhoneNumber string             `json:"internationalPhoneNumber,omitempty"`
	WebsiteURI               string             `json:"websiteUri,omitempty"`
	Location                 *LatLng            `json:"location,omitempty"`
	Rating                   float64            `json:"rating"`
	UserRatingCount          int                `json:"userRatingCount"`
	PriceLevel               string             `json:"priceLevel,omitempty"`
	RegularOpeningHours      *OpeningHours      `json:"regularOpeningHours,omitempty"`
	Types                    []string           `json:"types,omitempty"`
	Photos                   []Photo            `json:"photos,omitempty"`
	Reviews                  []Review           `json:"reviews,omitempty"`
}

// DisplayName holds the place's display name.
type DisplayName struct {
	Text string `json:"text"`
}

// AddressComponent is one structured piece of the address.
type AddressComponent struct {
	LongText  string   `json:"longText"`
	ShortText string   `json:"shortText"`
	Types     []string `json:"types"`
}

// LatLng is a coordinate pair.
type LatLng struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// OpeningHours holds human-readable weekday descriptions.
type OpeningHours struct {
	WeekdayDescriptions []string `json:"weekdayDescriptions"`
}

// Photo is a photo reference; Name is passed to PhotoMedia.
type Photo struct {
	Name     string `json:"name"`
	WidthPx  int    `json:"widthPx"`
	HeightPx int    `json:"heightPx"`
}

// Review is a user review.
type Review struct {
	Rating            float64           `json:"rating"`
	Text              *LocalizedText    `json:"text,omitempty"`
	AuthorAttribution AuthorAttribution `json:"authorAttribution"`
	PublishTime       string            `json:"publishTime,omitempty"`
}

// LocalizedText is text with a language code.
type LocalizedText struct {
	Text         string `json:"text"`
	LanguageCode string `json:"languageCode,omitempty"`
}

// AuthorAttribution identifies a review author.
type AuthorAttribution struct {
	DisplayName string `json:"displayName"`
}

// PhotoMedia is the resolved download URI for a photo.
type PhotoMedia struct {
	Name     string `json:"name"`
	PhotoURI string `json:"photoUri"`
}

// Component returns the long text of the first address component tagged
// kind, e.g. "locality" or "postal_code".
func (p *Place) Component(kind string) string {
	for _, c := range p.AddressComponents {
		if slices.Contains(c.Types, kind) {
			return c.LongText
		}
	}
	return ""
}

// Locality is the place's city or town.
func (p *Place) Locality() string { return p.Component("locality") }
