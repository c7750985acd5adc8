package routing

import (
	"net/http"
	"strings"
)

// DefaultCountryHeader is the header set by the edge with the client's ISO country.
const DefaultCountryHeader = "CF-IPCountry"

// UnknownCountry is reported when a request carries no country.
const UnknownCountry = "XX"

// CountryFromRequest returns the upper-cased country code from header, or
// UnknownCountry when it is absent. An empty header name uses DefaultCountryHeader.
func CountryFromRequest(r *http.Request, header string) string {
	if header == "" {
		header = DefaultCountryHeader
	}
	c := strings.ToUpper(strings.TrimSpace(r.Header.Get(header)))
	if c == "" {
		return UnknownCountry
	}
	return c
}
