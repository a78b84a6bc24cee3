package telemetry

import (
	"strings"

	"github.com/biter777/countries"
	"github.com/iancoleman/strcase"
	"github.com/rs/zerolog/log"
	"github.com/ttacon/libphonenumber"
)

var (
	phoneKeys   = map[string]bool{"phone": true, "phone_number": true, "mobile": true, "mobile_number": true}
	countryKeys = map[string]bool{"country": true, "country_code": true}
)

// NormalizeAttributes snake-cases attribute names, rewrites phone numbers to
// E.164 using region for national numbers, and country names to ISO alpha-2.
// Values that cannot be normalized are passed through.
func NormalizeAttributes(attrs map[string]any, region string) map[string]any {
	out := make(map[string]any, len(attrs))
	for k, v := range attrs {
		key := strcase.ToSnake(strings.TrimSpace(k))
		s, isString := v.(string)
		switch {
		case isString && phoneKeys[key]:
			out[key] = normalizePhone(s, region)
		case isString && countryKeys[key]:
			out[key] = normalizeCountry(s)
		default:
			out[key] = v
		}
	}
	return out
}

func normalizePhone(s, region string) string {
	num, err := libphonenumber.Parse(s, strings.ToUpper(region))
	if err != nil || !libphonenumber.IsValidNumber(num) {
		log.Debug().Str("value", s).Msg("phone attribute left as is")
		return s
	}
	return libphonenumber.Format(num, libphonenumber.E164)
}

func normalizeCountry(s string) string {
	c := countries.ByName(s) // matches alpha-2, alpha-3 and names
	if c == countries.Unknown {
		return s
	}
	return c.Alpha2()
}
