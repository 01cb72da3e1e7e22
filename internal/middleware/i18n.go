package middleware

import (
	"context"
	"net/http"
	"strings"

	"golang.org/x/text/language"
)

type localeContextKey struct{}
type countryContextKey struct{}

// SupportedLocales lists the locales user-facing messages are translated into.
// The first entry is the fallback.
var SupportedLocales = []string{"en", "zh", "id"}

var localeMatcher = language.NewMatcher([]language.Tag{
	language.English,
	language.Chinese,
	language.Indonesian,
})

// countryLocales maps countries to the locale their visitors most likely read.
// Countries not listed get English.
var countryLocales = map[string]string{
	"CN": "zh",
	"HK": "zh",
	"MO": "zh",
	"TW": "zh",
	"ID": "id",
}

// countryHeaders are set by CDNs and proxies that already geolocated the client.
var countryHeaders = []string{"X-Country-Code", "X-IP-Country", "CF-IPCountry", "X-Appengine-Country"}

// CountryLookup resolves ISO country codes for an IP address.
type CountryLookup func(ip string) (string, error)

type localeResolver struct {
	fallback string
	lookup   CountryLookup
}

// I18N stores the request's locale and country in its context and announces
// the locale in Content-Language. The locale comes from X-Locale, then
// Accept-Language, then the client's country, then defaultLocale.
func I18N(defaultLocale string, lookup CountryLookup) func(http.Handler) http.Handler {
	res := localeResolver{fallback: defaultLocale, lookup: lookup}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			country := res.country(r)
			locale := res.locale(r, country)
			ctx := WithLocale(r.Context(), locale)
			if country != "" {
				ctx = context.WithValue(ctx, countryContextKey{}, country)
			}
			w.Header().Set("Content-Language", locale)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (res localeResolver) locale(r *http.Request, country string) string {
	for _, header := range []string{"X-Locale", "Accept-Language"} {
		if v := strings.TrimSpace(r.Header.Get(header)); v != "" {
			return matchLocale(v)
		}
	}
	if country != "" {
		if locale, ok := countryLocales[country]; ok {
			return locale
		}
		return SupportedLocales[0]
	}
	if res.fallback != "" {
		return matchLocale(res.fallback)
	}
	return SupportedLocales[0]
}

// country returns an upper-case ISO code from proxy headers, an explicit
// language region, or an IP lookup, in that order. Unknown is "".
func (res localeResolver) country(r *http.Request) string {
	for _, header := range countryHeaders {
		if v := strings.TrimSpace(r.Header.Get(header)); v != "" {
			return strings.ToUpper(v)
		}
	}
	for _, header := range []string{"X-Locale", "Accept-Language"} {
		if region := explicitRegion(r.Header.Get(header)); region != "" {
			return region
		}
	}
	if res.lookup == nil {
		return ""
	}
	if code, err := res.lookup(remoteHost(r)); err == nil {
		return strings.ToUpper(strings.TrimSpace(code))
	}
	return ""
}

// matchLocale picks the best supported locale for an Accept-Language style
// value. Unparseable or unsupported input yields the fallback locale.
func matchLocale(raw string) string {
	tags, _, err := language.ParseAcceptLanguage(raw)
	if err != nil || len(tags) == 0 {
		return SupportedLocales[0]
	}
	_, index, confidence := localeMatcher.Match(tags...)
	if confidence == language.No {
		return SupportedLocales[0]
	}
	return SupportedLocales[index]
}

// explicitRegion returns the region of the first preferred tag that names one,
// e.g. "ID" for "id-ID" and "TW" for "zh-Hant-TW". Inferred regions are ignored.
func explicitRegion(accept string) string {
	tags, _, err := language.ParseAcceptLanguage(accept)
	if err != nil {
		return ""
	}
	for _, tag := range tags {
		if region, confidence := tag.Region(); confidence == language.Exact {
			return region.String()
		}
	}
	return ""
}

func WithLocale(ctx context.Context, locale string) context.Context {
	return context.WithValue(ctx, localeContextKey{}, locale)
}

func LocaleFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(localeContextKey{}).(string); ok {
		return v
	}
	return SupportedLocales[0]
}

// CountryFromContext returns the ISO country code stored by I18N, or "".
func CountryFromContext(ctx context.Context) string {
	v, _ := ctx.Value(countryContextKey{}).(string)
	return v
}
