package reltime

import (
	"fmt"
	"time"

	i18n "github.com/goliatone/go-i18n"
)

// DefaultZone fixes the display time zone for every formatted snapshot.
const DefaultZone = "America/Lima"

// DefaultLocale selects the phrase catalog used when none is configured.
const DefaultLocale = "es"

// Formatter converts absolute timestamps into locale-aware relative phrases
// ("hace 5 minutos", "5 minutes ago") under a fixed time zone. Format is
// pure: the caller supplies "now", sampled once per snapshot, so every entry
// in one list is relative to the same instant.
type Formatter struct {
	translator i18n.Translator
	locale     string
	zone       *time.Location
}

// Option adjusts formatter construction.
type Option func(*Formatter)

// WithLocale overrides the phrase catalog locale.
func WithLocale(locale string) Option {
	return func(f *Formatter) {
		if locale != "" {
			f.locale = locale
		}
	}
}

// WithZone overrides the fixed display zone.
func WithZone(zone *time.Location) Option {
	return func(f *Formatter) {
		if zone != nil {
			f.zone = zone
		}
	}
}

// New builds a formatter with the built-in es/en catalogs.
func New(opts ...Option) (*Formatter, error) {
	zone, err := time.LoadLocation(DefaultZone)
	if err != nil {
		return nil, fmt.Errorf("reltime: load zone: %w", err)
	}
	f := &Formatter{locale: DefaultLocale, zone: zone}
	for _, opt := range opts {
		opt(f)
	}

	store := i18n.NewStaticStore(catalogs())
	translator, err := i18n.NewSimpleTranslator(store, i18n.WithTranslatorDefaultLocale(f.locale))
	if err != nil {
		return nil, fmt.Errorf("reltime: translator: %w", err)
	}
	f.translator = translator
	return f, nil
}

// Zone returns the fixed display zone.
func (f *Formatter) Zone() *time.Location { return f.zone }

// Format renders the timestamp relative to now. Timestamps in the future of
// now (clock skew) render as the "just now" phrase.
func (f *Formatter) Format(ts, now time.Time) string {
	elapsed := now.In(f.zone).Sub(ts.In(f.zone))
	if elapsed < 0 {
		elapsed = 0
	}
	unit, count := bucket(elapsed)
	return f.phrase(unit, count)
}

// bucket picks the display unit using dayjs-compatible thresholds (45s to
// a minute, 45min to an hour, 22h to a day, 26d to a month, 11 months to a
// year) so phrasing matches what clients already display.
func bucket(elapsed time.Duration) (string, int) {
	seconds := int(elapsed.Seconds())
	switch {
	case seconds < 45:
		return "now", 0
	case seconds < 90:
		return "minute", 1
	case seconds < 45*60:
		return "minute", roundDiv(seconds, 60)
	case seconds < 90*60:
		return "hour", 1
	case seconds < 22*3600:
		return "hour", roundDiv(seconds, 3600)
	case seconds < 36*3600:
		return "day", 1
	case seconds < 26*86400:
		return "day", roundDiv(seconds, 86400)
	case seconds < 46*86400:
		return "month", 1
	case seconds < 320*86400:
		return "month", roundDiv(seconds, 30*86400)
	case seconds < 548*86400:
		return "year", 1
	default:
		return "year", roundDiv(seconds, 365*86400)
	}
}

func roundDiv(n, d int) int {
	v := (n + d/2) / d
	if v < 1 {
		v = 1
	}
	return v
}

func (f *Formatter) phrase(unit string, count int) string {
	if unit == "now" {
		if text, err := f.translator.Translate(f.locale, "reltime.now"); err == nil {
			return text
		}
		return "just now"
	}
	key := "reltime." + unit + ".other"
	args := []any{count}
	if count == 1 {
		key = "reltime." + unit + ".one"
		args = nil
	}
	text, err := f.translator.Translate(f.locale, key, args...)
	if err != nil {
		// Catalog keys are compiled in; this only trips on an unknown
		// locale override.
		if count == 1 {
			return fmt.Sprintf("1 %s ago", unit)
		}
		return fmt.Sprintf("%d %ss ago", count, unit)
	}
	return text
}

func catalogs() i18n.Translations {
	return i18n.Translations{
		"es": newCatalog("es", map[string]string{
			"reltime.now":          "justo ahora",
			"reltime.minute.one":   "hace un minuto",
			"reltime.minute.other": "hace %d minutos",
			"reltime.hour.one":     "hace una hora",
			"reltime.hour.other":   "hace %d horas",
			"reltime.day.one":      "hace un día",
			"reltime.day.other":    "hace %d días",
			"reltime.month.one":    "hace un mes",
			"reltime.month.other":  "hace %d meses",
			"reltime.year.one":     "hace un año",
			"reltime.year.other":   "hace %d años",
		}),
		"en": newCatalog("en", map[string]string{
			"reltime.now":          "just now",
			"reltime.minute.one":   "a minute ago",
			"reltime.minute.other": "%d minutes ago",
			"reltime.hour.one":     "an hour ago",
			"reltime.hour.other":   "%d hours ago",
			"reltime.day.one":      "a day ago",
			"reltime.day.other":    "%d days ago",
			"reltime.month.one":    "a month ago",
			"reltime.month.other":  "%d months ago",
			"reltime.year.one":     "a year ago",
			"reltime.year.other":   "%d years ago",
		}),
	}
}

func newCatalog(locale string, entries map[string]string) *i18n.TranslationCatalog {
	catalog := &i18n.TranslationCatalog{
		Locale:   i18n.Locale{Code: locale},
		Messages: make(map[string]i18n.Message),
	}
	for key, template := range entries {
		msg := i18n.Message{}
		msg.SetContent(template)
		catalog.Messages[key] = msg
	}
	return catalog
}
