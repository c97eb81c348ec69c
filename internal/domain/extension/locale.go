package extension

import "golang.org/x/text/language"

// LocalesDirname is the directory holding per-locale message catalogs
// inside an extension.
const LocalesDirname = "_locales"

// MatchLocale picks the best locale from the available set for the
// preferred host locale using BCP 47 matching. Falls back to fallback when
// nothing matches or the inputs do not parse.
func MatchLocale(available []string, preferred, fallback string) string {
	if len(available) == 0 || preferred == "" {
		return fallback
	}

	tags := make([]language.Tag, 0, len(available))
	names := make([]string, 0, len(available))
	for _, a := range available {
		tag, err := language.Parse(a)
		if err != nil {
			continue
		}
		tags = append(tags, tag)
		names = append(names, a)
	}
	if len(tags) == 0 {
		return fallback
	}

	desired, err := language.Parse(preferred)
	if err != nil {
		return fallback
	}

	matcher := language.NewMatcher(tags)
	_, idx, conf := matcher.Match(desired)
	if conf == language.No {
		return fallback
	}
	return names[idx]
}
