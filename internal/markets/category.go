package markets

import (
	"fmt"
	"strings"
	"unicode"
)

// keywordRules are checked in order; the first rule with a matching word wins.
// Keywords match word prefixes, so "rainfall" is Rain but "terrain" is not.
var keywordRules = []struct {
	category Category
	keywords []string
}{
	{CategoryHurricane, []string{"hurricane", "cyclone", "typhoon"}},
	{CategoryTornado, []string{"tornado", "twister", "funnel"}},
	{CategoryEarthquake, []string{"earthquake", "quake", "seismic", "magnitude", "tremor"}},
	{CategoryWildfire, []string{"wildfire", "fire", "blaze", "bushfire"}},
	{CategoryFlood, []string{"flood", "inundation", "storm surge"}},
	{CategorySnow, []string{"snow", "blizzard", "sleet", "frost"}},
	{CategoryDrought, []string{"drought", "heatwave", "heat wave", "heat"}},
	{CategoryStorm, []string{"storm", "thunder", "lightning", "hail", "thunderstorm"}},
	{CategoryRain, []string{"rain", "precipitation", "downpour", "monsoon", "inches"}},
}

// ParseCategory maps a case-insensitive name to a Category.
func ParseCategory(s string) (Category, error) {
	s = strings.TrimSpace(s)
	for _, c := range Categories {
		if strings.EqualFold(string(c), s) {
			return c, nil
		}
	}
	if strings.EqualFold(string(CategoryAll), s) {
		return CategoryAll, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidCategory, s)
}

// SplitTag separates a leading "[Tag]" from the rest of the question.
// tag is empty when the question has no leading bracket tag.
func SplitTag(question string) (tag, text string) {
	q := strings.TrimSpace(question)
	if !strings.HasPrefix(q, "[") {
		return "", q
	}
	end := strings.Index(q, "]")
	if end <= 1 {
		return "", q
	}
	return strings.TrimSpace(q[1:end]), strings.TrimSpace(q[end+1:])
}

// ParseQuestion returns the display text of a question and its category.
func ParseQuestion(question string) (text string, category Category) {
	_, text = SplitTag(question)
	return text, DeriveCategory(question)
}

// TagQuestion prefixes a question with its category tag.
func TagQuestion(category Category, question string) string {
	return fmt.Sprintf("[%s] %s", category, strings.TrimSpace(question))
}

// DeriveCategory returns the tagged category when the tag names one, and
// falls back to keyword matching over the question text.
func DeriveCategory(question string) Category {
	tag, text := SplitTag(question)
	if tag != "" {
		if c, err := ParseCategory(tag); err == nil && c != CategoryAll {
			return c
		}
	}
	return Categorize(text)
}

// Categorize matches keywords against the words of text.
func Categorize(text string) Category {
	lower := strings.ToLower(text)
	words := strings.FieldsFunc(lower, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	joined := " " + strings.Join(words, " ")

	for _, rule := range keywordRules {
		for _, kw := range rule.keywords {
			if strings.Contains(joined, " "+kw) {
				return rule.category
			}
		}
	}
	return CategoryOther
}

// TruncateCreator shortens identities to first 8 and last 4 characters.
func TruncateCreator(creator string) string {
	if len(creator) <= 12 {
		return creator
	}
	return creator[:8] + "..." + creator[len(creator)-4:]
}

// MicrosToMillis converts ledger microsecond timestamps.
func MicrosToMillis(us int64) int64 {
	return us / 1000
}

// ParseSide accepts "yes"/"no" in any case as well as "true"/"false".
func ParseSide(s string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yes", "true", "y":
		return SideYes, nil
	case "no", "false", "n":
		return SideNo, nil
	case "":
		return "", ErrMissingSelection
	default:
		return "", fmt.Errorf("%w: unknown side %q", ErrMissingSelection, s)
	}
}

// Filter projects list onto one category. CategoryAll and the empty category
// return list itself; otherwise a new slice is built in input order.
func Filter(list []Market, category Category) []Market {
	if category == CategoryAll || category == "" {
		return list
	}
	out := make([]Market, 0, len(list))
	for _, m := range list {
		if m.Category == category {
			out = append(out, m)
		}
	}
	return out
}
