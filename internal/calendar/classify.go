package calendar

import (
	"strings"

	"github.com/rewired-gh/parkcast/internal/models"
)

type keywordRule struct {
	category models.Category
	keywords []string
}

// keywordRules is tried top to bottom; the first rule with a keyword contained
// in the lower-cased event name decides the category. Lollapalooza comes
// before the generic festival words.
var keywordRules = []keywordRule{
	{models.Lollapalooza, []string{"lollapalooza", "lolla"}},
	{models.MajorPerformance, []string{"symphony", "orchestra", "opera", "broadway"}},
	{models.Sports, []string{"bears", "cubs", "white sox", "bulls", "blackhawks", "chicago fire"}},
	{models.Festival, []string{"festival", "fest", "taste of chicago", "blues"}},
	{models.RegularPerformance, []string{"concert", "music", "performance", "theater", "theatre"}},
	{models.Holiday, []string{
		"holiday", "christmas", "thanksgiving", "memorial day", "labor day",
		"independence day", "new year", "fourth of july", "july 4",
	}},
}

// Classify maps a free-text event name to a category. Names matching no rule are Other.
func Classify(name string) models.Category {
	n := strings.ToLower(name)
	for _, rule := range keywordRules {
		for _, kw := range rule.keywords {
			if strings.Contains(n, kw) {
				return rule.category
			}
		}
	}
	return models.Other
}
