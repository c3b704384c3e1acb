package domain

import "strings"

// Category is a closed set of market classification tags.
type Category string

const (
	CategoryCrypto        Category = "crypto"
	CategorySports        Category = "sports"
	CategoryPolitics      Category = "politics"
	CategoryEntertainment Category = "entertainment"
	CategoryScience       Category = "science"
	CategoryOther         Category = "other"
)

// categoryKeywords maps lowercase question substrings to categories. First
// match wins, in declaration order.
var categoryKeywords = []struct {
	keywords []string
	category Category
}{
	{[]string{"bitcoin", "btc", "eth", "ethereum", "crypto", "token", "defi"}, CategoryCrypto},
	{[]string{"match", "cup", "league", "team", "game", "championship", "olympic"}, CategorySports},
	{[]string{"election", "president", "vote", "senate", "parliament", "policy"}, CategoryPolitics},
	{[]string{"movie", "film", "album", "award", "oscar", "grammy", "celebrity"}, CategoryEntertainment},
	{[]string{"launch", "rocket", "vaccine", "climate", "ai ", "research"}, CategoryScience},
}

// ClassifyCategory maps a market question to one of the fixed categories.
// Pure function over the question text; unknown questions fall through to
// CategoryOther.
func ClassifyCategory(question string) Category {
	q := strings.ToLower(question)
	for _, entry := range categoryKeywords {
		for _, kw := range entry.keywords {
			if strings.Contains(q, kw) {
				return entry.category
			}
		}
	}
	return CategoryOther
}
