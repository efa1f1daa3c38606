package domain

import "strings"

// Rule is the persisted, user-facing representation of one block/redirect
// rule. ID doubles as the id of the installed platform filtering rule; it is
// assigned by the rule store and changes on every edit.
type Rule struct {
	ID          int       `json:"id"`
	BlockURL    string    `json:"blockURL"`
	RedirectURL string    `json:"redirectURL"`
	Schedule    *Schedule `json:"schedule,omitempty"`
	Category    Category  `json:"category,omitempty"`
}

// Matches reports whether the rule carries the given (blockURL, redirectURL)
// pair, which together form the rule's natural key.
func (r Rule) Matches(blockURL, redirectURL string) bool {
	return r.BlockURL == strings.TrimSpace(blockURL) &&
		r.RedirectURL == strings.TrimSpace(redirectURL)
}

// Category buckets a rule for reporting. Legacy records without one are
// upgraded to Uncategorized by migration.
type Category string

const (
	CategorySocial        Category = "social"
	CategoryNews          Category = "news"
	CategoryEntertainment Category = "entertainment"
	CategoryShopping      Category = "shopping"
	CategoryWork          Category = "work"
	CategoryGaming        Category = "gaming"
	CategoryAdult         Category = "adult"
	CategoryUncategorized Category = "uncategorized"
)

// IsValid returns true if the category is one of the known buckets.
func (c Category) IsValid() bool {
	switch c {
	case CategorySocial, CategoryNews, CategoryEntertainment, CategoryShopping,
		CategoryWork, CategoryGaming, CategoryAdult, CategoryUncategorized:
		return true
	default:
		return false
	}
}
