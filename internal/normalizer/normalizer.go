// Package normalizer cleans up raw bank narrations into standardized merchant
// names and assigns rule-based spending categories.
package normalizer

import "strings"

// merchantNames maps a narration keyword to the standardized merchant name.
// Checked in order; the first matching keyword wins, so specific merchants
// sit above the generic "POS" entry.
var merchantNames = []struct {
	keyword string
	name    string
}{
	{"JUMIA", "Jumia"},
	{"SPAR", "Spar Supermarket"},
	{"CHICKEN REPUBLIC", "Chicken Republic"},
	{"NETFLIX", "Netflix"},
	{"DSTV", "DStv Subscription"},
	{"AMAZON", "Amazon"},
	{"E-BAY", "Ebay"},
	{"ALIBABA", "Alibaba"},
	{"UBER", "Uber Ride"},
	{"LYFT", "Lyft Ride"},
	{"POS", "POS Withdrawal"},
}

// categoryRules maps a category to the narration keywords that select it.
// Rules are checked in order; first match wins.
var categoryRules = []struct {
	category string
	keywords []string
}{
	{"food & drink", []string{"SPAR", "CHICKEN REPUBLIC", "KFC", "DOMINO'S PIZZA", "PIZZA HUT", "FOOD COURT", "FOOD DELIVERY", "DRINKS"}},
	{"entertainment", []string{"NETFLIX", "DSTV", "MOVIE TICKET", "CINEMA", "CONCERT", "EVENT"}},
	{"shopping", []string{"AMAZON", "E-BAY", "ALIBABA", "E-COMMERCE", "ONLINE STORE", "JUMIA"}},
	{"transport", []string{"UBER", "LYFT", "TAXI", "BOLT", "GOJEK"}},
	{"health & fitness", []string{"GYM", "PHARMACY", "HOSPITAL", "CLINIC"}},
	{"education", []string{"SCHOOL", "UNIVERSITY", "COLLEGE", "COURSE", "TUTORING", "SCHOOL FEES"}},
	{"services", []string{"REPAIR", "MAINTENANCE", "CLEANING", "LAUNDRY", "BEAUTY SALON", "BARBER SHOP"}},
	{"travel", []string{"FLIGHT", "HOTEL", "RENTAL CAR", "TRAVEL AGENCY", "AIRLINE"}},
	{"bills", []string{"ELECTRICITY", "WATER", "INTERNET", "GAS", "TELEPHONE"}},
	{"bank", []string{"POS", "ATM", "TRANSFER", "CHARGE"}},
}

// CategoryOther is assigned when no rule matches.
const CategoryOther = "other"

// NormalizeDescription replaces a known merchant narration with its
// standardized name. Unknown narrations pass through unchanged.
func NormalizeDescription(description string) string {
	upper := strings.ToUpper(description)
	for _, m := range merchantNames {
		if strings.Contains(upper, m.keyword) {
			return m.name
		}
	}
	return description
}

// Categorize assigns a spending category based on the narration.
func Categorize(description string) string {
	normalized := strings.ToUpper(NormalizeDescription(description))
	for _, rule := range categoryRules {
		for _, keyword := range rule.keywords {
			if strings.Contains(normalized, keyword) {
				return rule.category
			}
		}
	}
	return CategoryOther
}
