package filter

import (
	"fmt"
	"strings"
)

// Conditions is a structured alternative to a hand-written expression for the
// common query shape: cities, a price band and a sale date window. Zero
// fields are omitted from the built expression.
type Conditions struct {
	Cities    []string
	MinPrice  *int
	MaxPrice  *int
	StartDate string
	EndDate   string
}

// Build renders the conditions as a filter expression, empty when no
// condition is set.
func (c Conditions) Build() string {
	var parts []string
	if len(c.Cities) > 0 {
		quoted := make([]string, len(c.Cities))
		for i, city := range c.Cities {
			quoted[i] = quoteValue(city)
		}
		parts = append(parts, "city in ["+strings.Join(quoted, ", ")+"]")
	}
	if c.MinPrice != nil {
		parts = append(parts, fmt.Sprintf("price >= %d", *c.MinPrice))
	}
	if c.MaxPrice != nil {
		parts = append(parts, fmt.Sprintf("price <= %d", *c.MaxPrice))
	}
	if c.StartDate != "" {
		parts = append(parts, "sale_date >= "+c.StartDate)
	}
	if c.EndDate != "" {
		parts = append(parts, "sale_date <= "+c.EndDate)
	}
	return strings.Join(parts, " and ")
}

func quoteValue(v string) string {
	if strings.Contains(v, "'") {
		return `"` + v + `"`
	}
	return "'" + v + "'"
}
