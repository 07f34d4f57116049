package search

import (
	"strconv"
	"strings"
)

// Query represents the structured parameters of a message search.
// It decouples the raw input typed in the search bar from the index engine.
type Query struct {
	RawInput    string // The original input from the user
	Terms       string // The actual text to search in Bluge
	Counterpart string // Restrict to one conversation, empty means all
	Limit       int    // Number of results
}

// ParseQuery parses a raw string to extract command-line style arguments.
// Example: facture --with user-42 --limit 5
func ParseQuery(input string) *Query {
	query := &Query{
		RawInput: input,
		Limit:    10, // Default limit
	}

	parts := strings.Fields(input)
	var textTerms []string

	for i := 0; i < len(parts); i++ {
		part := parts[i]

		// Handle flags like --with user-42 or --limit 5
		if strings.HasPrefix(part, "--") && i+1 < len(parts) {
			key := strings.TrimPrefix(part, "--")
			val := parts[i+1]

			switch key {
			case "with":
				query.Counterpart = val
			case "limit":
				if n, err := strconv.Atoi(val); err == nil && n > 0 {
					query.Limit = n
				}
			}
			i++ // Skip the value part in next iteration
			continue
		}

		textTerms = append(textTerms, part)
	}

	query.Terms = strings.Join(textTerms, " ")
	return query
}
