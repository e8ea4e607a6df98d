package usecase

import (
	"strconv"
	"strings"

	"golang.org/x/text/width"
)

// normalizeInput folds full-width characters and trims surrounding space.
func normalizeInput(s string) string {
	return strings.TrimSpace(width.Fold.String(s))
}

// parseIndex parses a 1-based position typed by a user.
func parseIndex(s string) (int, bool) {
	n, err := strconv.Atoi(normalizeInput(s))
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}
