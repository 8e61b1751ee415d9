// CLAUDE:SUMMARY Input validation for source fields: id, name, URLs, strategy, fetch mode, cadence, page limit, priority.
// CLAUDE:EXPORTS validateSource
package crawl

import (
	"fmt"
	"regexp"

	"github.com/hazyhaar/boothcrawl/crawl/internal/extract"
	"github.com/hazyhaar/boothcrawl/crawl/internal/fetch"
	"github.com/hazyhaar/boothcrawl/crawl/internal/store"
)

const (
	maxIDLen     = 64
	maxNameLen   = 512
	maxURLLen    = 4096
	maxURLs      = 100
	maxPageLimit = 1000
	maxPriority  = 1000
	minCadenceMs = 60_000        // 1 minute
	maxCadenceMs = 7_776_000_000 // 90 days
)

var idPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// allowedFetchModes is the set of valid fetch_mode values.
var allowedFetchModes = map[string]bool{
	fetch.ModeScrape:  true,
	fetch.ModeCrawl:   true,
	fetch.ModeDirect:  true,
	fetch.ModeBrowser: true,
}

// validateSource checks a source's configuration fields and normalizes its
// URLs in place. Duplicate URLs after normalization are dropped.
func validateSource(s *store.Source) error {
	if s.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidInput)
	}
	if len(s.ID) > maxIDLen || !idPattern.MatchString(s.ID) {
		return fmt.Errorf("%w: id %q must be lowercase letters, digits, '-' or '_'", ErrInvalidInput, s.ID)
	}

	if s.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if len(s.Name) > maxNameLen {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidInput, maxNameLen)
	}

	if len(s.URLs) == 0 {
		return fmt.Errorf("%w: at least one url is required", ErrInvalidInput)
	}
	if len(s.URLs) > maxURLs {
		return fmt.Errorf("%w: more than %d urls", ErrInvalidInput, maxURLs)
	}
	seen := make(map[string]bool, len(s.URLs))
	urls := make([]string, 0, len(s.URLs))
	for _, u := range s.URLs {
		if len(u) > maxURLLen {
			return fmt.Errorf("%w: url exceeds %d characters", ErrInvalidInput, maxURLLen)
		}
		norm, err := NormalizeSourceURL(u)
		if err != nil {
			return err
		}
		if !seen[norm] {
			seen[norm] = true
			urls = append(urls, norm)
		}
	}
	s.URLs = urls

	if s.Strategy == "" {
		s.Strategy = extract.StrategyGeneric
	}
	if !extract.ValidStrategy(s.Strategy) {
		return fmt.Errorf("%w: unknown strategy %q", ErrInvalidInput, s.Strategy)
	}
	if s.FetchMode == "" {
		s.FetchMode = fetch.ModeScrape
	}
	if !allowedFetchModes[s.FetchMode] {
		return fmt.Errorf("%w: unknown fetch_mode %q", ErrInvalidInput, s.FetchMode)
	}

	if s.CadenceMs != 0 && (s.CadenceMs < minCadenceMs || s.CadenceMs > maxCadenceMs) {
		return fmt.Errorf("%w: cadence must be between %d and %d ms", ErrInvalidInput, int64(minCadenceMs), int64(maxCadenceMs))
	}
	if s.PageLimit < 0 || s.PageLimit > maxPageLimit {
		return fmt.Errorf("%w: page_limit must be between 0 and %d", ErrInvalidInput, maxPageLimit)
	}
	if s.Priority < -maxPriority || s.Priority > maxPriority {
		return fmt.Errorf("%w: priority must be between -%d and %d", ErrInvalidInput, maxPriority, maxPriority)
	}
	return nil
}
