// Package idgen generates the identifiers used across boothcrawl.
//
// Every persisted row gets a UUIDv7 (time-sortable) with a short type prefix,
// so an id seen in a log line tells you which table it belongs to.
package idgen

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Generator produces unique string identifiers.
type Generator func() string

// Type prefixes for persisted rows.
const (
	BoothPrefix  = "bth_"
	RawPrefix    = "raw_"
	MetricPrefix = "run_"
)

// UUIDv7 returns a Generator that produces RFC 9562 UUID v7 strings.
func UUIDv7() Generator {
	return func() string {
		return uuid.Must(uuid.NewV7()).String()
	}
}

// Prefixed wraps a Generator and prepends a fixed prefix to every ID.
func Prefixed(prefix string, gen Generator) Generator {
	return func() string {
		return prefix + gen()
	}
}

// Default is UUIDv7.
var Default Generator = UUIDv7()

// New produces an ID using the Default generator.
func New() string {
	return Default()
}

// Booth returns a new booth id.
func Booth() string { return BoothPrefix + Default() }

// Raw returns a new raw_content id.
func Raw() string { return RawPrefix + Default() }

// Metric returns a new crawl_metrics id.
func Metric() string { return MetricPrefix + Default() }

// Parse validates a (possibly prefixed) id and returns it unchanged.
func Parse(s string) (string, error) {
	raw := s
	for _, p := range []string{BoothPrefix, RawPrefix, MetricPrefix} {
		if strings.HasPrefix(s, p) {
			raw = strings.TrimPrefix(s, p)
			break
		}
	}
	if _, err := uuid.Parse(raw); err != nil {
		return "", fmt.Errorf("invalid id %q: %w", s, err)
	}
	return s, nil
}
