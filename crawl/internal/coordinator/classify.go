// CLAUDE:SUMMARY Error classifier: maps run errors to retry/containment classes (transient, permanent, config, systemic, timeout, canceled).
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/hazyhaar/boothcrawl/crawl/internal/extract"
	"github.com/hazyhaar/boothcrawl/crawl/internal/fetch"
	"github.com/hazyhaar/boothcrawl/crawl/internal/store"
)

// Class decides whether an error is retried and how far it propagates.
type Class string

const (
	ClassTransient Class = "transient" // retried with backoff
	ClassPermanent Class = "permanent" // fails the source run
	ClassConfig    Class = "config"    // fails the run, source goes to review
	ClassSystemic  Class = "systemic"  // aborts the whole batch
	ClassTimeout   Class = "timeout"   // run deadline reached
	ClassCanceled  Class = "canceled"  // caller went away
)

// ErrSystemic marks failures that are not specific to one source.
var ErrSystemic = errors.New("coordinator: systemic failure")

// ConfigurationError is a source whose configuration cannot produce a fetch
// request or an extraction.
type ConfigurationError struct {
	SourceID string
	Reason   string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("coordinator: source %s misconfigured: %s", e.SourceID, e.Reason)
}

// Classify maps an error to its Class.
func Classify(err error) Class {
	if err == nil {
		return ""
	}
	var cfgErr *ConfigurationError
	var fe *fetch.FetchError
	var ee *extract.ExtractionError
	switch {
	case errors.Is(err, ErrSystemic),
		errors.Is(err, fetch.ErrNotConfigured),
		errors.Is(err, extract.ErrNoModel),
		store.IsUnavailable(err):
		return ClassSystemic
	case errors.Is(err, context.DeadlineExceeded):
		return ClassTimeout
	case errors.Is(err, context.Canceled):
		return ClassCanceled
	case errors.As(err, &cfgErr),
		errors.Is(err, fetch.ErrUnknownMode),
		errors.Is(err, fetch.ErrNoURLs):
		return ClassConfig
	case errors.As(err, &fe):
		if fe.Kind == fetch.KindTimeout || fe.Retryable() {
			return ClassTransient
		}
		return ClassPermanent
	case errors.As(err, &ee):
		if ee.Transport && ee.Err != nil {
			return classifyMessage(ee.Err.Error())
		}
		return ClassPermanent
	}
	return classifyMessage(err.Error())
}

// classifyMessage is the fallback for errors that only carry text, such as
// LLM SDK errors. Rate limits and server errors are transient, as are
// network-level failures.
func classifyMessage(msg string) Class {
	msg = strings.ToLower(msg)
	if code := extractStatusCode(msg); code != 0 {
		if code == 429 || code >= 500 {
			return ClassTransient
		}
		return ClassPermanent
	}
	if isNetworkError(msg) || strings.Contains(msg, "overloaded") || strings.Contains(msg, "rate limit") {
		return ClassTransient
	}
	return ClassPermanent
}

// extractStatusCode finds an HTTP status in an error message: "http 503",
// "status: 429", "status code 500", or a bare leading "503 ...".
func extractStatusCode(msg string) int {
	for _, prefix := range []string{"http ", "http: ", "status ", "status: ", "status code ", "status code: "} {
		idx := strings.Index(msg, prefix)
		if idx < 0 {
			continue
		}
		if code := leadingCode(msg[idx+len(prefix):]); code != 0 {
			return code
		}
	}
	return leadingCode(msg)
}

func leadingCode(s string) int {
	s = strings.TrimSpace(s)
	if sp := strings.IndexAny(s, " :,)"); sp > 0 {
		s = s[:sp]
	}
	if code, err := strconv.Atoi(s); err == nil && code >= 100 && code < 600 {
		return code
	}
	return 0
}

func isNetworkError(msg string) bool {
	return strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "deadline exceeded") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "eof") ||
		strings.Contains(msg, "tls handshake")
}
