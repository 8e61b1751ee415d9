// CLAUDE:SUMMARY Sentinel errors for the crawl service: unknown source, invalid input, disabled source, source already running.
package crawl

import "errors"

// ErrSourceNotFound is returned when no source has the given id.
var ErrSourceNotFound = errors.New("crawl: source not found")

// ErrInvalidInput is returned when source input fails validation.
var ErrInvalidInput = errors.New("crawl: invalid input")

// ErrSourceDisabled is returned when a disabled source is run without force.
var ErrSourceDisabled = errors.New("crawl: source disabled")

// ErrSourceBusy is returned when a source is run while a run of it is in flight.
var ErrSourceBusy = errors.New("crawl: source already running")

// ErrNotFound is returned when a booth lookup finds nothing.
var ErrNotFound = errors.New("crawl: not found")
