package scraper

import "fmt"

// Error represents a failure talking to a scraping actor.
type Error struct {
	URL     string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("scraper error for %s: %s: %v", e.URL, e.Message, e.Cause)
	}
	return fmt.Sprintf("scraper error for %s: %s", e.URL, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// ErrInvalidOptions is returned when acquisition options fail validation.
var ErrInvalidOptions = fmt.Errorf("invalid acquisition options")

// ErrRunTimeout is returned when an actor run does not finish within the
// bounded polling window.
var ErrRunTimeout = fmt.Errorf("actor run timed out")
