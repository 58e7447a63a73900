// File: internal/portal/portal.go

// Package portal drives the state election commission results portal through
// a real browser tab. It owns the structural contract with the remote site
// (navigation path, control selectors, table selector) and exposes the small
// capability surface the crawler needs: enumerate options, select a
// combination, submit, and snapshot the results table.
package portal

import (
	"errors"
	"fmt"
)

// Option is one selectable entry of a portal dropdown. The json tags match
// the object literals produced by the in-page enumeration script.
type Option struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// DropPlaceholder removes the leading "Select..." entry from a raw option
// list. The placeholder is always index 0 and carries no usable value, so the
// exclusion is positional, not a label heuristic. Source order of the
// remaining options is preserved.
func DropPlaceholder(opts []Option) []Option {
	if len(opts) == 0 {
		return opts
	}
	return opts[1:]
}

// NavigationError reports that the portal never became interactive: the
// landing page, the results page, or the selection controls failed to appear
// within their bounded waits. It is fatal to the run.
type NavigationError struct {
	Stage string
	Err   error
}

func (e *NavigationError) Error() string {
	return fmt.Sprintf("portal navigation failed at %s: %v", e.Stage, e.Err)
}

func (e *NavigationError) Unwrap() error { return e.Err }

// ErrTableNotVisible is returned by Submit when the results table does not
// become visible within the bounded wait. Callers treat it as a
// combination-level skip, never as a fatal error.
var ErrTableNotVisible = errors.New("results table did not become visible")

// ErrDownloadTimeout is returned by FetchViaClick when no browser download
// event correlated with the clicked URL arrives in time. Callers fail open:
// the owning record keeps an empty path.
var ErrDownloadTimeout = errors.New("no download event arrived for clicked link")
