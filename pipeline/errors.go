package pipeline

import (
	"fmt"

	"github.com/aluiziolira/go-scrape-figures/models"
)

// AbortedError reports a session that stopped before the source was
// exhausted. The partial SessionResult is returned alongside it.
type AbortedError struct {
	Query     models.Query
	PageIndex int
	State     models.SessionState
	Cause     error
}

func (e *AbortedError) Error() string {
	return fmt.Sprintf("pipeline: session %s aborted at page %d while %s: %v",
		e.Query, e.PageIndex, e.State, e.Cause)
}

func (e *AbortedError) Unwrap() error {
	return e.Cause
}
