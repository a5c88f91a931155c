package stats

import (
	"context"
	"time"

	resolver "github.com/always-cache/httpet/pkg/asset-resolver"
	statuscode "github.com/always-cache/httpet/pkg/status-code"
)

// Event is one resolved request.
//
// Animal is only set for registered animals, so that arbitrary subdomains
// cannot blow up the number of series or keys in a backend.
type Event struct {
	Animal string
	Code   statuscode.Code
	Kind   resolver.Kind
	At     time.Time
}

// Recorder stores resolution statistics.
// Callers treat errors as best-effort and never fail a request because of them.
type Recorder interface {
	Record(ctx context.Context, ev Event) error
}

// Multi records to every recorder and returns the first error.
type Multi []Recorder

func (m Multi) Record(ctx context.Context, ev Event) error {
	var first error
	for _, r := range m {
		if r == nil {
			continue
		}
		if err := r.Record(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}
