//go:build !linux

package engine

import (
	"context"

	"runbox/internal/execution/sandbox/result"
	"runbox/internal/execution/sandbox/spec"
)

type stubEngine struct{}

// NewEngine returns an engine that fails every run. Direct supervision
// needs /proc and process groups; use NewDelegated elsewhere.
func NewEngine(cfg Config) (Engine, error) {
	return &stubEngine{}, nil
}

func (s *stubEngine) Run(ctx context.Context, runSpec spec.RunSpec) result.Outcome {
	return result.Failure("direct supervision is only supported on linux")
}
