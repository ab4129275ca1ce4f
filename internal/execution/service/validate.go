package service

import (
	"strings"

	"runbox/internal/execution/model"
	"runbox/internal/execution/sandbox"
	"runbox/internal/execution/sandbox/spec"
	appErr "runbox/pkg/errors"
)

// LimitsConfig bounds what a single request may ask for.
type LimitsConfig struct {
	MaxTestCases    int   `yaml:"maxTestCases"`
	MaxCodeBytes    int   `yaml:"maxCodeBytes"`
	DefaultTimeMs   int64 `yaml:"defaultTimeMs"`
	MaxTimeMs       int64 `yaml:"maxTimeMs"`
	DefaultMemoryKb int64 `yaml:"defaultMemoryKb"`
	MaxMemoryKb     int64 `yaml:"maxMemoryKb"`
}

func (l *LimitsConfig) fillDefaults() {
	if l.MaxTestCases <= 0 {
		l.MaxTestCases = 20
	}
	if l.MaxCodeBytes <= 0 {
		l.MaxCodeBytes = 64 << 10
	}
	if l.MaxTimeMs <= 0 {
		l.MaxTimeMs = 10000
	}
	if l.DefaultTimeMs <= 0 || l.DefaultTimeMs > l.MaxTimeMs {
		l.DefaultTimeMs = min(2000, l.MaxTimeMs)
	}
	if l.MaxMemoryKb <= 0 {
		l.MaxMemoryKb = 1 << 20
	}
	if l.DefaultMemoryKb <= 0 || l.DefaultMemoryKb > l.MaxMemoryKb {
		l.DefaultMemoryKb = min(256<<10, l.MaxMemoryKb)
	}
}

// Validate turns an API request into a sandbox request, filling default limits.
func (s *Service) Validate(req model.ExecuteRequest) (sandbox.ExecuteRequest, error) {
	lang, err := s.registry.Lookup(req.Language)
	if err != nil {
		return sandbox.ExecuteRequest{}, err
	}
	if strings.TrimSpace(req.Code) == "" {
		return sandbox.ExecuteRequest{}, appErr.ValidationError("code", "required")
	}
	if len(req.Code) > s.limits.MaxCodeBytes {
		return sandbox.ExecuteRequest{}, appErr.Newf(appErr.CodeTooLarge, "code exceeds %d bytes", s.limits.MaxCodeBytes)
	}
	if len(req.TestCases) > s.limits.MaxTestCases {
		return sandbox.ExecuteRequest{}, appErr.Newf(appErr.TooManyTestCases, "at most %d test cases are allowed", s.limits.MaxTestCases)
	}

	cases := make([]spec.TestCase, 0, len(req.TestCases))
	for i, tc := range req.TestCases {
		timeMs, err := s.limit(i, "timeLimitMs", tc.TimeLimitMs, s.limits.DefaultTimeMs, s.limits.MaxTimeMs)
		if err != nil {
			return sandbox.ExecuteRequest{}, err
		}
		memKb, err := s.limit(i, "memoryLimitKb", tc.MemoryLimitKb, s.limits.DefaultMemoryKb, s.limits.MaxMemoryKb)
		if err != nil {
			return sandbox.ExecuteRequest{}, err
		}
		cases = append(cases, spec.TestCase{
			Stdin:         []byte(tc.Stdin),
			TimeLimitMs:   timeMs,
			MemoryLimitKB: memKb,
		})
	}
	return sandbox.ExecuteRequest{
		Language:  lang.ID,
		Code:      req.Code,
		TestCases: cases,
	}, nil
}

func (s *Service) limit(index int, field string, value, def, max int64) (int64, error) {
	switch {
	case value == 0:
		return def, nil
	case value < 0 || value > max:
		return 0, appErr.Newf(appErr.LimitOutOfRange, "testCases[%d].%s must be between 1 and %d", index, field, max).
			WithDetail("index", index).
			WithDetail("field", field)
	default:
		return value, nil
	}
}
