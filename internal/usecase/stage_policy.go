package usecase

import (
	"fmt"
	"strings"

	"booksoul/internal/domain"
)

// StagePolicy decides whether a book may move from one stage to another.
type StagePolicy interface {
	Allow(from, to domain.Stage) error
}

// PermissiveStages accepts any known target stage, including moving back.
type PermissiveStages struct{}

func (PermissiveStages) Allow(_, to domain.Stage) error {
	if !to.Valid() {
		return newError(ErrorValidation, "unknown_stage", fmt.Errorf("stage %q", to))
	}
	return nil
}

// ForwardOnlyStages accepts staying put or moving forward along the line.
type ForwardOnlyStages struct{}

func (ForwardOnlyStages) Allow(from, to domain.Stage) error {
	if !to.Valid() {
		return newError(ErrorValidation, "unknown_stage", fmt.Errorf("stage %q", to))
	}
	if to.Index() < from.Index() {
		return newError(ErrorConflict, "stage_regression", fmt.Errorf("%s -> %s", from, to))
	}
	return nil
}

// StagePolicyByName maps a configuration value to a policy.
func StagePolicyByName(name string) (StagePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "permissive":
		return PermissiveStages{}, nil
	case "forward_only", "forward-only", "forwardonly":
		return ForwardOnlyStages{}, nil
	default:
		return nil, fmt.Errorf("usecase: unknown stage policy %q", name)
	}
}
