package statemachine

import (
	"context"
	"strings"
)

// Resolve finds the target of an action fired from the subject's current state
func (t *Table) Resolve(ctx context.Context, subject Subject, action Action) (State, error) {
	from := subject.SubjectState()
	config, exists := t.configurations[from]
	if !exists || len(config.transitions[action]) == 0 {
		return "", t.reject(subject, action, "", ErrInvalidTransition, "")
	}

	var reasons []string
	for _, tr := range config.transitions[action] {
		if tr.guard == nil {
			return tr.toState, nil
		}
		if err := tr.guard(ctx, subject); err != nil {
			reasons = append(reasons, err.Error())
			continue
		}
		return tr.toState, nil
	}

	return "", t.reject(subject, action, "", ErrGuardFailed, strings.Join(reasons, "; "))
}

// Validate checks a (current state, target state) pair and returns the action of the first
// edge whose guard passes
func (t *Table) Validate(ctx context.Context, subject Subject, toState State) (Action, error) {
	from := subject.SubjectState()
	if !t.IsValid(toState) {
		return "", t.reject(subject, "", toState, ErrInvalidState, "")
	}

	config, exists := t.configurations[from]
	if !exists {
		return "", t.reject(subject, "", toState, ErrInvalidTransition, "")
	}

	var (
		matched bool
		reasons []string
	)
	for _, action := range config.actions {
		for _, tr := range config.transitions[action] {
			if tr.toState != toState {
				continue
			}
			matched = true
			if tr.guard == nil {
				return action, nil
			}
			if err := tr.guard(ctx, subject); err != nil {
				reasons = append(reasons, err.Error())
				continue
			}
			return action, nil
		}
	}

	if !matched {
		return "", t.reject(subject, "", toState, ErrInvalidTransition, "")
	}
	return "", t.reject(subject, "", toState, ErrGuardFailed, strings.Join(reasons, "; "))
}

// PermittedActions returns the actions declared for a state, ignoring guards
func (t *Table) PermittedActions(from State) []Action {
	config, exists := t.configurations[from]
	if !exists {
		return []Action{}
	}
	return append([]Action{}, config.actions...)
}

func (t *Table) reject(subject Subject, action Action, to State, sentinel error, reason string) error {
	return &TransitionError{
		EntityType: t.entityType,
		EntityID:   subject.SubjectID(),
		From:       subject.SubjectState(),
		To:         to,
		Action:     action,
		Reason:     reason,
		Err:        sentinel,
	}
}
