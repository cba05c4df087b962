package statemachine

import (
	"context"
	"fmt"
)

// GuardFunc evaluates an edge precondition. A nil return permits the edge;
// the returned error text becomes the reason of the guard failure.
type GuardFunc func(ctx context.Context, subject Subject) error

// Table is the declarative set of allowed edges for one entity type.
// Tables are built once at startup and are read-only afterwards.
type Table struct {
	entityType     EntityType
	states         map[State]bool
	terminal       map[State]bool
	initial        map[State]bool
	order          []State
	configurations map[State]*StateConfiguration
}

// StateConfiguration collects the outgoing edges of one state
type StateConfiguration struct {
	table       *Table
	fromState   State
	actions     []Action
	transitions map[Action][]transition
}

type transition struct {
	toState State
	guard   GuardFunc
}

// Edge is a flattened view of one table entry
type Edge struct {
	From    State
	Action  Action
	To      State
	Guarded bool
}

// NewTable creates an empty table over the given states
func NewTable(entityType EntityType, states []State) *Table {
	t := &Table{
		entityType:     entityType,
		states:         make(map[State]bool, len(states)),
		terminal:       make(map[State]bool),
		initial:        make(map[State]bool),
		configurations: make(map[State]*StateConfiguration),
	}
	for _, s := range states {
		t.states[s] = true
		t.order = append(t.order, s)
	}
	return t
}

// Terminal marks states that accept no further transitions
func (t *Table) Terminal(states ...State) *Table {
	for _, s := range states {
		t.mustBeValid(s)
		t.terminal[s] = true
	}
	return t
}

// Initial marks states an entity may be created in
func (t *Table) Initial(states ...State) *Table {
	for _, s := range states {
		t.mustBeValid(s)
		t.initial[s] = true
	}
	return t
}

// Configure returns the configuration for the given source state
func (t *Table) Configure(state State) *StateConfiguration {
	t.mustBeValid(state)
	if t.terminal[state] {
		panic(fmt.Sprintf("%s: terminal state %s cannot have outgoing edges", t.entityType, state))
	}

	config, exists := t.configurations[state]
	if !exists {
		config = &StateConfiguration{
			table:       t,
			fromState:   state,
			transitions: make(map[Action][]transition),
		}
		t.configurations[state] = config
	}
	return config
}

// Permit allows the action to move the entity to the target state
func (c *StateConfiguration) Permit(action Action, toState State) *StateConfiguration {
	return c.PermitIf(action, toState, nil)
}

// PermitIf allows the action to move the entity to the target state when the guard passes.
// Edges sharing an action are evaluated in declaration order.
func (c *StateConfiguration) PermitIf(action Action, toState State, guard GuardFunc) *StateConfiguration {
	c.table.mustBeValid(toState)

	if _, seen := c.transitions[action]; !seen {
		c.actions = append(c.actions, action)
	}
	c.transitions[action] = append(c.transitions[action], transition{
		toState: toState,
		guard:   guard,
	})
	return c
}

// EntityType returns the entity type the table governs
func (t *Table) EntityType() EntityType {
	return t.entityType
}

// IsValid reports whether the state belongs to the table
func (t *Table) IsValid(s State) bool {
	return t.states[s]
}

// IsTerminal reports whether the state has no outgoing edges by definition
func (t *Table) IsTerminal(s State) bool {
	return t.terminal[s]
}

// IsInitial reports whether an entity may be created in the state
func (t *Table) IsInitial(s State) bool {
	return t.initial[s]
}

// Edges lists every edge in source-state declaration order
func (t *Table) Edges() []Edge {
	var edges []Edge
	for _, from := range t.order {
		config, ok := t.configurations[from]
		if !ok {
			continue
		}
		for _, action := range config.actions {
			for _, tr := range config.transitions[action] {
				edges = append(edges, Edge{
					From:    from,
					Action:  action,
					To:      tr.toState,
					Guarded: tr.guard != nil,
				})
			}
		}
	}
	return edges
}

func (t *Table) mustBeValid(s State) {
	if !t.states[s] {
		panic(fmt.Sprintf("%s: invalid state: %s", t.entityType, s))
	}
}
