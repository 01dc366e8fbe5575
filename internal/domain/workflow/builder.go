package workflow

import "fmt"

// StateMachineBuilder builds a configured state machine
type StateMachineBuilder interface {
	// Configure returns the transition configuration for a status
	Configure(status Status) StateConfiguration

	// Build creates a new machine positioned at the given status
	Build(initial Status) StateMachine
}

// StateConfiguration configures the transitions leaving one status
type StateConfiguration interface {
	// Permit allows a trigger to move to the target status
	Permit(trigger Trigger, to Status) StateConfiguration
}

type stateConfig struct {
	from        Status
	transitions map[Trigger]Status
}

type stateMachineBuilder struct {
	configurations map[Status]*stateConfig
}

type stateMachine struct {
	current        Status
	configurations map[Status]*stateConfig
}

// NewBuilder creates a new state machine builder
func NewBuilder() StateMachineBuilder {
	return &stateMachineBuilder{
		configurations: make(map[Status]*stateConfig),
	}
}

// Configure returns the configuration for status, creating it on first use
func (b *stateMachineBuilder) Configure(status Status) StateConfiguration {
	if !status.IsValid() {
		panic(fmt.Sprintf("invalid status: %s", status))
	}

	config, exists := b.configurations[status]
	if !exists {
		config = &stateConfig{
			from:        status,
			transitions: make(map[Trigger]Status),
		}
		b.configurations[status] = config
	}

	return config
}

// Build creates an independent machine; later Configure calls do not affect it
func (b *stateMachineBuilder) Build(initial Status) StateMachine {
	if !initial.IsValid() {
		panic(fmt.Sprintf("invalid initial status: %s", initial))
	}

	configs := make(map[Status]*stateConfig, len(b.configurations))
	for status, config := range b.configurations {
		transitions := make(map[Trigger]Status, len(config.transitions))
		for trigger, to := range config.transitions {
			transitions[trigger] = to
		}
		configs[status] = &stateConfig{
			from:        status,
			transitions: transitions,
		}
	}

	return &stateMachine{
		current:        initial,
		configurations: configs,
	}
}

// Permit allows a trigger to move to the target status. A later Permit for
// the same trigger replaces the earlier one.
func (c *stateConfig) Permit(trigger Trigger, to Status) StateConfiguration {
	if !to.IsValid() {
		panic(fmt.Sprintf("invalid target status: %s", to))
	}

	c.transitions[trigger] = to
	return c
}

// Status returns the current status
func (m *stateMachine) Status() Status {
	return m.current
}

// Fire moves to the status configured for trigger
func (m *stateMachine) Fire(trigger Trigger) error {
	config, exists := m.configurations[m.current]
	if !exists {
		return fmt.Errorf("%w: cannot fire %s from %s (no configuration)", ErrIllegalTransition, trigger, m.current)
	}

	to, ok := config.transitions[trigger]
	if !ok {
		return fmt.Errorf("%w: cannot fire %s from %s", ErrIllegalTransition, trigger, m.current)
	}

	m.current = to
	return nil
}
