// Package recovery provides startup self-healing for the movierec engine.
// Components register recovery logic with a manager; the manager runs all of
// it once during application startup, so a restart heals state that went bad
// while the process was down.
package recovery

import (
	"context"
	"fmt"
	"log/slog"
)

// Recoverable defines the interface for components that can heal their state
// at startup.
type Recoverable interface {
	// RecoverState is called during application startup to restore component state.
	RecoverState(ctx context.Context) error
}

// RecoverableFunc adapts a plain function to the Recoverable interface.
type RecoverableFunc func(ctx context.Context) error

func (f RecoverableFunc) RecoverState(ctx context.Context) error { return f(ctx) }

// Manager orchestrates recovery of all registered components.
type Manager struct {
	recoverables []Recoverable
}

// NewManager creates a new recovery manager.
func NewManager() *Manager {
	return &Manager{recoverables: make([]Recoverable, 0)}
}

// Register adds a component that can be recovered.
func (m *Manager) Register(r Recoverable) {
	m.recoverables = append(m.recoverables, r)
}

// RecoverAll performs recovery of all registered components. A failing
// component is logged and skipped; the remaining components still run.
func (m *Manager) RecoverAll(ctx context.Context) error {
	slog.Info("Starting application recovery", "components", len(m.recoverables))

	recoveredCount := 0
	errorCount := 0

	for _, recoverable := range m.recoverables {
		if err := recoverable.RecoverState(ctx); err != nil {
			slog.Error("Component recovery failed", "error", err, "component", fmt.Sprintf("%T", recoverable))
			errorCount++
			continue
		}
		recoveredCount++
	}

	slog.Info("Application recovery completed", "recovered", recoveredCount, "errors", errorCount)

	if errorCount > 0 {
		return fmt.Errorf("recovery completed with %d errors out of %d components", errorCount, len(m.recoverables))
	}

	return nil
}
