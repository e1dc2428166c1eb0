package domain

import "context"

// Tool is the interface for agent capabilities (shell, file ops, search, etc).
// Parameters returns a JSON Schema object; the registry validates arguments
// against it before Execute is invoked.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]any
	Execute(ctx context.Context, args map[string]any) (string, error)
}
