package model

import "fmt"

// InvalidTreeError reports a structurally impossible declaration. It is
// raised while the tree is being declared, before any layout or code exists.
type InvalidTreeError struct {
	Node   string
	Reason string
}

func (e *InvalidTreeError) Error() string {
	if e.Node == "" {
		return "invalid tree: " + e.Reason
	}
	return fmt.Sprintf("invalid tree at node %q: %s", e.Node, e.Reason)
}

func invalid(node, format string, args ...any) error {
	return &InvalidTreeError{Node: node, Reason: fmt.Sprintf(format, args...)}
}
