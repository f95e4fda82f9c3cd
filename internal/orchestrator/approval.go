package orchestrator

import "context"

// requiresApproval decides whether executing a tool needs an explicit
// operator decision. Tools annotated read-only never do; everything
// else does, and a metadata lookup failure fails closed.
func (o *Orchestrator) requiresApproval(ctx context.Context, tool string) bool {
	if o.catalog == nil {
		return true
	}
	spec, err := o.catalog.GetByName(ctx, tool)
	if err != nil || spec == nil {
		return true
	}
	if spec.Annotations != nil && spec.Annotations.ReadOnlyHint {
		return false
	}
	return true
}
