package domain

import "context"

type operatorKey struct{}

// Operator carries the authenticated operator identity through request
// context. Authentication itself happens upstream; the engine only records
// who asked.
type Operator struct {
	Name string
}

// WithOperator stores an Operator in the context.
func WithOperator(ctx context.Context, op Operator) context.Context {
	return context.WithValue(ctx, operatorKey{}, op)
}

// OperatorFromContext extracts the Operator from the context.
func OperatorFromContext(ctx context.Context) (Operator, bool) {
	op, ok := ctx.Value(operatorKey{}).(Operator)
	return op, ok
}

// OperatorName returns the operator name from the context, or "system" when
// no operator is present (reconciler-initiated work).
func OperatorName(ctx context.Context) string {
	if op, ok := OperatorFromContext(ctx); ok && op.Name != "" {
		return op.Name
	}
	return "system"
}
