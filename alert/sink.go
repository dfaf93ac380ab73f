package alert

import "context"

// Sink is an alert output backend.
type Sink interface {
	Send(ctx context.Context, a Alert) error
	Close() error
}

// Func delivers alerts to an in-process function.
type Func func(ctx context.Context, a Alert) error

func (f Func) Send(ctx context.Context, a Alert) error { return f(ctx, a) }
func (f Func) Close() error                             { return nil }
