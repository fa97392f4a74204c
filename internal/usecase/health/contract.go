package health

import "context"

// DBPinger checks database availability.
type DBPinger interface {
	Ping(ctx context.Context) error
}

// Checker reports the health of an optional component.
type Checker interface {
	HealthCheck(ctx context.Context) error
}
