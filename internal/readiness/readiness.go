// Package readiness implements the WAIT_FOR gate: before a unit is
// launched, its declared condition is polled once per second for a bounded
// number of attempts. Exhausting the attempts is never fatal; the caller
// logs a warning and launches anyway.
package readiness

import (
	"context"
	"log/slog"
	"net"
	"strings"
	"time"
)

const (
	// PollInterval is the pause between condition checks.
	PollInterval = time.Second
	// dialTimeout bounds a single TCP probe attempt.
	dialTimeout = 3 * time.Second
)

// Condition is one readiness check. Implementations must be cheap enough to
// poll every second.
type Condition interface {
	Ready(ctx context.Context) bool
	Describe() string
}

// Parse turns a WAIT_FOR expression into a Condition:
//
//	tcp:host:port     ready once a TCP connect succeeds
//	service:name      ready once the named unit is alive (unit: is an alias)
//
// An empty expression yields nil (no waiting). Malformed or unknown
// expressions are logged and treated as instantly ready, matching the rule
// that readiness never blocks a launch permanently.
func Parse(expr string, alive func(name string) bool) Condition {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil
	}
	switch {
	case strings.HasPrefix(expr, "tcp:"):
		addr := strings.TrimPrefix(expr, "tcp:")
		if _, _, err := net.SplitHostPort(addr); err != nil {
			slog.Warn("readiness: bad tcp address, treating as ready", "expr", expr, "error", err)
			return alwaysReady{}
		}
		return &TCPCondition{Addr: addr}
	case strings.HasPrefix(expr, "service:"), strings.HasPrefix(expr, "unit:"):
		name := expr[strings.IndexByte(expr, ':')+1:]
		if name == "" || alive == nil {
			slog.Warn("readiness: unusable service condition, treating as ready", "expr", expr)
			return alwaysReady{}
		}
		return &UnitCondition{Name: name, alive: alive}
	default:
		slog.Warn("readiness: unknown condition scheme, treating as ready", "expr", expr)
		return alwaysReady{}
	}
}

// Await polls c until it reports ready, the attempts are exhausted, or ctx
// is canceled. attempts must be >= 1; polls are PollInterval apart.
func Await(ctx context.Context, c Condition, attempts int) bool {
	if c == nil {
		return true
	}
	for i := 0; i < attempts; i++ {
		if c.Ready(ctx) {
			return true
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(PollInterval):
		}
	}
	return false
}

// TCPCondition is ready when a TCP connection to Addr succeeds.
type TCPCondition struct {
	Addr string
}

func (c *TCPCondition) Ready(ctx context.Context) bool {
	d := net.Dialer{Timeout: dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", c.Addr)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

func (c *TCPCondition) Describe() string { return "tcp " + c.Addr }

// UnitCondition is ready when another supervised unit is alive.
type UnitCondition struct {
	Name  string
	alive func(name string) bool
}

func (c *UnitCondition) Ready(_ context.Context) bool { return c.alive(c.Name) }

func (c *UnitCondition) Describe() string { return "unit " + c.Name }

type alwaysReady struct{}

func (alwaysReady) Ready(_ context.Context) bool { return true }

func (alwaysReady) Describe() string { return "none" }
