package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Health reports whether the database answers a ping within the deadline.
type Health struct {
	Healthy bool          `json:"healthy"`
	Latency time.Duration `json:"latency"`
	Error   string        `json:"error,omitempty"`
}

func CheckHealth(ctx context.Context, pool *pgxpool.Pool) Health {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	start := time.Now()
	err := pool.Ping(ctx)
	h := Health{Healthy: err == nil, Latency: time.Since(start)}
	if err != nil {
		h.Error = err.Error()
	}
	return h
}
