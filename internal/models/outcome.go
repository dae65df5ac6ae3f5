package models

import (
	"time"

	"github.com/google/uuid"
)

// Outcome is a single routed attempt result, enqueued for the ledger.
type Outcome struct {
	TenantID   uuid.UUID `json:"tenant_id"`
	ProviderID string    `json:"provider_id"`
	Model      string    `json:"model"`
	Success    bool      `json:"success"`
	LatencyMs  int64     `json:"latency_ms"`
	CostUSD    float64   `json:"cost_usd"`
	Timestamp  time.Time `json:"timestamp"`
}

// PerformanceRecord is the persisted rolling statistic for one
// (tenant, provider, model) key. Rows are partitioned by tenant so no
// tenant's outcomes ever influence another's scores.
type PerformanceRecord struct {
	TenantID      uuid.UUID  `db:"tenant_id"`
	ProviderID    string     `db:"provider_id"`
	Model         string     `db:"model"`
	SuccessCount  int64      `db:"success_count"`
	FailureCount  int64      `db:"failure_count"`
	EMALatencyMs  float64    `db:"ema_latency_ms"`
	EMACostUSD    float64    `db:"ema_cost_usd"`
	LastFailureAt *time.Time `db:"last_failure_at"`
	UpdatedAt     time.Time  `db:"updated_at"`
}
