package models

import "time"

// RequestDescriptor describes one routed request. Ephemeral; one per call.
type RequestDescriptor struct {
	TaskType     string         `json:"task_type"`
	Capabilities []string       `json:"capabilities"`
	MaxLatency   time.Duration  `json:"-"`
	MaxCostHint  float64        `json:"max_cost_hint"` // per 1k calls, 0 = no hint
	Payload      map[string]any `json:"payload"`
}
