package simulation

import (
	"context"

	"citynav/logging"
)

const (
	// EventTickBudgetOverrun is emitted when an engine update exceeds the tick budget.
	EventTickBudgetOverrun logging.EventType = "simulation.tick_budget_overrun"
	// EventTickBudgetRecovered closes an overrun streak.
	EventTickBudgetRecovered logging.EventType = "simulation.tick_budget_recovered"

	category = "simulation"
)

// TickBudgetOverrunPayload captures timing details for a tick budget breach.
type TickBudgetOverrunPayload struct {
	DurationMillis float64 `json:"durationMillis"`
	BudgetMillis   float64 `json:"budgetMillis"`
	Ratio          float64 `json:"ratio"`
	Streak         uint64  `json:"streak"`
	Resolved       int     `json:"resolved"`
	QueueLength    int     `json:"queueLength"`
}

// TickBudgetRecoveredPayload reports how long the preceding streak lasted.
type TickBudgetRecoveredPayload struct {
	Streak         uint64  `json:"streak"`
	DurationMillis float64 `json:"durationMillis"`
}

// TickBudgetOverrun publishes a warning when the tick loop exceeds its budget.
func TickBudgetOverrun(ctx context.Context, pub logging.Publisher, tick uint64, payload TickBudgetOverrunPayload, extra map[string]any) {
	publish(ctx, pub, tick, EventTickBudgetOverrun, logging.SeverityWarn, payload, extra)
}

// TickBudgetRecovered publishes the first in-budget tick after a streak.
func TickBudgetRecovered(ctx context.Context, pub logging.Publisher, tick uint64, payload TickBudgetRecoveredPayload) {
	publish(ctx, pub, tick, EventTickBudgetRecovered, logging.SeverityInfo, payload, nil)
}

func publish(ctx context.Context, pub logging.Publisher, tick uint64, eventType logging.EventType, severity logging.Severity, payload any, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     eventType,
		Tick:     tick,
		Actor:    logging.EntityRef{Kind: logging.EntityKindEngine},
		Severity: severity,
		Category: category,
		Payload:  payload,
		Extra:    extra,
	})
}
