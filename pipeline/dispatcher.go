package pipeline

import (
	"context"

	"github.com/mailflow/rudder/logger"
)

// LogDispatcher is the default delivery collaborator: it emits the routed
// decision as a structured log line and nothing else. Deployments wanting
// real delivery plug in their own Dispatcher.
type LogDispatcher struct{}

func NewLogDispatcher() *LogDispatcher {
	return &LogDispatcher{}
}

func (d *LogDispatcher) Dispatch(ctx context.Context, msg *InboundMessage, outcome *Outcome) error {
	logger.Info("Dispatching routed message",
		"decision_id", outcome.DecisionID,
		"destination", outcome.Decision.Destination,
		"rule", string(outcome.Decision.MatchedRule),
		"escalated", outcome.Decision.Escalated)
	return nil
}
