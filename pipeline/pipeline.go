// Package pipeline sequences resolution, classification, and routing for
// each inbound message. Every message ends in exactly one terminal state:
// Routed (a decision was produced and dispatched), Unresolved (no tenant
// could be attributed, needs manual triage), or Misconfigured (a tenant was
// resolved but its configuration cannot produce a destination). Messages
// are independent tasks; nothing here blocks one message on another beyond
// the classifier's shared concurrency cap.
package pipeline

import (
	"context"
	"encoding/hex"
	"errors"
	"time"

	"github.com/google/uuid"
	"lukechampine.com/blake3"

	"github.com/mailflow/rudder/classify"
	"github.com/mailflow/rudder/consts"
	"github.com/mailflow/rudder/helpers"
	"github.com/mailflow/rudder/logger"
	"github.com/mailflow/rudder/pkg/metrics"
	"github.com/mailflow/rudder/registry"
	"github.com/mailflow/rudder/resolver"
	"github.com/mailflow/rudder/routing"
)

type State string

const (
	StateRouted        State = "routed"
	StateUnresolved    State = "unresolved"
	StateMisconfigured State = "misconfigured"
)

// InboundMessage is the normalized record handed in by the ingestion layer.
type InboundMessage = helpers.NormalizedMessage

// Outcome is the terminal result for one message. Match, Classification,
// and Decision are populated progressively; an Unresolved outcome carries
// no classification or decision.
type Outcome struct {
	State          State
	MessageID      string
	DecisionID     string
	Match          *resolver.Match
	Classification *classify.Result
	Decision       *routing.Decision
	Reason         string
	Duration       time.Duration
}

// Dispatcher hands a routed message to the downstream delivery collaborator.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg *InboundMessage, outcome *Outcome) error
}

type Pipeline struct {
	registry   *registry.Registry
	resolver   *resolver.Resolver
	classifier *classify.Classifier
	engine     *routing.Engine
	dispatcher Dispatcher
	deadline   time.Duration
}

func New(reg *registry.Registry, res *resolver.Resolver, cls *classify.Classifier, eng *routing.Engine, disp Dispatcher, deadline time.Duration) *Pipeline {
	if deadline <= 0 {
		deadline = 10 * time.Second
	}
	return &Pipeline{
		registry:   reg,
		resolver:   res,
		classifier: cls,
		engine:     eng,
		dispatcher: disp,
		deadline:   deadline,
	}
}

// Process runs one message through the pipeline under a bounded deadline.
// It always returns an outcome; the error is non-nil only when dispatch of
// a routed message failed, so ingestion can signal a retryable condition.
func (p *Pipeline) Process(ctx context.Context, msg *InboundMessage) (*Outcome, error) {
	return p.run(ctx, msg, true)
}

// DryRun evaluates a message without dispatching it and without counting it
// in the pipeline metrics. The admin API uses it to preview routing.
func (p *Pipeline) DryRun(ctx context.Context, msg *InboundMessage) (*Outcome, error) {
	return p.run(ctx, msg, false)
}

func (p *Pipeline) run(ctx context.Context, msg *InboundMessage, deliver bool) (*Outcome, error) {
	ctx, cancel := context.WithTimeout(ctx, p.deadline)
	defer cancel()

	start := time.Now()
	outcome := &Outcome{
		MessageID:  MessageID(msg),
		DecisionID: uuid.New().String(),
	}
	defer func() {
		outcome.Duration = time.Since(start)
		if deliver {
			metrics.MessagesTotal.WithLabelValues(string(outcome.State)).Inc()
			metrics.MessageDuration.WithLabelValues(string(outcome.State)).Observe(outcome.Duration.Seconds())
			p.audit(msg, outcome)
		}
	}()

	snap, err := p.registry.Snapshot()
	if err != nil {
		outcome.State = StateMisconfigured
		outcome.Reason = err.Error()
		return outcome, nil
	}

	match, err := p.resolveTenant(msg, snap)
	if err != nil {
		outcome.State = StateUnresolved
		outcome.Reason = err.Error()
		return outcome, nil
	}
	outcome.Match = match

	classification := p.classifier.Classify(ctx, msg.Subject+"\n"+msg.Body, match.Tenant)
	outcome.Classification = &classification

	decision, err := p.engine.Route(match.Tenant, classification, routing.Metadata{
		SenderAddress: msg.Sender,
		Subject:       msg.Subject,
		Body:          msg.Body,
		ReceivedAt:    msg.ReceivedAt,
	})
	if err != nil {
		outcome.State = StateMisconfigured
		outcome.Reason = err.Error()
		return outcome, nil
	}
	outcome.Decision = decision
	outcome.State = StateRouted

	if deliver && p.dispatcher != nil {
		if err := p.dispatcher.Dispatch(ctx, msg, outcome); err != nil {
			return outcome, err
		}
	}
	return outcome, nil
}

// resolveTenant tries the recipient's domain first, then the sender's. The
// recipient side is the strong signal for inbound mail; the sender side
// covers replies and forwarded traffic addressed to shared infrastructure.
func (p *Pipeline) resolveTenant(msg *InboundMessage, snap *registry.Snapshot) (*resolver.Match, error) {
	recipientDomain := helpers.DomainFromAddress(msg.Recipient)
	match, recipientErr := p.resolver.Resolve(recipientDomain, snap)
	if recipientErr == nil {
		return match, nil
	}
	if errors.Is(recipientErr, consts.ErrAmbiguousMatch) {
		return nil, recipientErr
	}

	senderDomain := helpers.DomainFromAddress(msg.Sender)
	match, senderErr := p.resolver.Resolve(senderDomain, snap)
	if senderErr == nil {
		return match, nil
	}
	return nil, recipientErr
}

func (p *Pipeline) audit(msg *InboundMessage, outcome *Outcome) {
	fields := []any{
		"decision_id", outcome.DecisionID,
		"message_id", outcome.MessageID,
		"state", string(outcome.State),
		"sender", msg.Sender,
		"recipient", msg.Recipient,
		"duration", outcome.Duration,
	}
	if outcome.Match != nil {
		fields = append(fields,
			"tenant", outcome.Match.TenantID,
			"strategy", string(outcome.Match.Strategy),
			"match_confidence", outcome.Match.Confidence)
	}
	if outcome.Classification != nil {
		fields = append(fields,
			"category", outcome.Classification.Category,
			"classification_source", string(outcome.Classification.Source),
			"classification_confidence", outcome.Classification.Confidence)
	}
	if outcome.Decision != nil {
		fields = append(fields,
			"destination", outcome.Decision.Destination,
			"rule", string(outcome.Decision.MatchedRule),
			"escalated", outcome.Decision.Escalated,
			"trace", outcome.Decision.Trace)
	}
	if outcome.Reason != "" {
		fields = append(fields, "reason", outcome.Reason)
	}
	logger.Info("Message processed", fields...)
}

// MessageID derives a stable content hash for a message, used for audit
// correlation and dedup downstream.
func MessageID(msg *InboundMessage) string {
	h := blake3.New(16, nil)
	h.Write([]byte(msg.Sender))
	h.Write([]byte{0})
	h.Write([]byte(msg.Recipient))
	h.Write([]byte{0})
	h.Write([]byte(msg.Subject))
	h.Write([]byte{0})
	h.Write([]byte(msg.Body))
	return hex.EncodeToString(h.Sum(nil))
}
