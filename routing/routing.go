// Package routing turns a resolved tenant plus a classification into a
// destination address. Rules are layered in fixed priority: VIP domain,
// escalation keyword, after-hours, category mapping, default. The first
// matching rule wins, and every rule evaluated on the way is recorded in
// the decision's reasoning trace for audit.
package routing

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/mailflow/rudder/classify"
	"github.com/mailflow/rudder/consts"
	"github.com/mailflow/rudder/helpers"
	"github.com/mailflow/rudder/pkg/metrics"
	"github.com/mailflow/rudder/registry"
)

type Rule string

const (
	RuleVIP        Rule = "vip"
	RuleEscalation Rule = "escalation"
	RuleAfterHours Rule = "after-hours"
	RuleCategory   Rule = "category"
	RuleDefault    Rule = "default"
)

// vipEscalationThreshold: a VIP message with classification confidence
// below this is additionally flagged escalated, so uncertain-but-important
// mail gets human eyes.
const vipEscalationThreshold = 0.6

// Clock supplies the current time for business-hours evaluation.
// Injectable so boundary behavior is testable deterministically.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns a Clock backed by time.Now.
func SystemClock() Clock { return systemClock{} }

// RuleEval records one rule evaluation for the reasoning trace.
type RuleEval struct {
	Rule    Rule   `json:"rule"`
	Matched bool   `json:"matched"`
	Detail  string `json:"detail,omitempty"`
}

// Decision is the terminal routing output for one message.
type Decision struct {
	Destination string
	MatchedRule Rule
	Escalated   bool
	Trace       []RuleEval
}

// Metadata is the per-message context the rules consume.
type Metadata struct {
	SenderAddress string
	Subject       string
	Body          string
	ReceivedAt    time.Time
}

type Engine struct {
	clock Clock
}

func NewEngine(clock Clock) *Engine {
	if clock == nil {
		clock = SystemClock()
	}
	return &Engine{clock: clock}
}

// Route applies the rule layers in priority order and returns the first
// hit. It fails only when the tenant is misconfigured: no rule matched and
// no default destination exists.
func (e *Engine) Route(tenant *registry.TenantConfig, classification classify.Result, meta Metadata) (*Decision, error) {
	var trace []RuleEval

	// 1. VIP domain override.
	senderDomain := helpers.DomainFromAddress(meta.SenderAddress)
	if tenant.IsVIPDomain(senderDomain) {
		escalated := classification.Confidence < vipEscalationThreshold
		trace = append(trace, RuleEval{Rule: RuleVIP, Matched: true, Detail: fmt.Sprintf("sender domain %q is VIP", senderDomain)})
		return e.decided(&Decision{
			Destination: tenant.VIPDestination,
			MatchedRule: RuleVIP,
			Escalated:   escalated,
			Trace:       trace,
		}), nil
	}
	trace = append(trace, RuleEval{Rule: RuleVIP, Matched: false})

	// 2. Escalation keyword override.
	if keyword, destination, ok := matchEscalationKeyword(tenant, meta); ok {
		trace = append(trace, RuleEval{Rule: RuleEscalation, Matched: true, Detail: fmt.Sprintf("keyword %q", keyword)})
		return e.decided(&Decision{
			Destination: destination,
			MatchedRule: RuleEscalation,
			Escalated:   true,
			Trace:       trace,
		}), nil
	}
	trace = append(trace, RuleEval{Rule: RuleEscalation, Matched: false})

	// 3. After-hours override, evaluated at the message timestamp when the
	// ingestion layer supplied one, otherwise at the clock's now.
	ts := meta.ReceivedAt
	if ts.IsZero() {
		ts = e.clock.Now()
	}
	if tenant.BusinessHours != nil && !tenant.InBusinessHours(ts) {
		trace = append(trace, RuleEval{Rule: RuleAfterHours, Matched: true, Detail: "outside business hours"})
		return e.decided(&Decision{
			Destination: tenant.AfterHoursDestination,
			MatchedRule: RuleAfterHours,
			Trace:       trace,
		}), nil
	}
	trace = append(trace, RuleEval{Rule: RuleAfterHours, Matched: false})

	// 4. Category mapping.
	if destination, ok := tenant.RoutingTable[classification.Category]; ok && destination != "" {
		trace = append(trace, RuleEval{Rule: RuleCategory, Matched: true, Detail: fmt.Sprintf("category %q", classification.Category)})
		return e.decided(&Decision{
			Destination: destination,
			MatchedRule: RuleCategory,
			Trace:       trace,
		}), nil
	}
	trace = append(trace, RuleEval{Rule: RuleCategory, Matched: false, Detail: fmt.Sprintf("no mapping for category %q", classification.Category)})

	// 5. Default.
	if tenant.DefaultDestination == "" {
		return nil, fmt.Errorf("%w: tenant %q", consts.ErrNoDefaultDestination, tenant.ID)
	}
	trace = append(trace, RuleEval{Rule: RuleDefault, Matched: true})
	return e.decided(&Decision{
		Destination: tenant.DefaultDestination,
		MatchedRule: RuleDefault,
		Trace:       trace,
	}), nil
}

func (e *Engine) decided(d *Decision) *Decision {
	metrics.RoutingDecisionsTotal.WithLabelValues(string(d.MatchedRule)).Inc()
	if d.Escalated {
		metrics.EscalationsTotal.Inc()
	}
	return d
}

// matchEscalationKeyword scans subject and body for the tenant's escalation
// keywords, case-insensitively. Keywords are checked in sorted order so the
// matched keyword is deterministic when several are present.
func matchEscalationKeyword(tenant *registry.TenantConfig, meta Metadata) (string, string, bool) {
	if len(tenant.EscalationKeywords) == 0 {
		return "", "", false
	}

	haystack := strings.ToLower(meta.Subject + "\n" + meta.Body)

	keywords := make([]string, 0, len(tenant.EscalationKeywords))
	for kw := range tenant.EscalationKeywords {
		keywords = append(keywords, kw)
	}
	sort.Strings(keywords)

	for _, kw := range keywords {
		if kw != "" && strings.Contains(haystack, strings.ToLower(kw)) {
			return kw, tenant.EscalationKeywords[kw], true
		}
	}
	return "", "", false
}
