package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/mailflow/rudder/pipeline"
	"github.com/mailflow/rudder/registry"
)

type tenantSummary struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Active        bool     `json:"active"`
	PrimaryDomain string   `json:"primary_domain"`
	AliasDomains  []string `json:"alias_domains,omitempty"`
	Categories    []string `json:"categories"`
}

type tenantDetail struct {
	tenantSummary
	RoutingTable          map[string]string   `json:"routing_table"`
	CategoryKeywords      map[string][]string `json:"category_keywords,omitempty"`
	EscalationKeywords    map[string]string   `json:"escalation_keywords,omitempty"`
	VIPDomains            []string            `json:"vip_domains,omitempty"`
	VIPDestination        string              `json:"vip_destination,omitempty"`
	DefaultDestination    string              `json:"default_destination"`
	AfterHoursDestination string              `json:"after_hours_destination,omitempty"`
	BusinessHours         *businessHoursInfo  `json:"business_hours,omitempty"`
}

type businessHoursInfo struct {
	Timezone string `json:"timezone"`
	Start    string `json:"start"`
	End      string `json:"end"`
}

func summarize(t *registry.TenantConfig) tenantSummary {
	return tenantSummary{
		ID:            t.ID,
		Name:          t.Name,
		Active:        t.Active,
		PrimaryDomain: t.PrimaryDomain,
		AliasDomains:  t.AliasDomains,
		Categories:    t.Categories(),
	}
}

func detail(t *registry.TenantConfig) tenantDetail {
	d := tenantDetail{
		tenantSummary:         summarize(t),
		RoutingTable:          t.RoutingTable,
		CategoryKeywords:      t.CategoryKeywords,
		EscalationKeywords:    t.EscalationKeywords,
		VIPDomains:            t.VIPDomains,
		VIPDestination:        t.VIPDestination,
		DefaultDestination:    t.DefaultDestination,
		AfterHoursDestination: t.AfterHoursDestination,
	}
	if t.BusinessHours != nil {
		d.BusinessHours = &businessHoursInfo{
			Timezone: t.BusinessHours.Timezone,
			Start:    t.BusinessHours.Start,
			End:      t.BusinessHours.End,
		}
	}
	return d
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap, err := s.registry.Snapshot()
	if err != nil {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "unavailable",
			"reason": "tenant registry not loaded",
		})
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"generation": snap.Generation,
		"tenants":    snap.ActiveTenantCount(),
		"loaded_at":  snap.LoadedAt.Format(time.RFC3339),
	})
}

func (s *Server) handleRegistryReload(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.Reload(r.Context()); err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	snap, err := s.registry.Snapshot()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":     "reloaded",
		"generation": snap.Generation,
		"tenants":    len(snap.Tenants),
	})
}

func (s *Server) handleListTenants(w http.ResponseWriter, r *http.Request) {
	snap, err := s.registry.Snapshot()
	if err != nil {
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	summaries := make([]tenantSummary, 0, len(snap.Tenants))
	for _, t := range snap.Tenants {
		summaries = append(summaries, summarize(t))
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"generation": snap.Generation,
		"tenants":    summaries,
	})
}

func (s *Server) handleGetTenant(w http.ResponseWriter, r *http.Request) {
	snap, err := s.registry.Snapshot()
	if err != nil {
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	id := mux.Vars(r)["id"]
	tenant, ok := snap.TenantByID(id)
	if !ok {
		s.writeError(w, http.StatusNotFound, "tenant not found")
		return
	}

	s.writeJSON(w, http.StatusOK, detail(tenant))
}

type dryRunRequest struct {
	Sender     string `json:"sender"`
	Recipient  string `json:"recipient"`
	Subject    string `json:"subject"`
	Body       string `json:"body"`
	ReceivedAt string `json:"received_at,omitempty"` // RFC3339; defaults to now
}

type dryRunResponse struct {
	State          string            `json:"state"`
	MessageID      string            `json:"message_id"`
	Match          *matchInfo        `json:"match,omitempty"`
	Classification *classifyInfo     `json:"classification,omitempty"`
	Decision       *decisionInfo     `json:"decision,omitempty"`
	Reason         string            `json:"reason,omitempty"`
	Trace          []routingRuleInfo `json:"trace,omitempty"`
}

type matchInfo struct {
	TenantID      string  `json:"tenant_id"`
	Strategy      string  `json:"strategy"`
	Confidence    float64 `json:"confidence"`
	MatchedDomain string  `json:"matched_domain"`
}

type classifyInfo struct {
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
	Source     string  `json:"source"`
}

type decisionInfo struct {
	Destination string `json:"destination"`
	Rule        string `json:"rule"`
	Escalated   bool   `json:"escalated"`
}

type routingRuleInfo struct {
	Rule    string `json:"rule"`
	Matched bool   `json:"matched"`
	Detail  string `json:"detail,omitempty"`
}

func (s *Server) handleRouteDryRun(w http.ResponseWriter, r *http.Request) {
	var req dryRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Sender == "" || req.Recipient == "" {
		s.writeError(w, http.StatusBadRequest, "sender and recipient are required")
		return
	}

	receivedAt := time.Now()
	if req.ReceivedAt != "" {
		parsed, err := time.Parse(time.RFC3339, req.ReceivedAt)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "received_at must be RFC3339")
			return
		}
		receivedAt = parsed
	}

	outcome, err := s.runner.DryRun(r.Context(), &pipeline.InboundMessage{
		Sender:     req.Sender,
		Recipient:  req.Recipient,
		Subject:    req.Subject,
		Body:       req.Body,
		ReceivedAt: receivedAt,
	})
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := dryRunResponse{
		State:     string(outcome.State),
		MessageID: outcome.MessageID,
		Reason:    outcome.Reason,
	}
	if outcome.Match != nil {
		resp.Match = &matchInfo{
			TenantID:      outcome.Match.TenantID,
			Strategy:      string(outcome.Match.Strategy),
			Confidence:    outcome.Match.Confidence,
			MatchedDomain: outcome.Match.MatchedDomain,
		}
	}
	if outcome.Classification != nil {
		resp.Classification = &classifyInfo{
			Category:   outcome.Classification.Category,
			Confidence: outcome.Classification.Confidence,
			Source:     string(outcome.Classification.Source),
		}
	}
	if outcome.Decision != nil {
		resp.Decision = &decisionInfo{
			Destination: outcome.Decision.Destination,
			Rule:        string(outcome.Decision.MatchedRule),
			Escalated:   outcome.Decision.Escalated,
		}
		for _, eval := range outcome.Decision.Trace {
			resp.Trace = append(resp.Trace, routingRuleInfo{
				Rule:    string(eval.Rule),
				Matched: eval.Matched,
				Detail:  eval.Detail,
			})
		}
	}

	s.writeJSON(w, http.StatusOK, resp)
}
