package helpers

import "strings"

// SplitEmailAddress splits an address into its local part and domain,
// both lowercased. The second return value is empty when the address
// has no "@".
func SplitEmailAddress(email string) (string, string) {
	email = strings.ToLower(strings.TrimSpace(email))
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return email, ""
	}
	return email[:at], email[at+1:]
}

// DomainFromAddress returns the lowercased domain of an email address,
// or "" if the address has none.
func DomainFromAddress(email string) string {
	_, domain := SplitEmailAddress(email)
	return domain
}

// NormalizeDomain lowercases a domain and strips surrounding whitespace
// and any trailing dot (FQDN form).
func NormalizeDomain(domain string) string {
	domain = strings.ToLower(strings.TrimSpace(domain))
	return strings.TrimSuffix(domain, ".")
}

// DomainLabels splits a normalized domain into its dot-separated labels.
// Empty labels are dropped, so "a..b" yields ["a", "b"].
func DomainLabels(domain string) []string {
	parts := strings.Split(NormalizeDomain(domain), ".")
	labels := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			labels = append(labels, p)
		}
	}
	return labels
}

// IsValidDomain reports whether a candidate string is plausibly a DNS
// domain: at least two labels, no spaces, no "@". It deliberately does
// not implement full RFC validation; resolution treats anything that
// fails this check as Unresolved rather than erroring.
func IsValidDomain(domain string) bool {
	domain = NormalizeDomain(domain)
	if domain == "" || strings.ContainsAny(domain, " @/\\") || strings.Contains(domain, "..") {
		return false
	}
	labels := DomainLabels(domain)
	if len(labels) < 2 {
		return false
	}
	for _, l := range labels {
		if len(l) > 63 {
			return false
		}
	}
	return len(domain) <= 253
}
