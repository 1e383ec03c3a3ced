package helpers

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitEmailAddress(t *testing.T) {
	local, domain := SplitEmailAddress("Alice@ACME.com")
	assert.Equal(t, "alice", local)
	assert.Equal(t, "acme.com", domain)

	// Quoted local parts can contain "@"; the last one separates the domain.
	local, domain = SplitEmailAddress(`"a@b"@acme.com`)
	assert.Equal(t, `"a@b"`, local)
	assert.Equal(t, "acme.com", domain)

	_, domain = SplitEmailAddress("not-an-address")
	assert.Empty(t, domain)
}

func TestNormalizeDomain(t *testing.T) {
	assert.Equal(t, "acme.com", NormalizeDomain("  ACME.com. "))
	assert.Equal(t, "acme.com", NormalizeDomain("acme.com"))
	assert.Equal(t, "", NormalizeDomain("   "))
}

func TestDomainLabels(t *testing.T) {
	assert.Equal(t, []string{"mail", "acme", "com"}, DomainLabels("mail.acme.com"))
	assert.Equal(t, []string{"acme", "com"}, DomainLabels("ACME.COM."))
}

func TestIsValidDomain(t *testing.T) {
	valid := []string{"acme.com", "mail.support.acme.com", "a-b.co"}
	for _, d := range valid {
		assert.True(t, IsValidDomain(d), d)
	}

	invalid := []string{"", "   ", "nodots", "has space.com", "user@acme.com", "double..dot.com"}
	for _, d := range invalid {
		assert.False(t, IsValidDomain(d), d)
	}
}
