package seed_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amakua/uapk-gateway/pkg/domain"
	"github.com/amakua/uapk-gateway/pkg/manifeststore"
	"github.com/amakua/uapk-gateway/pkg/seed"
)

const manifestFixture = `
id: invoice-approval
name: Invoice Approval Agent
description: Approves vendor invoices under a daily cap
uapk_id: agent-{{ORG_SLUG}}-invoices
version: 1.0.0
manifest:
  capabilities:
    requested:
      - "invoice:approve"
      - "invoice:*"
  constraints:
    max_actions_per_day: 50
    require_human_approval: true
  metadata:
    owner: "{{ORG_SLUG}}"
`

const policyFixture = `
id: invoice-amount-cap
name: Invoice amount cap
description: Denies invoice approvals over the configured ceiling
policy_type: deny
scope: action
priority: 10
enabled: true
rules:
  action_pattern: "invoice:approve"
  amount_caps: 5000
`

type stubPolicyInserter struct {
	inserted []*domain.Policy
}

func (s *stubPolicyInserter) Insert(p *domain.Policy) error {
	s.inserted = append(s.inserted, p)
	return nil
}

func writeFixture(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
}

func TestLoadManifestFixtures_SubstitutesPlaceholders(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "manifest_invoices.yaml", manifestFixture)

	fixtures, err := seed.LoadManifestFixtures(dir, map[string]string{"ORG_SLUG": "acme"})
	require.NoError(t, err)
	require.Len(t, fixtures, 1)

	f := fixtures[0]
	assert.Equal(t, "agent-acme-invoices", f.UAPKID)
	assert.Equal(t, "1.0.0", f.Version)
	assert.Equal(t, []string{"invoice:approve", "invoice:*"}, f.Manifest.Capabilities.Requested)
	assert.True(t, f.Manifest.Constraints.RequireHumanApproval)
	assert.Equal(t, "acme", f.Manifest.Metadata["owner"])
}

func TestLoadManifestFixtures_UnknownPlaceholderPassesThrough(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "manifest_invoices.yaml", manifestFixture)

	fixtures, err := seed.LoadManifestFixtures(dir, nil)
	require.NoError(t, err)
	require.Len(t, fixtures, 1)
	assert.Equal(t, "agent-{{ORG_SLUG}}-invoices", fixtures[0].UAPKID)
}

func TestLoadPolicyFixtures(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "policy_invoice_cap.yaml", policyFixture)

	fixtures, err := seed.LoadPolicyFixtures(dir, nil)
	require.NoError(t, err)
	require.Len(t, fixtures, 1)

	f := fixtures[0]
	assert.Equal(t, domain.PolicyDeny, f.PolicyType)
	assert.Equal(t, domain.ScopeAction, f.Scope)
	assert.True(t, f.Enabled)
	require.NotNil(t, f.Rules.AmountCaps)
	assert.Equal(t, 5000.0, *f.Rules.AmountCaps)
}

func TestSeed_CreatesManifestsAndPolicies(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "manifest_invoices.yaml", manifestFixture)
	writeFixture(t, dir, "policy_invoice_cap.yaml", policyFixture)

	manifests, err := seed.LoadManifestFixtures(dir, map[string]string{"ORG_SLUG": "acme"})
	require.NoError(t, err)
	policies, err := seed.LoadPolicyFixtures(dir, nil)
	require.NoError(t, err)

	registry := manifeststore.NewRegistry(manifeststore.NewMemoryStore())
	policyStore := &stubPolicyInserter{}

	err = seed.Seed(registry, policyStore, "org-1", "user-1", manifests, policies)
	require.NoError(t, err)

	created, err := registry.List("org-1")
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, domain.ManifestPending, created[0].Status)
	assert.Equal(t, "agent-acme-invoices", created[0].UAPKID)

	require.Len(t, policyStore.inserted, 1)
	assert.Equal(t, "org-1", policyStore.inserted[0].OrgID)
	assert.NotEmpty(t, policyStore.inserted[0].ID)
}
