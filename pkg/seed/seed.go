// Package seed loads demonstration manifests and policies from YAML fixture
// files, the Go equivalent of original_source/scripts/load_example_manifests.py's
// 47ers-template loader — reusing pkg/config/profile_loader.go's yaml.v3 +
// filepath.Glob idiom for reading a directory of fixture files.
package seed

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/amakua/uapk-gateway/pkg/domain"
	"github.com/amakua/uapk-gateway/pkg/manifeststore"
)

var placeholderPattern = regexp.MustCompile(`\{\{(\w+)\}\}`)

// substitute replaces {{KEY}} placeholders with vars[KEY], leaving any
// unmatched placeholder untouched (mirrors the Python loader's behavior of
// passing through unknown placeholders rather than failing).
func substitute(content string, vars map[string]string) string {
	return placeholderPattern.ReplaceAllStringFunc(content, func(m string) string {
		key := placeholderPattern.FindStringSubmatch(m)[1]
		if v, ok := vars[key]; ok {
			return v
		}
		return m
	})
}

// ManifestFixture is one manifest template loaded from disk, ready to pass
// to manifeststore.Registry.Create for a specific org.
type ManifestFixture struct {
	ID          string              `yaml:"id"`
	Name        string              `yaml:"name"`
	Description string              `yaml:"description"`
	UAPKID      string              `yaml:"uapk_id"`
	Version     string              `yaml:"version"`
	Manifest    domain.ManifestBody `yaml:"manifest"`
}

// PolicyFixture is one policy template loaded from disk, ready to pass to a
// PolicyAdminStore.Insert for a specific org.
type PolicyFixture struct {
	ID          string             `yaml:"id"`
	Name        string             `yaml:"name"`
	Description string             `yaml:"description"`
	PolicyType  domain.PolicyType  `yaml:"policy_type"`
	Scope       domain.PolicyScope `yaml:"scope"`
	Priority    int                `yaml:"priority"`
	Rules       domain.PolicyRules `yaml:"rules"`
	Enabled     bool               `yaml:"enabled"`
}

// LoadManifestFixtures reads every manifest_*.yaml file in dir, substituting
// vars into {{PLACEHOLDER}} tokens before parsing, and returns them sorted
// by filename for deterministic seeding order.
func LoadManifestFixtures(dir string, vars map[string]string) ([]ManifestFixture, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "manifest_*.yaml"))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)

	fixtures := make([]ManifestFixture, 0, len(matches))
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("seed: read %s: %w", path, err)
		}
		var f ManifestFixture
		if err := yaml.Unmarshal([]byte(substitute(string(data), vars)), &f); err != nil {
			return nil, fmt.Errorf("seed: parse %s: %w", path, err)
		}
		fixtures = append(fixtures, f)
	}
	return fixtures, nil
}

// LoadPolicyFixtures reads every policy_*.yaml file in dir the same way.
func LoadPolicyFixtures(dir string, vars map[string]string) ([]PolicyFixture, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "policy_*.yaml"))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)

	fixtures := make([]PolicyFixture, 0, len(matches))
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("seed: read %s: %w", path, err)
		}
		var f PolicyFixture
		if err := yaml.Unmarshal([]byte(substitute(string(data), vars)), &f); err != nil {
			return nil, fmt.Errorf("seed: parse %s: %w", path, err)
		}
		fixtures = append(fixtures, f)
	}
	return fixtures, nil
}

// PolicyInserter is the write-side sliver of api.PolicyAdminStore that
// seeding needs — declared locally so pkg/seed doesn't import pkg/api.
type PolicyInserter interface {
	Insert(p *domain.Policy) error
}

// Seed creates every manifest and policy fixture under orgID, attributing
// each created-by field to createdByUserID. A manifest fixture's version
// must be a valid semver string or manifeststore.Registry.Create rejects it.
func Seed(registry *manifeststore.Registry, policies PolicyInserter, orgID, createdByUserID string, manifests []ManifestFixture, policyFixtures []PolicyFixture) error {
	for _, m := range manifests {
		if _, err := registry.Create(manifeststore.CreateParams{
			OrgID:           orgID,
			UAPKID:          m.UAPKID,
			Version:         m.Version,
			Body:            m.Manifest,
			Description:     m.Description,
			CreatedByUserID: createdByUserID,
		}); err != nil {
			return fmt.Errorf("seed: create manifest %q: %w", m.ID, err)
		}
	}
	now := time.Now().UTC()
	for _, p := range policyFixtures {
		if err := policies.Insert(&domain.Policy{
			ID:              uuid.New().String(),
			OrgID:           orgID,
			Name:            p.Name,
			Description:     p.Description,
			PolicyType:      p.PolicyType,
			Scope:           p.Scope,
			Priority:        p.Priority,
			Rules:           p.Rules,
			Enabled:         p.Enabled,
			CreatedByUserID: createdByUserID,
			CreatedAt:       now,
			UpdatedAt:       now,
		}); err != nil {
			return fmt.Errorf("seed: insert policy %q: %w", p.Name, err)
		}
	}
	return nil
}
