// Package toolregistry resolves a (org_id, action_type, tool) triple to its
// connector binding — the piece spec §4.E calls "resolved from the
// manifest's tool definition" but that original_source never actually
// persists anywhere (no connector-config table exists in the system this
// spec was distilled from; connector.Config is always constructed directly
// by whatever test or admin flow needs one). StaticRegistry fills that gap
// with a small JSON config file an operator deploys alongside the gateway,
// keyed by org so a multi-tenant deployment can give each org its own
// webhook endpoints and secret bindings without a schema migration.
package toolregistry

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/amakua/uapk-gateway/pkg/connector"
	"github.com/amakua/uapk-gateway/pkg/gateway"
	"github.com/amakua/uapk-gateway/pkg/manifest"
)

// fieldSpec mirrors manifest.FieldSpec's JSON shape so the config file
// doesn't need a custom unmarshaler.
type fieldSpec struct {
	Type     string `json:"type"`
	Required bool   `json:"required,omitempty"`
}

type schemaSpec struct {
	Fields     map[string]fieldSpec `json:"fields"`
	AllowExtra bool                 `json:"allow_extra,omitempty"`
}

func (s schemaSpec) toArgSchema() *manifest.ToolArgSchema {
	if s.Fields == nil {
		return nil
	}
	fields := make(map[string]manifest.FieldSpec, len(s.Fields))
	for k, f := range s.Fields {
		fields[k] = manifest.FieldSpec{Type: f.Type, Required: f.Required}
	}
	return &manifest.ToolArgSchema{Fields: fields, AllowExtra: s.AllowExtra}
}

func (s schemaSpec) toOutputSchema() *manifest.ToolOutputSchema {
	if s.Fields == nil {
		return nil
	}
	fields := make(map[string]manifest.FieldSpec, len(s.Fields))
	for k, f := range s.Fields {
		fields[k] = manifest.FieldSpec{Type: f.Type, Required: f.Required}
	}
	return &manifest.ToolOutputSchema{Fields: fields, AllowExtra: s.AllowExtra}
}

// bindingSpec is one tool's entry in the config file.
type bindingSpec struct {
	Type           string            `json:"type"`
	URL            string            `json:"url,omitempty"`
	Method         string            `json:"method,omitempty"`
	Headers        map[string]string `json:"headers,omitempty"`
	SecretNames    []string          `json:"secret_names,omitempty"`
	TimeoutSeconds int               `json:"timeout_seconds,omitempty"`
	AllowedDomains []string          `json:"allowed_domains,omitempty"`
	MockResponse   map[string]any    `json:"mock_response,omitempty"`
	MockFail       bool              `json:"mock_fail,omitempty"`
	MockFailCode   string            `json:"mock_fail_code,omitempty"`
	ArgsSchema     *schemaSpec       `json:"args_schema,omitempty"`
	OutputSchema   *schemaSpec       `json:"output_schema,omitempty"`
}

// configFile is the on-disk shape: org_id -> "action_type:tool" -> binding.
// The "*" org_id applies to every org that doesn't have its own entry for
// a given tool, so a demo/seed deployment can ship one shared config.
type configFile map[string]map[string]bindingSpec

// StaticRegistry implements gateway.ConnectorConfigLookup from a JSON file
// loaded once at startup. It never mutates after construction, so it's safe
// for concurrent lookups without its own locking.
type StaticRegistry struct {
	orgs configFile
}

// LoadStatic reads and parses a tool-registry config file.
func LoadStatic(path string) (*StaticRegistry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("toolregistry: read %s: %w", path, err)
	}
	var cfg configFile
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("toolregistry: parse %s: %w", path, err)
	}
	return &StaticRegistry{orgs: cfg}, nil
}

// NewEmptyStatic returns a registry with no configured tools — every
// lookup reports "no connector configured", which the pipeline treats as a
// CONNECTOR-kind result without changing the admission decision.
func NewEmptyStatic() *StaticRegistry {
	return &StaticRegistry{orgs: configFile{}}
}

// Lookup implements gateway.ConnectorConfigLookup.
func (r *StaticRegistry) Lookup(orgID, actionType, tool string) (*gateway.ToolBinding, error) {
	key := actionType + ":" + tool
	spec, ok := r.orgs[orgID][key]
	if !ok {
		spec, ok = r.orgs["*"][key]
	}
	if !ok {
		return nil, nil
	}

	cfg := connector.Config{
		Type:           spec.Type,
		URL:            spec.URL,
		Method:         spec.Method,
		Headers:        spec.Headers,
		AllowedDomains: spec.AllowedDomains,
		MockResponse:   spec.MockResponse,
		MockFail:       spec.MockFail,
		MockFailCode:   spec.MockFailCode,
	}
	if spec.TimeoutSeconds > 0 {
		cfg.Timeout = time.Duration(spec.TimeoutSeconds) * time.Second
	}

	binding := &gateway.ToolBinding{Config: cfg, SecretNames: spec.SecretNames}
	if spec.ArgsSchema != nil {
		binding.ArgsSchema = spec.ArgsSchema.toArgSchema()
	}
	if spec.OutputSchema != nil {
		binding.OutputSchema = spec.OutputSchema.toOutputSchema()
	}
	return binding, nil
}
