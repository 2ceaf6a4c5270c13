// Package manifest defines the declarative description of a domain
// orchestra: its agents, tools, policies and dependency declarations.
// A manifest is the unit of registration; the registry content-addresses
// it and tracks its lifecycle.
package manifest

import (
	"github.com/Mindburn-Labs/baton/pkg/orchestra"
)

// OrchestraManifest declares what a domain orchestra provides and needs.
// Domain and Version together identify a manifest revision; at most one
// manifest per domain is active at a time.
type OrchestraManifest struct {
	Name        string             `json:"name" yaml:"name"`
	Version     string             `json:"version" yaml:"version"`
	Domain      orchestra.Domain   `json:"domain" yaml:"domain"`
	Description string             `json:"description,omitempty" yaml:"description,omitempty"`
	Agents      []AgentSpec        `json:"agents" yaml:"agents"`
	Tools       []ToolSpec         `json:"tools,omitempty" yaml:"tools,omitempty"`
	Policies    []PolicySpec       `json:"policies,omitempty" yaml:"policies,omitempty"`
	DependsOn   []orchestra.Domain `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
	MCPServers  []MCPServerSpec    `json:"mcp_servers,omitempty" yaml:"mcp_servers,omitempty"`
	Metadata    *Metadata          `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// AgentSpec describes one agent inside an orchestra.
type AgentSpec struct {
	Name         string   `json:"name" yaml:"name"`
	Role         string   `json:"role" yaml:"role"`
	Description  string   `json:"description,omitempty" yaml:"description,omitempty"`
	Capabilities []string `json:"capabilities,omitempty" yaml:"capabilities,omitempty"`
	// Tools holds references into the manifest's Tools list or into tools
	// exposed by a declared MCP server.
	Tools []string `json:"tools,omitempty" yaml:"tools,omitempty"`
}

// ToolSpec describes a tool an orchestra exposes.
type ToolSpec struct {
	Name                string     `json:"name" yaml:"name"`
	Description         string     `json:"description,omitempty" yaml:"description,omitempty"`
	Input               *ArgSchema `json:"input,omitempty" yaml:"input,omitempty"`
	Output              *ArgSchema `json:"output,omitempty" yaml:"output,omitempty"`
	RequiredPermissions []string   `json:"required_permissions,omitempty" yaml:"required_permissions,omitempty"`
}

// PolicySpec describes a governance rule attached to an orchestra.
// Precedence is an opaque class label; resolution order between classes
// is owned by the policy collaborator.
type PolicySpec struct {
	ID         string           `json:"id" yaml:"id"`
	Domain     orchestra.Domain `json:"domain" yaml:"domain"`
	Rule       string           `json:"rule" yaml:"rule"`
	Precedence string           `json:"precedence,omitempty" yaml:"precedence,omitempty"`
	Enforced   bool             `json:"enforced" yaml:"enforced"`
}

// MCPServerSpec references an external MCP server the orchestra's agents use.
type MCPServerSpec struct {
	Name      string `json:"name" yaml:"name"`
	Transport string `json:"transport,omitempty" yaml:"transport,omitempty"`
	Endpoint  string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
}

// Metadata carries optional descriptive fields.
type Metadata struct {
	Author   string   `json:"author,omitempty" yaml:"author,omitempty"`
	Tags     []string `json:"tags,omitempty" yaml:"tags,omitempty"`
	Priority int      `json:"priority,omitempty" yaml:"priority,omitempty"`
}
