package approval

import (
	"sort"
	"strings"

	"github.com/Mindburn-Labs/baton/pkg/orchestra"
)

// RiskLevel grades an action before dispatch.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Classifier maps an action type ("domain.action") to a risk level and
// decides which levels need a human decision before dispatch.
type Classifier interface {
	Classify(actionType string, ec *orchestra.ExecutionContext) RiskLevel
	RequiresApproval(level RiskLevel) bool
}

// StaticClassifier resolves risk from a fixed rule table: exact action-type
// matches first, then the longest matching prefix, then the default level.
type StaticClassifier struct {
	exact        map[string]RiskLevel
	prefixes     []prefixRule
	defaultLevel RiskLevel
}

type prefixRule struct {
	prefix string
	level  RiskLevel
}

// ClassifierOption configures a StaticClassifier.
type ClassifierOption func(*StaticClassifier)

// WithExact pins an exact action type to a level.
func WithExact(actionType string, level RiskLevel) ClassifierOption {
	return func(c *StaticClassifier) {
		c.exact[actionType] = level
	}
}

// WithPrefix assigns a level to every action type starting with prefix.
// Longer prefixes win over shorter ones.
func WithPrefix(prefix string, level RiskLevel) ClassifierOption {
	return func(c *StaticClassifier) {
		c.prefixes = append(c.prefixes, prefixRule{prefix: prefix, level: level})
	}
}

// WithDefaultLevel sets the level for action types no rule covers.
func WithDefaultLevel(level RiskLevel) ClassifierOption {
	return func(c *StaticClassifier) {
		c.defaultLevel = level
	}
}

// NewStaticClassifier builds a classifier from the given rules. Unmatched
// action types classify as low unless WithDefaultLevel overrides that.
func NewStaticClassifier(opts ...ClassifierOption) *StaticClassifier {
	c := &StaticClassifier{
		exact:        make(map[string]RiskLevel),
		defaultLevel: RiskLow,
	}
	for _, opt := range opts {
		opt(c)
	}
	sort.SliceStable(c.prefixes, func(i, j int) bool {
		return len(c.prefixes[i].prefix) > len(c.prefixes[j].prefix)
	})
	return c
}

// DefaultClassifier ships the platform risk table. Destructive schema and
// production-facing operations require approval; everything else runs
// unattended.
func DefaultClassifier() *StaticClassifier {
	return NewStaticClassifier(
		WithExact("database.drop_schema", RiskCritical),
		WithExact("database.schema_migration", RiskHigh),
		WithExact("backend-infra.infrastructure_change", RiskHigh),
		WithExact("compliance.data_mutation", RiskCritical),
		WithExact("devex.production_deploy", RiskCritical),
		WithExact("finance.process_refund", RiskHigh),
		WithPrefix("database.delete", RiskHigh),
		WithPrefix("finance.", RiskMedium),
	)
}

// Classify resolves the risk level for actionType. The execution context is
// accepted for interface compatibility; the static table does not consult it.
func (c *StaticClassifier) Classify(actionType string, ec *orchestra.ExecutionContext) RiskLevel {
	if level, ok := c.exact[actionType]; ok {
		return level
	}
	for _, r := range c.prefixes {
		if strings.HasPrefix(actionType, r.prefix) {
			return r.level
		}
	}
	return c.defaultLevel
}

// RequiresApproval reports whether level blocks on a human decision.
func (c *StaticClassifier) RequiresApproval(level RiskLevel) bool {
	return level == RiskHigh || level == RiskCritical
}
