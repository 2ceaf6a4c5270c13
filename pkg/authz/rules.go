package authz

import (
	"github.com/Mindburn-Labs/baton/pkg/orchestra"
)

// DefaultRules returns the compiled-in rule table. The edges encode the
// platform layering: ux-ui reaches data only through bff-api, infrastructure
// and database sit below the BFF, compliance holds call reach over every
// other domain, observability is a pure sink with no outgoing edges. CanCall
// and CallableBy are kept mutually consistent; tests verify the symmetry.
func DefaultRules() map[orchestra.Domain]Rule {
	return map[orchestra.Domain]Rule{
		orchestra.DomainUXUI: {
			CanCall:           []orchestra.Domain{orchestra.DomainBFFAPI},
			CallableBy:        []orchestra.Domain{orchestra.DomainCompliance, orchestra.DomainDevEx},
			RestrictedActions: []string{"schema_migration", "infrastructure_change"},
		},
		orchestra.DomainBFFAPI: {
			CanCall: []orchestra.Domain{
				orchestra.DomainDatabase,
				orchestra.DomainBackendInfra,
				orchestra.DomainFinance,
			},
			CallableBy: []orchestra.Domain{
				orchestra.DomainUXUI,
				orchestra.DomainCompliance,
				orchestra.DomainDevEx,
			},
			RestrictedActions: []string{"drop_schema"},
		},
		orchestra.DomainDatabase: {
			CanCall: []orchestra.Domain{orchestra.DomainObservability},
			CallableBy: []orchestra.Domain{
				orchestra.DomainBFFAPI,
				orchestra.DomainBackendInfra,
				orchestra.DomainCompliance,
				orchestra.DomainFinance,
			},
		},
		orchestra.DomainBackendInfra: {
			CanCall: []orchestra.Domain{
				orchestra.DomainDatabase,
				orchestra.DomainObservability,
			},
			CallableBy: []orchestra.Domain{
				orchestra.DomainBFFAPI,
				orchestra.DomainCompliance,
				orchestra.DomainDevEx,
			},
		},
		orchestra.DomainCompliance: {
			CanCall: []orchestra.Domain{
				orchestra.DomainDatabase,
				orchestra.DomainUXUI,
				orchestra.DomainBFFAPI,
				orchestra.DomainBackendInfra,
				orchestra.DomainObservability,
				orchestra.DomainFinance,
				orchestra.DomainDevEx,
			},
			CallableBy:        []orchestra.Domain{orchestra.DomainFinance},
			RestrictedActions: []string{"data_mutation"},
		},
		orchestra.DomainObservability: {
			CallableBy: []orchestra.Domain{
				orchestra.DomainDatabase,
				orchestra.DomainBackendInfra,
				orchestra.DomainCompliance,
				orchestra.DomainDevEx,
			},
		},
		orchestra.DomainFinance: {
			CanCall: []orchestra.Domain{
				orchestra.DomainDatabase,
				orchestra.DomainCompliance,
			},
			CallableBy: []orchestra.Domain{
				orchestra.DomainBFFAPI,
				orchestra.DomainCompliance,
			},
		},
		orchestra.DomainDevEx: {
			CanCall: []orchestra.Domain{
				orchestra.DomainUXUI,
				orchestra.DomainBFFAPI,
				orchestra.DomainBackendInfra,
				orchestra.DomainObservability,
			},
			CallableBy:        []orchestra.Domain{orchestra.DomainCompliance},
			RestrictedActions: []string{"production_deploy"},
		},
	}
}
