// Package orchestra defines the shared contracts of the coordination engine:
// the closed set of orchestra domains, the execution context that travels
// with every request, and the action request/result envelope all components
// exchange.
package orchestra

// Domain identifies one of the fixed orchestra categories. The set is closed;
// registries and authorization tables key on it everywhere.
type Domain string

const (
	DomainDatabase      Domain = "database"
	DomainUXUI          Domain = "ux-ui"
	DomainBFFAPI        Domain = "bff-api"
	DomainBackendInfra  Domain = "backend-infra"
	DomainCompliance    Domain = "compliance"
	DomainObservability Domain = "observability"
	DomainFinance       Domain = "finance"
	DomainDevEx         Domain = "devex"
)

// AllDomains returns the closed domain set in declaration order.
func AllDomains() []Domain {
	return []Domain{
		DomainDatabase,
		DomainUXUI,
		DomainBFFAPI,
		DomainBackendInfra,
		DomainCompliance,
		DomainObservability,
		DomainFinance,
		DomainDevEx,
	}
}

// Valid reports whether d is a member of the closed domain set.
func (d Domain) Valid() bool {
	switch d {
	case DomainDatabase, DomainUXUI, DomainBFFAPI, DomainBackendInfra,
		DomainCompliance, DomainObservability, DomainFinance, DomainDevEx:
		return true
	}
	return false
}

func (d Domain) String() string { return string(d) }
