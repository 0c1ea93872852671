package findings

import (
	"time"

	"github.com/graphql-go/graphql"
	"github.com/ortelius/pdvd-ledger/internal/services"
)

// GetQueryFields returns the finding queries to be mounted in the root schema
func GetQueryFields(queries *services.QueryService) graphql.Fields {
	return graphql.Fields{
		"finding": &graphql.Field{
			Type: FindingType,
			Args: graphql.FieldConfigArgument{
				"id": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
			},
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				return ResolveFinding(p.Context, queries, p.Args["id"].(string))
			},
		},
		"vulnerability": &graphql.Field{
			Type: VulnerabilityType,
			Args: graphql.FieldConfigArgument{
				"id": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
			},
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				return ResolveVulnerability(p.Context, queries, p.Args["id"].(string))
			},
		},
		"vulnerabilities": &graphql.Field{
			Type: graphql.NewList(VulnerabilityType),
			Args: graphql.FieldConfigArgument{
				"finding_id": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				"namespace":  &graphql.ArgumentConfig{Type: graphql.String, DefaultValue: ""},
				"state":      &graphql.ArgumentConfig{Type: graphql.String, DefaultValue: ""},
			},
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				findingID := p.Args["finding_id"].(string)
				namespace := p.Args["namespace"].(string)
				state := p.Args["state"].(string)
				return ResolveVulnerabilities(p.Context, queries, findingID, namespace, state)
			},
		},
		"tracking": &graphql.Field{
			Type: graphql.NewList(TrackingPointType),
			Args: graphql.FieldConfigArgument{
				"finding_id": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
			},
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				return ResolveTracking(p.Context, queries, p.Args["finding_id"].(string))
			},
		},
		"findingIndicators": &graphql.Field{
			Type: IndicatorsType,
			Args: graphql.FieldConfigArgument{
				"finding_id": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				// remediation window in days, 0 counts every vulnerability
				"days": &graphql.ArgumentConfig{Type: graphql.Int, DefaultValue: 0},
			},
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				var since time.Time
				if days := p.Args["days"].(int); days > 0 {
					since = time.Now().UTC().AddDate(0, 0, -days)
				}
				return ResolveIndicators(p.Context, queries, p.Args["finding_id"].(string), since)
			},
		},
	}
}
