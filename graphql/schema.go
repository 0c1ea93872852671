// Package graphql assembles the GraphQL schema from its modules.
package graphql

import (
	"github.com/graphql-go/graphql"
	"github.com/ortelius/pdvd-ledger/graphql/modules/findings"
	"github.com/ortelius/pdvd-ledger/internal/services"
)

// CreateSchema mounts the finding queries and transition mutations
func CreateSchema(queries *services.QueryService, transitions *services.TransitionService) (graphql.Schema, error) {
	query := graphql.NewObject(graphql.ObjectConfig{
		Name:   "Query",
		Fields: findings.GetQueryFields(queries),
	})
	mutation := graphql.NewObject(graphql.ObjectConfig{
		Name:   "Mutation",
		Fields: findings.GetMutationFields(transitions),
	})
	return graphql.NewSchema(graphql.SchemaConfig{
		Query:    query,
		Mutation: mutation,
	})
}
