package findings

import (
	"time"

	"github.com/graphql-go/graphql"
	"github.com/ortelius/pdvd-ledger/internal/services"
	"github.com/ortelius/pdvd-ledger/model"
)

// GetMutationFields returns the draft and transition mutations to be mounted in the root schema
func GetMutationFields(transitions *services.TransitionService) graphql.Fields {
	return graphql.Fields{
		"createDraft": &graphql.Field{
			Type: FindingType,
			Args: graphql.FieldConfigArgument{
				"id":          &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				"group_name":  &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				"title":       &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				"actor":       &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				"description": &graphql.ArgumentConfig{Type: graphql.String, DefaultValue: ""},
				"cvss_vector": &graphql.ArgumentConfig{Type: graphql.String, DefaultValue: ""},
			},
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				f, err := transitions.CreateDraft(p.Context, services.DraftRequest{
					ID:          p.Args["id"].(string),
					GroupName:   p.Args["group_name"].(string),
					Title:       p.Args["title"].(string),
					Actor:       p.Args["actor"].(string),
					Description: p.Args["description"].(string),
					CVSSVector:  p.Args["cvss_vector"].(string),
				})
				if err != nil {
					return nil, err
				}
				return findingMap(f), nil
			},
		},
		"applyTransition": &graphql.Field{
			Type: TransitionResultType,
			Args: graphql.FieldConfigArgument{
				"transition":       &graphql.ArgumentConfig{Type: graphql.NewNonNull(TransitionKindEnum)},
				"actor":            &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				"vulnerability_id": &graphql.ArgumentConfig{Type: graphql.String, DefaultValue: ""},
				"finding_id":       &graphql.ArgumentConfig{Type: graphql.String, DefaultValue: ""},
				"justification":    &graphql.ArgumentConfig{Type: graphql.String, DefaultValue: ""},
				"treatment":        &graphql.ArgumentConfig{Type: graphql.String, DefaultValue: ""},
				"assigned":         &graphql.ArgumentConfig{Type: graphql.String, DefaultValue: ""},
				"acceptance_date":  &graphql.ArgumentConfig{Type: graphql.String, DefaultValue: ""},
				"closed":           &graphql.ArgumentConfig{Type: graphql.Boolean, DefaultValue: false},
			},
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				req := model.TransitionRequest{
					Transition:      model.TransitionKind(p.Args["transition"].(string)),
					Actor:           p.Args["actor"].(string),
					VulnerabilityID: p.Args["vulnerability_id"].(string),
					FindingID:       p.Args["finding_id"].(string),
					Justification:   p.Args["justification"].(string),
					Treatment:       model.TreatmentStatus(p.Args["treatment"].(string)),
					Assigned:        p.Args["assigned"].(string),
					Closed:          p.Args["closed"].(bool),
				}
				if raw := p.Args["acceptance_date"].(string); raw != "" {
					date, err := time.Parse(time.RFC3339, raw)
					if err != nil {
						return nil, model.ErrInvalidAcceptanceDays.With("acceptance_date", raw).Wrap(err)
					}
					req.AcceptanceDate = &date
				}
				return ResolveTransition(p.Context, transitions, req)
			},
		},
	}
}
