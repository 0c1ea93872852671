// Package findings defines the GraphQL types for findings and their vulnerabilities.
package findings

import "github.com/graphql-go/graphql"

// LedgerEntryType is one entry of a historic ledger
var LedgerEntryType = graphql.NewObject(graphql.ObjectConfig{
	Name: "LedgerEntry",
	Fields: graphql.Fields{
		"timestamp":     &graphql.Field{Type: graphql.String},
		"actor":         &graphql.Field{Type: graphql.String},
		"value":         &graphql.Field{Type: graphql.String},
		"justification": &graphql.Field{Type: graphql.String},
	},
})

// VulnerabilityType represents one vulnerability and its current states.
var VulnerabilityType = graphql.NewObject(graphql.ObjectConfig{
	Name: "Vulnerability",
	Fields: graphql.Fields{
		"id":                    &graphql.Field{Type: graphql.String},
		"finding_id":            &graphql.Field{Type: graphql.String},
		"kind":                  &graphql.Field{Type: graphql.String},
		"where":                 &graphql.Field{Type: graphql.String},
		"specific":              &graphql.Field{Type: graphql.String},
		"namespace":             &graphql.Field{Type: graphql.String},
		"source":                &graphql.Field{Type: graphql.String},
		"digest":                &graphql.Field{Type: graphql.String},
		"state":                 &graphql.Field{Type: graphql.String},
		"verification":          &graphql.Field{Type: graphql.String},
		"treatment":             &graphql.Field{Type: graphql.String},
		"assigned":              &graphql.Field{Type: graphql.String},
		"zero_risk":             &graphql.Field{Type: graphql.String},
		"historic_state":        &graphql.Field{Type: graphql.NewList(LedgerEntryType)},
		"historic_verification": &graphql.Field{Type: graphql.NewList(LedgerEntryType)},
		"historic_treatment":    &graphql.Field{Type: graphql.NewList(LedgerEntryType)},
		"historic_zero_risk":    &graphql.Field{Type: graphql.NewList(LedgerEntryType)},
	},
})

// TrackingPointType is one row of the tracking chart
var TrackingPointType = graphql.NewObject(graphql.ObjectConfig{
	Name: "TrackingPoint",
	Fields: graphql.Fields{
		"cycle":              &graphql.Field{Type: graphql.Int},
		"date":               &graphql.Field{Type: graphql.String},
		"open":               &graphql.Field{Type: graphql.Int},
		"closed":             &graphql.Field{Type: graphql.Int},
		"accepted":           &graphql.Field{Type: graphql.Int},
		"accepted_undefined": &graphql.Field{Type: graphql.Int},
		"justification":      &graphql.Field{Type: graphql.String},
		"assigned":           &graphql.Field{Type: graphql.String},
	},
})

// IndicatorsType summarizes the remediation indicators of a finding
var IndicatorsType = graphql.NewObject(graphql.ObjectConfig{
	Name: "FindingIndicators",
	Fields: graphql.Fields{
		"open":                         &graphql.Field{Type: graphql.Int},
		"closed":                       &graphql.Field{Type: graphql.Int},
		"new":                          &graphql.Field{Type: graphql.Int},
		"in_progress":                  &graphql.Field{Type: graphql.Int},
		"accepted":                     &graphql.Field{Type: graphql.Int},
		"accepted_undefined":           &graphql.Field{Type: graphql.Int},
		"verification":                 &graphql.Field{Type: graphql.String},
		"mean_time_to_remediate":       &graphql.Field{Type: graphql.Float},
		"mean_time_to_remediate_cvssf": &graphql.Field{Type: graphql.Float},
		"cvssf":                        &graphql.Field{Type: graphql.Float},
		"exposure":                     &graphql.Field{Type: graphql.Float},
	},
})

// FindingType represents a finding with its vulnerabilities and indicators.
var FindingType = graphql.NewObject(graphql.ObjectConfig{
	Name: "Finding",
	Fields: graphql.Fields{
		"id":             &graphql.Field{Type: graphql.String},
		"group_name":     &graphql.Field{Type: graphql.String},
		"title":          &graphql.Field{Type: graphql.String},
		"cvss_vector":    &graphql.Field{Type: graphql.String},
		"severity_score": &graphql.Field{Type: graphql.Float},
		"severity_band":  &graphql.Field{Type: graphql.String},
		"release_state":  &graphql.Field{Type: graphql.String},
		"is_draft":       &graphql.Field{Type: graphql.Boolean},
		"release_date":   &graphql.Field{Type: graphql.String},
	},
})

// TransitionEventType is one persisted ledger append
var TransitionEventType = graphql.NewObject(graphql.ObjectConfig{
	Name: "TransitionEvent",
	Fields: graphql.Fields{
		"event_id":         &graphql.Field{Type: graphql.String},
		"vulnerability_id": &graphql.Field{Type: graphql.String},
		"finding_id":       &graphql.Field{Type: graphql.String},
		"ledger":           &graphql.Field{Type: graphql.String},
		"old_state":        &graphql.Field{Type: graphql.String},
		"new_state":        &graphql.Field{Type: graphql.String},
		"actor":            &graphql.Field{Type: graphql.String},
	},
})

// TransitionResultType reports a transition mutation
var TransitionResultType = graphql.NewObject(graphql.ObjectConfig{
	Name: "TransitionResult",
	Fields: graphql.Fields{
		"success": &graphql.Field{Type: graphql.Boolean},
		"code":    &graphql.Field{Type: graphql.String},
		"message": &graphql.Field{Type: graphql.String},
		"events":  &graphql.Field{Type: graphql.NewList(TransitionEventType)},
	},
})

// TransitionKindEnum lists the transitions callers may request
var TransitionKindEnum = graphql.NewEnum(graphql.EnumConfig{
	Name: "TransitionKind",
	Values: graphql.EnumValueConfigMap{
		"CLOSE_VULNERABILITY":  &graphql.EnumValueConfig{Value: "CLOSE_VULNERABILITY"},
		"DELETE_VULNERABILITY": &graphql.EnumValueConfig{Value: "DELETE_VULNERABILITY"},
		"REQUEST_VERIFICATION": &graphql.EnumValueConfig{Value: "REQUEST_VERIFICATION"},
		"VERIFY":               &graphql.EnumValueConfig{Value: "VERIFY"},
		"HOLD_VERIFICATION":    &graphql.EnumValueConfig{Value: "HOLD_VERIFICATION"},
		"RESUME_VERIFICATION":  &graphql.EnumValueConfig{Value: "RESUME_VERIFICATION"},
		"UPDATE_TREATMENT":     &graphql.EnumValueConfig{Value: "UPDATE_TREATMENT"},
		"REQUEST_ZERO_RISK":    &graphql.EnumValueConfig{Value: "REQUEST_ZERO_RISK"},
		"CONFIRM_ZERO_RISK":    &graphql.EnumValueConfig{Value: "CONFIRM_ZERO_RISK"},
		"REJECT_ZERO_RISK":     &graphql.EnumValueConfig{Value: "REJECT_ZERO_RISK"},
		"SUBMIT_DRAFT":         &graphql.EnumValueConfig{Value: "SUBMIT_DRAFT"},
		"APPROVE_DRAFT":        &graphql.EnumValueConfig{Value: "APPROVE_DRAFT"},
		"REJECT_DRAFT":         &graphql.EnumValueConfig{Value: "REJECT_DRAFT"},
		"DELETE_DRAFT":         &graphql.EnumValueConfig{Value: "DELETE_DRAFT"},
	},
})
