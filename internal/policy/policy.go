// Package policy loads acceptance policies for organizations and groups.
package policy

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/ortelius/pdvd-ledger/model"
	"github.com/ortelius/pdvd-ledger/util"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v2"
)

// Snapshot is the effective policy of one group. It is resolved once and
// then used for a whole batch.
type Snapshot struct {
	Group  string
	Policy model.AcceptancePolicy
	// Assignees allowed in treatments; nil means anyone
	Assignees []string
}

// Resolver returns the effective policy of a group
type Resolver interface {
	Resolve(ctx context.Context, group string) (Snapshot, error)
}

type policyDoc struct {
	MaxAcceptanceDays        *int     `yaml:"max_acceptance_days"`
	MaxAcceptanceSeverity    *float64 `yaml:"max_acceptance_severity"`
	MinAcceptanceSeverity    *float64 `yaml:"min_acceptance_severity"`
	MaxNumberAcceptances     *int     `yaml:"max_number_acceptances"`
	MinBreakingSeverity      *float64 `yaml:"min_breaking_severity"`
	VulnerabilityGracePeriod *int     `yaml:"vulnerability_grace_period"`
	Assignees                []string `yaml:"assignees"`
}

type fileDoc struct {
	Organization policyDoc            `yaml:"organization"`
	Groups       map[string]policyDoc `yaml:"groups"`
}

func severity(v *float64) *decimal.Decimal {
	if v == nil {
		return nil
	}
	d := decimal.NewFromFloat(*v).Round(1)
	return &d
}

func (d policyDoc) policy() model.AcceptancePolicy {
	return model.AcceptancePolicy{
		MaxAcceptanceDays:        d.MaxAcceptanceDays,
		MaxAcceptanceSeverity:    severity(d.MaxAcceptanceSeverity),
		MinAcceptanceSeverity:    severity(d.MinAcceptanceSeverity),
		MaxNumberAcceptances:     d.MaxNumberAcceptances,
		MinBreakingSeverity:      severity(d.MinBreakingSeverity),
		VulnerabilityGracePeriod: d.VulnerabilityGracePeriod,
	}
}

// FileResolver serves policies read from a YAML document of the form
//
//	organization:
//	  max_acceptance_days: 90
//	groups:
//	  unittesting:
//	    max_acceptance_days: 30
//	    assignees: [dev@example.com]
type FileResolver struct {
	doc fileDoc
}

// Parse builds a resolver from YAML content
func Parse(data []byte) (*FileResolver, error) {
	var doc fileDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse policy: %w", err)
	}
	groups := make(map[string]policyDoc, len(doc.Groups))
	for name, g := range doc.Groups {
		groups[util.NormalizeGroupName(name)] = g
		if g.MaxAcceptanceDays != nil && *g.MaxAcceptanceDays < 0 {
			return nil, fmt.Errorf("group %s: max_acceptance_days must not be negative", name)
		}
		if g.MaxNumberAcceptances != nil && *g.MaxNumberAcceptances < 0 {
			return nil, fmt.Errorf("group %s: max_number_acceptances must not be negative", name)
		}
	}
	doc.Groups = groups
	return &FileResolver{doc: doc}, nil
}

// Load reads the policy file at path. An empty path yields a resolver
// without any limits.
func Load(path string) (*FileResolver, error) {
	if path == "" {
		return &FileResolver{}, nil
	}
	data, err := os.ReadFile(path) // #nosec G304
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Resolve merges the organization policy with the group's; group values win
func (r *FileResolver) Resolve(_ context.Context, group string) (Snapshot, error) {
	snap := Snapshot{
		Group:     group,
		Policy:    r.doc.Organization.policy(),
		Assignees: r.doc.Organization.Assignees,
	}
	if g, ok := r.doc.Groups[util.NormalizeGroupName(group)]; ok {
		snap.Policy = model.ResolvePolicy(snap.Policy, g.policy())
		if g.Assignees != nil {
			snap.Assignees = g.Assignees
		}
	}
	return snap, nil
}

// Groups lists the groups with an explicit policy
func (r *FileResolver) Groups() []string {
	groups := make([]string, 0, len(r.doc.Groups))
	for name := range r.doc.Groups {
		groups = append(groups, name)
	}
	sort.Strings(groups)
	return groups
}
