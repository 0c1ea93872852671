package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
organization:
  max_acceptance_days: 90
  max_acceptance_severity: 6.9
  max_number_acceptances: 3
groups:
  unittesting:
    max_acceptance_days: 30
    assignees:
      - dev@example.com
  oneshottest:
    min_acceptance_severity: 2
`

func TestResolveGroupWins(t *testing.T) {
	r, err := Parse([]byte(sample))
	require.NoError(t, err)

	snap, err := r.Resolve(context.Background(), "unittesting")
	require.NoError(t, err)

	require.NotNil(t, snap.Policy.MaxAcceptanceDays)
	assert.Equal(t, 30, *snap.Policy.MaxAcceptanceDays)
	require.NotNil(t, snap.Policy.MaxAcceptanceSeverity)
	assert.True(t, decimal.RequireFromString("6.9").Equal(*snap.Policy.MaxAcceptanceSeverity))
	assert.Equal(t, 3, *snap.Policy.MaxNumberAcceptances)
	assert.Nil(t, snap.Policy.MinAcceptanceSeverity)
	assert.Equal(t, []string{"dev@example.com"}, snap.Assignees)
}

func TestResolveUnknownGroupUsesOrganization(t *testing.T) {
	r, err := Parse([]byte(sample))
	require.NoError(t, err)

	snap, err := r.Resolve(context.Background(), "elsewhere")
	require.NoError(t, err)
	assert.Equal(t, 90, *snap.Policy.MaxAcceptanceDays)
	assert.Nil(t, snap.Assignees)

	snap, err = r.Resolve(context.Background(), "oneshottest")
	require.NoError(t, err)
	assert.Equal(t, 90, *snap.Policy.MaxAcceptanceDays)
	assert.True(t, decimal.NewFromInt(2).Equal(*snap.Policy.MinAcceptanceSeverity))
}

func TestParseRejectsInvalid(t *testing.T) {
	_, err := Parse([]byte("groups: [not, a, map]"))
	require.Error(t, err)

	_, err = Parse([]byte("groups:\n  g:\n    max_acceptance_days: -1\n"))
	require.Error(t, err)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))

	r, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"oneshottest", "unittesting"}, r.Groups())

	empty, err := Load("")
	require.NoError(t, err)
	snap, err := empty.Resolve(context.Background(), "unittesting")
	require.NoError(t, err)
	assert.Nil(t, snap.Policy.MaxAcceptanceDays)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestGroupNamesAreNormalized(t *testing.T) {
	r, err := Parse([]byte("groups:\n  UnitTesting:\n    max_acceptance_days: 10\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"unittesting"}, r.Groups())

	snap, err := r.Resolve(context.Background(), " unittesting ")
	require.NoError(t, err)
	require.NotNil(t, snap.Policy.MaxAcceptanceDays)
	assert.Equal(t, 10, *snap.Policy.MaxAcceptanceDays)
}
