package database

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/ortelius/pdvd-ledger/model"
)

// MemoryStore keeps findings and vulnerabilities as encoded documents in
// memory. Reads return fresh copies, so it honours the same optimistic
// concurrency contract as ArangoStore.
type MemoryStore struct {
	mu       sync.RWMutex
	findings map[string][]byte
	vulns    map[string][]byte
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		findings: make(map[string][]byte),
		vulns:    make(map[string][]byte),
	}
}

func decodeVulnerability(doc []byte) (*model.Vulnerability, error) {
	var v model.Vulnerability
	if err := json.Unmarshal(doc, &v); err != nil {
		return nil, model.ErrInvariantViolation.Wrap(err)
	}
	return &v, nil
}

func decodeFinding(doc []byte) (*model.Finding, error) {
	var f model.Finding
	if err := json.Unmarshal(doc, &f); err != nil {
		return nil, model.ErrInvariantViolation.Wrap(err)
	}
	return &f, nil
}

// Finding loads a finding
func (m *MemoryStore) Finding(_ context.Context, id string) (*model.Finding, error) {
	m.mu.RLock()
	doc, ok := m.findings[id]
	m.mu.RUnlock()
	if !ok {
		return nil, model.ErrFindingMissing.With("finding", id)
	}
	return decodeFinding(doc)
}

// CreateFinding stores a new finding; an existing one is left untouched
func (m *MemoryStore) CreateFinding(_ context.Context, f *model.Finding) error {
	doc, err := json.Marshal(f)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.findings[f.ID]; !ok {
		m.findings[f.ID] = doc
	}
	return nil
}

// UpdateFinding replaces a finding whose release ledger still has the expected length
func (m *MemoryStore) UpdateFinding(_ context.Context, f *model.Finding, expected int) error {
	doc, err := json.Marshal(f)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.findings[f.ID]
	if !ok {
		return model.ErrFindingMissing.With("finding", f.ID)
	}
	current, err := decodeFinding(stored)
	if err != nil {
		return err
	}
	if current.Release.Len() != expected {
		return model.ErrConcurrentModification.With("finding", f.ID)
	}
	m.findings[f.ID] = doc
	return nil
}

// Vulnerabilities lists the vulnerabilities of a finding, optionally limited
// to one namespace, ordered by ID
func (m *MemoryStore) Vulnerabilities(_ context.Context, findingID, namespace string) ([]*model.Vulnerability, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Vulnerability
	for _, doc := range m.vulns {
		v, err := decodeVulnerability(doc)
		if err != nil {
			return nil, err
		}
		if v.FindingID != findingID || (namespace != "" && v.Namespace != namespace) {
			continue
		}
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Vulnerability loads one vulnerability
func (m *MemoryStore) Vulnerability(_ context.Context, id string) (*model.Vulnerability, error) {
	m.mu.RLock()
	doc, ok := m.vulns[id]
	m.mu.RUnlock()
	if !ok {
		return nil, model.ErrVulnNotFound.With("vulnerability", id)
	}
	return decodeVulnerability(doc)
}

// CreateVulnerability stores a new vulnerability; creating the same ID twice is a no-op
func (m *MemoryStore) CreateVulnerability(_ context.Context, v *model.Vulnerability) error {
	doc, err := json.Marshal(v)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.vulns[v.ID]; !ok {
		m.vulns[v.ID] = doc
	}
	return nil
}

// Append adds one ledger entry if the ledger still has the expected length
func (m *MemoryStore) Append(_ context.Context, a model.Append) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.vulns[a.VulnerabilityID]
	if !ok {
		return model.ErrVulnNotFound.With("vulnerability", a.VulnerabilityID)
	}
	v, err := decodeVulnerability(doc)
	if err != nil {
		return err
	}
	if err := v.Apply(a); err != nil {
		return err
	}
	if doc, err = json.Marshal(v); err != nil {
		return err
	}
	m.vulns[a.VulnerabilityID] = doc
	return nil
}
