package database

import (
	"context"
	"errors"

	"github.com/arangodb/go-driver/v2/arangodb"
	"github.com/arangodb/go-driver/v2/arangodb/shared"
	"github.com/ortelius/pdvd-ledger/model"
)

// ArangoStore persists findings and vulnerabilities as ArangoDB documents.
// Ledger appends are conditional AQL updates, so two writers racing on the
// same ledger cannot both succeed.
type ArangoStore struct {
	db arangodb.Database
}

// NewArangoStore wraps an initialized connection
func NewArangoStore(conn DBConnection) *ArangoStore {
	return &ArangoStore{db: conn.Database}
}

// classify maps driver errors onto the storage error taxonomy
func classify(err error) error {
	if err == nil {
		return nil
	}
	var e *model.Error
	switch {
	case errors.As(err, &e):
		return err
	case errors.Is(err, context.Canceled):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return model.ErrStorageTimeout.Wrap(err)
	case shared.IsArangoErrorWithErrorNum(err, shared.ErrArangoUniqueConstraintViolated):
		return model.ErrDuplicateKey.Wrap(err)
	case shared.IsArangoErrorWithErrorNum(err, shared.ErrArangoConflict):
		return model.ErrConcurrentModification.Wrap(err)
	}
	return model.ErrStorageUnavailable.Wrap(err)
}

// queryAll runs an AQL query and decodes every row with decode
func (s *ArangoStore) queryAll(ctx context.Context, query string, bindVars map[string]interface{}, decode func(arangodb.Cursor) error) error {
	cursor, err := s.db.Query(ctx, query, &arangodb.QueryOptions{
		BindVars: bindVars,
	})
	if err != nil {
		return classify(err)
	}
	defer cursor.Close()

	for cursor.HasMore() {
		if err := decode(cursor); err != nil {
			return classify(err)
		}
	}
	return nil
}

// exec runs a data modification query and reports whether it touched a document
func (s *ArangoStore) exec(ctx context.Context, query string, bindVars map[string]interface{}) (bool, error) {
	touched := false
	err := s.queryAll(ctx, query, bindVars, func(c arangodb.Cursor) error {
		var key string
		_, err := c.ReadDocument(ctx, &key)
		touched = true
		return err
	})
	return touched, err
}

// Finding loads a finding
func (s *ArangoStore) Finding(ctx context.Context, id string) (*model.Finding, error) {
	query := `
		FOR f IN finding
			FILTER f._key == @key
			LIMIT 1
			RETURN f
	`
	var found *model.Finding
	err := s.queryAll(ctx, query, map[string]interface{}{"key": id}, func(c arangodb.Cursor) error {
		var f model.Finding
		if _, err := c.ReadDocument(ctx, &f); err != nil {
			return err
		}
		found = &f
		return nil
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, model.ErrFindingMissing.With("finding", id)
	}
	return found, nil
}

// CreateFinding stores a new finding; an existing one is left untouched
func (s *ArangoStore) CreateFinding(ctx context.Context, f *model.Finding) error {
	query := `INSERT @doc INTO finding OPTIONS { overwriteMode: "ignore" } RETURN NEW._key`
	_, err := s.exec(ctx, query, map[string]interface{}{"doc": f})
	return err
}

// UpdateFinding replaces a finding whose release ledger still has the expected length
func (s *ArangoStore) UpdateFinding(ctx context.Context, f *model.Finding, expected int) error {
	query := `
		FOR f IN finding
			FILTER f._key == @key AND LENGTH(f.historic_release) == @expected
			REPLACE f WITH @doc IN finding
			RETURN NEW._key
	`
	touched, err := s.exec(ctx, query, map[string]interface{}{
		"key":      f.ID,
		"expected": expected,
		"doc":      f,
	})
	if err != nil || touched {
		return err
	}
	if _, err := s.Finding(ctx, f.ID); err != nil {
		return err
	}
	return model.ErrConcurrentModification.With("finding", f.ID)
}

// Vulnerabilities lists the vulnerabilities of a finding, optionally limited
// to one namespace, ordered by ID
func (s *ArangoStore) Vulnerabilities(ctx context.Context, findingID, namespace string) ([]*model.Vulnerability, error) {
	query := `
		FOR v IN vulnerability
			FILTER v.finding_id == @finding
			FILTER @namespace == "" OR v.namespace == @namespace
			SORT v._key
			RETURN v
	`
	var out []*model.Vulnerability
	err := s.queryAll(ctx, query, map[string]interface{}{
		"finding":   findingID,
		"namespace": namespace,
	}, func(c arangodb.Cursor) error {
		var v model.Vulnerability
		if _, err := c.ReadDocument(ctx, &v); err != nil {
			return err
		}
		out = append(out, &v)
		return nil
	})
	return out, err
}

// Vulnerability loads one vulnerability
func (s *ArangoStore) Vulnerability(ctx context.Context, id string) (*model.Vulnerability, error) {
	query := `
		FOR v IN vulnerability
			FILTER v._key == @key
			LIMIT 1
			RETURN v
	`
	var found *model.Vulnerability
	err := s.queryAll(ctx, query, map[string]interface{}{"key": id}, func(c arangodb.Cursor) error {
		var v model.Vulnerability
		if _, err := c.ReadDocument(ctx, &v); err != nil {
			return err
		}
		found = &v
		return nil
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, model.ErrVulnNotFound.With("vulnerability", id)
	}
	return found, nil
}

// CreateVulnerability stores a new vulnerability; creating the same ID twice is a no-op
func (s *ArangoStore) CreateVulnerability(ctx context.Context, v *model.Vulnerability) error {
	query := `INSERT @doc INTO vulnerability OPTIONS { overwriteMode: "ignore" } RETURN NEW._key`
	_, err := s.exec(ctx, query, map[string]interface{}{"doc": v})
	return err
}

// Append adds one ledger entry if the ledger still has the expected length.
// The entry is checked against a fresh copy before the conditional update.
func (s *ArangoStore) Append(ctx context.Context, a model.Append) error {
	v, err := s.Vulnerability(ctx, a.VulnerabilityID)
	if err != nil {
		return err
	}
	if err := v.Apply(a); err != nil {
		return err
	}

	query := `
		FOR v IN vulnerability
			FILTER v._key == @key AND LENGTH(v[@ledger]) == @expected
			UPDATE v WITH { [@ledger]: PUSH(v[@ledger], @entry) } IN vulnerability
			RETURN NEW._key
	`
	touched, err := s.exec(ctx, query, map[string]interface{}{
		"key":      a.VulnerabilityID,
		"ledger":   string(a.Ledger),
		"expected": a.Expected,
		"entry":    a.Entry,
	})
	if err != nil {
		return err
	}
	if !touched {
		return model.ErrConcurrentModification.With("vulnerability", a.VulnerabilityID).With("ledger", string(a.Ledger))
	}
	return nil
}
