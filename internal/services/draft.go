package services

import (
	"context"

	"github.com/ortelius/pdvd-ledger/model"
	"github.com/ortelius/pdvd-ledger/util"
	"go.uber.org/zap"
)

// DraftRequest describes a finding to be created as a draft
type DraftRequest struct {
	ID          string            `json:"id"`
	GroupName   string            `json:"group_name"`
	Title       string            `json:"title"`
	Description string            `json:"description,omitempty"`
	CVSSVector  string            `json:"cvss_vector,omitempty"`
	Evidence    map[string]string `json:"evidence,omitempty"`
	Actor       string            `json:"actor,omitempty"`
}

// CreateDraft stores a new draft finding. Creating a finding that already
// exists leaves the stored one untouched and returns it.
func (s *TransitionService) CreateDraft(ctx context.Context, req DraftRequest) (*model.Finding, error) {
	if util.IsEmpty(req.ID) || util.IsEmpty(req.GroupName) {
		return nil, model.IncompleteDraft(missingDraftKeys(req)...)
	}
	f, err := model.NewDraft(req.ID, util.NormalizeGroupName(req.GroupName), req.Title, model.Reporter{Identity: req.Actor, At: s.now()})
	if err != nil {
		return nil, err
	}
	if req.CVSSVector != "" {
		if !util.IsValidCVSSVector(req.CVSSVector) {
			return nil, model.ErrInvalidCVSSVector.With("cvss_vector", req.CVSSVector)
		}
		f.SetCVSSVector(req.CVSSVector)
	}
	f.Description = req.Description
	f.Evidence = req.Evidence

	var stored *model.Finding
	err = withRetry(ctx, s.cfg.Retry, s.logger, f.ID, func(ctx context.Context) error {
		if err := s.store.CreateFinding(ctx, f); err != nil {
			return err
		}
		got, err := s.store.Finding(ctx, f.ID)
		stored = got
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("Created draft", zap.String("finding", stored.ID), zap.String("group", stored.GroupName), zap.String("severity", stored.Severity.String()))
	return stored, nil
}

func missingDraftKeys(req DraftRequest) []string {
	var missing []string
	if util.IsEmpty(req.ID) {
		missing = append(missing, "id")
	}
	if util.IsEmpty(req.GroupName) {
		missing = append(missing, "group_name")
	}
	return missing
}
