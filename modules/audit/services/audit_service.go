package services

import (
	"context"
	"errors"

	"github.com/shelfmark/shelfmark/modules/audit/domain/entities/auditrecord"
)

type AuditService struct {
	repo auditrecord.Repository
}

func NewAuditService(repo auditrecord.Repository) *AuditService {
	return &AuditService{repo: repo}
}

func (s *AuditService) List(
	ctx context.Context,
	params *auditrecord.FindParams,
) ([]*auditrecord.AuditRecord, int64, error) {
	if params == nil {
		params = &auditrecord.FindParams{}
	}

	records, err := s.repo.List(ctx, params)
	if err != nil {
		return nil, 0, err
	}
	count, err := s.repo.Count(ctx, params)
	if err != nil {
		return nil, 0, err
	}
	return records, count, nil
}

// Record appends one audit record. It runs on whatever transaction the
// context carries, so a caller that opened a transaction gets the
// record-and-mutation-commit-together guarantee for free.
func (s *AuditService) Record(ctx context.Context, record *auditrecord.AuditRecord) error {
	if record == nil {
		return errors.New("audit record payload is required")
	}
	if record.Action == "" {
		return errors.New("audit record action is required")
	}
	if record.Entity == "" {
		return errors.New("audit record entity is required")
	}
	return s.repo.Create(ctx, record)
}
