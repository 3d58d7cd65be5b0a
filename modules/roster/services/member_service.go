package services

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/shelfmark/shelfmark/modules/audit/domain/entities/auditrecord"
	auditservices "github.com/shelfmark/shelfmark/modules/audit/services"
	"github.com/shelfmark/shelfmark/modules/roster/domain/aggregates/member"
	"github.com/shelfmark/shelfmark/pkg/composables"
	"github.com/shelfmark/shelfmark/pkg/eventbus"
)

type MemberCreatedEvent struct {
	Member member.Member
}

type MemberUpdatedEvent struct {
	Member member.Member
}

type MemberDeletedEvent struct {
	ID uuid.UUID
}

type MemberService struct {
	repo      member.Repository
	audit     *auditservices.AuditService
	publisher eventbus.EventBus
}

func NewMemberService(repo member.Repository, audit *auditservices.AuditService, publisher eventbus.EventBus) *MemberService {
	return &MemberService{
		repo:      repo,
		audit:     audit,
		publisher: publisher,
	}
}

func (s *MemberService) GetPaginated(ctx context.Context, params *member.FindParams) ([]member.Member, int64, error) {
	return s.repo.GetPaginated(ctx, params)
}

func (s *MemberService) GetByID(ctx context.Context, id uuid.UUID) (member.Member, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *MemberService) GetByExternalID(ctx context.Context, externalID string) (member.Member, error) {
	return s.repo.GetByExternalID(ctx, externalID)
}

func (s *MemberService) Create(ctx context.Context, dto *member.CreateDTO) (member.Member, error) {
	status := member.Status(dto.Status)
	if status == "" {
		status = member.StatusActive
	}

	created, err := s.repo.Create(ctx, member.Member{
		ExternalID: dto.ExternalID,
		Name:       dto.Name,
		Role:       member.Role(dto.Role),
		OrgUnit:    dto.OrgUnit,
		Status:     status,
	})
	if err != nil {
		return member.Member{}, err
	}

	if err := s.recordChange(ctx, "member.create", created); err != nil {
		return member.Member{}, err
	}
	s.publisher.Publish(MemberCreatedEvent{Member: created})
	return created, nil
}

func (s *MemberService) Update(ctx context.Context, id uuid.UUID, dto *member.UpdateDTO) (member.Member, error) {
	current, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return member.Member{}, err
	}

	if dto.Name != nil {
		current.Name = *dto.Name
	}
	if dto.Role != nil {
		current.Role = member.Role(*dto.Role)
	}
	if dto.OrgUnit != nil {
		if *dto.OrgUnit == "" {
			current.OrgUnit = nil
		} else {
			current.OrgUnit = dto.OrgUnit
		}
	}
	if dto.Status != nil {
		current.Status = member.Status(*dto.Status)
	}

	updated, err := s.repo.Update(ctx, current)
	if err != nil {
		return member.Member{}, err
	}

	if err := s.recordChange(ctx, "member.update", updated); err != nil {
		return member.Member{}, err
	}
	s.publisher.Publish(MemberUpdatedEvent{Member: updated})
	return updated, nil
}

func (s *MemberService) Delete(ctx context.Context, id uuid.UUID) error {
	target, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	if err := s.recordChange(ctx, "member.delete", target); err != nil {
		return err
	}
	s.publisher.Publish(MemberDeletedEvent{ID: id})
	return nil
}

func (s *MemberService) recordChange(ctx context.Context, action string, m member.Member) error {
	actorID, err := composables.UseActorID(ctx)
	if err != nil {
		return err
	}
	counts, err := json.Marshal(map[string]string{"external_id": m.ExternalID})
	if err != nil {
		return err
	}
	id := m.ID
	return s.audit.Record(ctx, &auditrecord.AuditRecord{
		ActorID:  actorID,
		Action:   action,
		Entity:   "member",
		EntityID: &id,
		Counts:   counts,
	})
}
