package services

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/shelfmark/shelfmark/modules/audit/domain/entities/auditrecord"
	auditservices "github.com/shelfmark/shelfmark/modules/audit/services"
	"github.com/shelfmark/shelfmark/modules/catalog/domain/aggregates/bib"
	"github.com/shelfmark/shelfmark/modules/catalog/domain/aggregates/copy"
	"github.com/shelfmark/shelfmark/pkg/composables"
	"github.com/shelfmark/shelfmark/pkg/eventbus"
)

type BibCreatedEvent struct {
	Bib bib.Bib
}

type BibDeletedEvent struct {
	ID uuid.UUID
}

type CatalogService struct {
	bibs      bib.Repository
	copies    copy.Repository
	audit     *auditservices.AuditService
	publisher eventbus.EventBus
}

func NewCatalogService(
	bibs bib.Repository,
	copies copy.Repository,
	audit *auditservices.AuditService,
	publisher eventbus.EventBus,
) *CatalogService {
	return &CatalogService{
		bibs:      bibs,
		copies:    copies,
		audit:     audit,
		publisher: publisher,
	}
}

func (s *CatalogService) GetPaginated(ctx context.Context, params *bib.FindParams) ([]bib.Bib, int64, error) {
	return s.bibs.GetPaginated(ctx, params)
}

func (s *CatalogService) GetByID(ctx context.Context, id uuid.UUID) (bib.Bib, error) {
	return s.bibs.GetByID(ctx, id)
}

func (s *CatalogService) Create(ctx context.Context, dto *bib.CreateDTO) (bib.Bib, error) {
	created, err := s.bibs.Create(ctx, bib.Bib{
		Title:     dto.Title,
		Author:    dto.Author,
		ISBN:      dto.ISBN,
		Publisher: dto.Publisher,
		Year:      dto.Year,
	})
	if err != nil {
		return bib.Bib{}, err
	}
	if err := s.record(ctx, "bib.create", "bib", created.ID, created.Title); err != nil {
		return bib.Bib{}, err
	}
	s.publisher.Publish(BibCreatedEvent{Bib: created})
	return created, nil
}

func (s *CatalogService) Update(ctx context.Context, id uuid.UUID, dto *bib.UpdateDTO) (bib.Bib, error) {
	current, err := s.bibs.GetByID(ctx, id)
	if err != nil {
		return bib.Bib{}, err
	}

	if dto.Title != nil {
		current.Title = *dto.Title
	}
	if dto.Author != nil {
		current.Author = *dto.Author
	}
	if dto.ISBN != nil {
		current.ISBN = dto.ISBN
	}
	if dto.Publisher != nil {
		current.Publisher = dto.Publisher
	}
	if dto.Year != nil {
		current.Year = dto.Year
	}

	updated, err := s.bibs.Update(ctx, current)
	if err != nil {
		return bib.Bib{}, err
	}
	if err := s.record(ctx, "bib.update", "bib", updated.ID, updated.Title); err != nil {
		return bib.Bib{}, err
	}
	return updated, nil
}

func (s *CatalogService) Delete(ctx context.Context, id uuid.UUID) error {
	target, err := s.bibs.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.bibs.Delete(ctx, id); err != nil {
		return err
	}
	if err := s.record(ctx, "bib.delete", "bib", id, target.Title); err != nil {
		return err
	}
	s.publisher.Publish(BibDeletedEvent{ID: id})
	return nil
}

func (s *CatalogService) GetCopies(ctx context.Context, bibID uuid.UUID) ([]copy.Copy, error) {
	return s.copies.GetByBib(ctx, bibID)
}

func (s *CatalogService) GetCopyByBarcode(ctx context.Context, barcode string) (copy.Copy, error) {
	return s.copies.GetByBarcode(ctx, barcode)
}

func (s *CatalogService) AddCopy(ctx context.Context, bibID uuid.UUID, barcode string) (copy.Copy, error) {
	if _, err := s.bibs.GetByID(ctx, bibID); err != nil {
		return copy.Copy{}, err
	}
	created, err := s.copies.Create(ctx, copy.Copy{
		BibID:   bibID,
		Barcode: barcode,
	})
	if err != nil {
		return copy.Copy{}, err
	}
	if err := s.record(ctx, "copy.create", "copy", created.ID, created.Barcode); err != nil {
		return copy.Copy{}, err
	}
	return created, nil
}

func (s *CatalogService) UpdateCopyStatus(ctx context.Context, id uuid.UUID, status copy.Status) error {
	if err := s.copies.UpdateStatus(ctx, id, status); err != nil {
		return err
	}
	return s.record(ctx, "copy.status", "copy", id, string(status))
}

func (s *CatalogService) DeleteCopy(ctx context.Context, id uuid.UUID) error {
	target, err := s.copies.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.copies.Delete(ctx, id); err != nil {
		return err
	}
	return s.record(ctx, "copy.delete", "copy", id, target.Barcode)
}

func (s *CatalogService) record(ctx context.Context, action, entity string, id uuid.UUID, detail string) error {
	actorID, err := composables.UseActorID(ctx)
	if err != nil {
		return err
	}
	counts, err := json.Marshal(map[string]string{"detail": detail})
	if err != nil {
		return err
	}
	entityID := id
	return s.audit.Record(ctx, &auditrecord.AuditRecord{
		ActorID:  actorID,
		Action:   action,
		Entity:   entity,
		EntityID: &entityID,
		Counts:   counts,
	})
}
