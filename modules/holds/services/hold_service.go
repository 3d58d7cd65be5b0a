package services

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/shelfmark/shelfmark/modules/audit/domain/entities/auditrecord"
	auditservices "github.com/shelfmark/shelfmark/modules/audit/services"
	"github.com/shelfmark/shelfmark/modules/catalog/domain/aggregates/bib"
	"github.com/shelfmark/shelfmark/modules/catalog/domain/aggregates/copy"
	"github.com/shelfmark/shelfmark/modules/holds/domain/aggregates/hold"
	"github.com/shelfmark/shelfmark/modules/roster/domain/aggregates/member"
	"github.com/shelfmark/shelfmark/pkg/composables"
	"github.com/shelfmark/shelfmark/pkg/eventbus"
)

// defaultPickupWindow is how long a ready hold waits at the desk before
// it expires.
const defaultPickupWindow = 7 * 24 * time.Hour

type HoldPlacedEvent struct {
	Hold hold.Hold
}

type HoldReadyEvent struct {
	Hold hold.Hold
}

type HoldFulfilledEvent struct {
	Hold hold.Hold
}

type HoldService struct {
	holds     hold.Repository
	bibs      bib.Repository
	copies    copy.Repository
	members   member.Repository
	audit     *auditservices.AuditService
	publisher eventbus.EventBus
}

func NewHoldService(
	holds hold.Repository,
	bibs bib.Repository,
	copies copy.Repository,
	members member.Repository,
	audit *auditservices.AuditService,
	publisher eventbus.EventBus,
) *HoldService {
	return &HoldService{
		holds:     holds,
		bibs:      bibs,
		copies:    copies,
		members:   members,
		audit:     audit,
		publisher: publisher,
	}
}

func (s *HoldService) GetPaginated(ctx context.Context, params *hold.FindParams) ([]hold.Hold, int64, error) {
	return s.holds.GetPaginated(ctx, params)
}

// Place queues a hold on a bib for a member. The partial unique index
// rejects a second active hold for the same member and bib.
func (s *HoldService) Place(ctx context.Context, bibID, memberID uuid.UUID) (hold.Hold, error) {
	return composables.InTxResult(ctx, func(txCtx context.Context) (hold.Hold, error) {
		m, err := s.members.GetByID(txCtx, memberID)
		if err != nil {
			return hold.Hold{}, err
		}
		if m.Status != member.StatusActive {
			return hold.Hold{}, hold.ErrMemberInactive
		}
		if _, err := s.bibs.GetByID(txCtx, bibID); err != nil {
			return hold.Hold{}, err
		}

		created, err := s.holds.Create(txCtx, hold.Hold{
			BibID:    bibID,
			MemberID: memberID,
			Status:   hold.StatusQueued,
			PlacedAt: time.Now(),
		})
		if err != nil {
			return hold.Hold{}, err
		}
		if err := s.record(txCtx, "hold.place", created); err != nil {
			return hold.Hold{}, err
		}

		s.publisher.Publish(HoldPlacedEvent{Hold: created})
		return created, nil
	})
}

// Ready assigns an available copy to a queued hold and parks the copy
// for pickup. The copy row is locked so a concurrent checkout cannot
// grab it.
func (s *HoldService) Ready(ctx context.Context, holdID, copyID uuid.UUID) (hold.Hold, error) {
	return composables.InTxResult(ctx, func(txCtx context.Context) (hold.Hold, error) {
		h, err := s.holds.GetByID(txCtx, holdID)
		if err != nil {
			return hold.Hold{}, err
		}

		c, err := s.copies.GetByIDForUpdate(txCtx, copyID)
		if err != nil {
			return hold.Hold{}, err
		}
		if c.Status != copy.StatusAvailable {
			return hold.Hold{}, hold.ErrCopyUnavailable
		}

		now := time.Now()
		until := now.Add(defaultPickupWindow)
		if err := s.holds.MarkReady(txCtx, holdID, copyID, now, until); err != nil {
			return hold.Hold{}, err
		}
		if err := s.copies.UpdateStatus(txCtx, copyID, copy.StatusOnHold); err != nil {
			return hold.Hold{}, err
		}

		h.Status = hold.StatusReady
		h.AssignedCopyID = &copyID
		h.ReadyAt = &now
		h.ReadyUntil = &until
		if err := s.record(txCtx, "hold.ready", h); err != nil {
			return hold.Hold{}, err
		}

		s.publisher.Publish(HoldReadyEvent{Hold: h})
		return h, nil
	})
}

// Cancel closes an active hold. A ready hold releases its parked copy.
func (s *HoldService) Cancel(ctx context.Context, holdID uuid.UUID) (hold.Hold, error) {
	return composables.InTxResult(ctx, func(txCtx context.Context) (hold.Hold, error) {
		h, err := s.holds.GetByID(txCtx, holdID)
		if err != nil {
			return hold.Hold{}, err
		}

		now := time.Now()
		if err := s.holds.MarkCancelled(txCtx, holdID, now); err != nil {
			return hold.Hold{}, err
		}
		if err := s.releaseCopy(txCtx, h); err != nil {
			return hold.Hold{}, err
		}

		h.Status = hold.StatusCancelled
		h.CancelledAt = &now
		if err := s.record(txCtx, "hold.cancel", h); err != nil {
			return hold.Hold{}, err
		}
		return h, nil
	})
}

// Fulfill marks a ready hold as picked up. The parked copy goes back to
// available so the checkout that follows can lend it.
func (s *HoldService) Fulfill(ctx context.Context, holdID uuid.UUID) (hold.Hold, error) {
	return composables.InTxResult(ctx, func(txCtx context.Context) (hold.Hold, error) {
		h, err := s.holds.GetByID(txCtx, holdID)
		if err != nil {
			return hold.Hold{}, err
		}

		now := time.Now()
		if err := s.holds.MarkFulfilled(txCtx, holdID, now); err != nil {
			return hold.Hold{}, err
		}
		if err := s.releaseCopy(txCtx, h); err != nil {
			return hold.Hold{}, err
		}

		h.Status = hold.StatusFulfilled
		h.FulfilledAt = &now
		if err := s.record(txCtx, "hold.fulfill", h); err != nil {
			return hold.Hold{}, err
		}

		s.publisher.Publish(HoldFulfilledEvent{Hold: h})
		return h, nil
	})
}

// ExpireReady cancels every ready hold whose pickup window has closed
// and releases the parked copies. Returns how many holds were expired.
func (s *HoldService) ExpireReady(ctx context.Context) (int, error) {
	return composables.InTxResult(ctx, func(txCtx context.Context) (int, error) {
		expired, err := s.holds.FindExpiredReady(txCtx, time.Now())
		if err != nil {
			return 0, err
		}
		now := time.Now()
		for _, h := range expired {
			if err := s.holds.MarkCancelled(txCtx, h.ID, now); err != nil {
				return 0, err
			}
			if err := s.releaseCopy(txCtx, h); err != nil {
				return 0, err
			}
		}
		if len(expired) == 0 {
			return 0, nil
		}

		actorID, err := composables.UseActorID(txCtx)
		if err != nil {
			return 0, err
		}
		counts, err := json.Marshal(map[string]string{
			"expired": strconv.Itoa(len(expired)),
		})
		if err != nil {
			return 0, err
		}
		if err := s.audit.Record(txCtx, &auditrecord.AuditRecord{
			ActorID: actorID,
			Action:  "hold.expire_ready",
			Entity:  "hold",
			Counts:  counts,
		}); err != nil {
			return 0, err
		}
		return len(expired), nil
	})
}

func (s *HoldService) releaseCopy(ctx context.Context, h hold.Hold) error {
	if h.Status != hold.StatusReady || h.AssignedCopyID == nil {
		return nil
	}
	return s.copies.UpdateStatus(ctx, *h.AssignedCopyID, copy.StatusAvailable)
}

func (s *HoldService) record(ctx context.Context, action string, h hold.Hold) error {
	actorID, err := composables.UseActorID(ctx)
	if err != nil {
		return err
	}
	counts, err := json.Marshal(map[string]string{
		"bib_id":    h.BibID.String(),
		"member_id": h.MemberID.String(),
	})
	if err != nil {
		return err
	}
	holdID := h.ID
	return s.audit.Record(ctx, &auditrecord.AuditRecord{
		ActorID:  actorID,
		Action:   action,
		Entity:   "hold",
		EntityID: &holdID,
		Counts:   counts,
	})
}
