package services

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/shelfmark/shelfmark/modules/audit/domain/entities/auditrecord"
	auditservices "github.com/shelfmark/shelfmark/modules/audit/services"
	"github.com/shelfmark/shelfmark/modules/catalog/domain/aggregates/copy"
	"github.com/shelfmark/shelfmark/modules/circulation/domain/aggregates/loan"
	"github.com/shelfmark/shelfmark/modules/roster/domain/aggregates/member"
	"github.com/shelfmark/shelfmark/pkg/composables"
	"github.com/shelfmark/shelfmark/pkg/eventbus"
)

// defaultLoanPeriod is how long a checkout runs before it is due.
const defaultLoanPeriod = 28 * 24 * time.Hour

type LoanCheckedOutEvent struct {
	Loan loan.Loan
}

type LoanReturnedEvent struct {
	Loan loan.Loan
}

type CirculationService struct {
	loans     loan.Repository
	copies    copy.Repository
	members   member.Repository
	audit     *auditservices.AuditService
	publisher eventbus.EventBus
}

func NewCirculationService(
	loans loan.Repository,
	copies copy.Repository,
	members member.Repository,
	audit *auditservices.AuditService,
	publisher eventbus.EventBus,
) *CirculationService {
	return &CirculationService{
		loans:     loans,
		copies:    copies,
		members:   members,
		audit:     audit,
		publisher: publisher,
	}
}

func (s *CirculationService) GetPaginated(ctx context.Context, params *loan.FindParams) ([]loan.Loan, int64, error) {
	return s.loans.GetPaginated(ctx, params)
}

// Checkout lends a copy to a member. The copy row is locked for the
// duration of the transaction so two concurrent checkouts of the same
// barcode cannot both succeed.
func (s *CirculationService) Checkout(ctx context.Context, copyID, memberID uuid.UUID) (loan.Loan, error) {
	return composables.InTxResult(ctx, func(txCtx context.Context) (loan.Loan, error) {
		m, err := s.members.GetByID(txCtx, memberID)
		if err != nil {
			return loan.Loan{}, err
		}
		if m.Status != member.StatusActive {
			return loan.Loan{}, loan.ErrMemberInactive
		}

		c, err := s.copies.GetByIDForUpdate(txCtx, copyID)
		if err != nil {
			return loan.Loan{}, err
		}
		if c.Status != copy.StatusAvailable {
			return loan.Loan{}, loan.ErrCopyUnavailable
		}

		now := time.Now()
		created, err := s.loans.Create(txCtx, loan.Loan{
			CopyID:       copyID,
			MemberID:     memberID,
			CheckedOutAt: now,
			DueAt:        now.Add(defaultLoanPeriod),
		})
		if err != nil {
			return loan.Loan{}, err
		}
		if err := s.copies.UpdateStatus(txCtx, copyID, copy.StatusOnLoan); err != nil {
			return loan.Loan{}, err
		}
		if err := s.record(txCtx, "loan.checkout", created); err != nil {
			return loan.Loan{}, err
		}

		s.publisher.Publish(LoanCheckedOutEvent{Loan: created})
		return created, nil
	})
}

// Checkin closes the open loan on a copy and makes the copy available
// again.
func (s *CirculationService) Checkin(ctx context.Context, copyID uuid.UUID) (loan.Loan, error) {
	return composables.InTxResult(ctx, func(txCtx context.Context) (loan.Loan, error) {
		if _, err := s.copies.GetByIDForUpdate(txCtx, copyID); err != nil {
			return loan.Loan{}, err
		}

		open, err := s.loans.GetOpenByCopy(txCtx, copyID)
		if errors.Is(err, loan.ErrNotFound) {
			return loan.Loan{}, loan.ErrNoOpenLoan
		}
		if err != nil {
			return loan.Loan{}, err
		}

		now := time.Now()
		if err := s.loans.MarkReturned(txCtx, open.ID, now); err != nil {
			return loan.Loan{}, err
		}
		if err := s.copies.UpdateStatus(txCtx, copyID, copy.StatusAvailable); err != nil {
			return loan.Loan{}, err
		}
		open.ReturnedAt = &now
		if err := s.record(txCtx, "loan.checkin", open); err != nil {
			return loan.Loan{}, err
		}

		s.publisher.Publish(LoanReturnedEvent{Loan: open})
		return open, nil
	})
}

func (s *CirculationService) record(ctx context.Context, action string, l loan.Loan) error {
	actorID, err := composables.UseActorID(ctx)
	if err != nil {
		return err
	}
	counts, err := json.Marshal(map[string]string{
		"copy_id":   l.CopyID.String(),
		"member_id": l.MemberID.String(),
	})
	if err != nil {
		return err
	}
	loanID := l.ID
	return s.audit.Record(ctx, &auditrecord.AuditRecord{
		ActorID:  actorID,
		Action:   action,
		Entity:   "loan",
		EntityID: &loanID,
		Counts:   counts,
	})
}
