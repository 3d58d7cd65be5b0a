package services

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/shelfmark/shelfmark/modules/audit/domain/entities/auditrecord"
	auditservices "github.com/shelfmark/shelfmark/modules/audit/services"
	"github.com/shelfmark/shelfmark/modules/catalog/domain/aggregates/copy"
	"github.com/shelfmark/shelfmark/modules/inventory/domain/aggregates/session"
	"github.com/shelfmark/shelfmark/pkg/composables"
	"github.com/shelfmark/shelfmark/pkg/eventbus"
)

type ScanRecordedEvent struct {
	Scan session.Scan
}

type SessionClosedEvent struct {
	Session session.Session
}

// Report reconciles a session's scans against the catalog. Missing
// copies are available on paper but never scanned; unexpected copies
// were scanned even though the catalog says they should not be on the
// shelf.
type Report struct {
	Session    session.Session
	Scanned    int
	Missing    []copy.Copy
	Unexpected []copy.Copy
}

type InventoryService struct {
	sessions  session.Repository
	copies    copy.Repository
	audit     *auditservices.AuditService
	publisher eventbus.EventBus
}

func NewInventoryService(
	sessions session.Repository,
	copies copy.Repository,
	audit *auditservices.AuditService,
	publisher eventbus.EventBus,
) *InventoryService {
	return &InventoryService{
		sessions:  sessions,
		copies:    copies,
		audit:     audit,
		publisher: publisher,
	}
}

func (s *InventoryService) GetSessions(ctx context.Context, params *session.FindParams) ([]session.Session, int64, error) {
	return s.sessions.GetSessions(ctx, params)
}

func (s *InventoryService) StartSession(ctx context.Context, note string) (session.Session, error) {
	return composables.InTxResult(ctx, func(txCtx context.Context) (session.Session, error) {
		created, err := s.sessions.CreateSession(txCtx, session.Session{
			Note:      note,
			StartedAt: time.Now(),
		})
		if err != nil {
			return session.Session{}, err
		}
		if err := s.record(txCtx, "inventory.session.start", created.ID, map[string]string{}); err != nil {
			return session.Session{}, err
		}
		return created, nil
	})
}

// RecordScan marks one copy as seen during an open session. The barcode
// resolves against the catalog; an unknown barcode surfaces as
// copy.ErrNotFound.
func (s *InventoryService) RecordScan(ctx context.Context, sessionID uuid.UUID, barcode string) (session.Scan, error) {
	return composables.InTxResult(ctx, func(txCtx context.Context) (session.Scan, error) {
		sess, err := s.sessions.GetSessionByID(txCtx, sessionID)
		if err != nil {
			return session.Scan{}, err
		}
		if !sess.Open() {
			return session.Scan{}, session.ErrSessionClosed
		}

		c, err := s.copies.GetByBarcode(txCtx, barcode)
		if err != nil {
			return session.Scan{}, err
		}

		created, err := s.sessions.CreateScan(txCtx, session.Scan{
			SessionID: sessionID,
			CopyID:    c.ID,
			ScannedAt: time.Now(),
		})
		if err != nil {
			return session.Scan{}, err
		}
		if err := s.record(txCtx, "inventory.scan", sessionID, map[string]string{
			"barcode": barcode,
			"status":  string(c.Status),
		}); err != nil {
			return session.Scan{}, err
		}

		s.publisher.Publish(ScanRecordedEvent{Scan: created})
		return created, nil
	})
}

func (s *InventoryService) CloseSession(ctx context.Context, sessionID uuid.UUID) (session.Session, error) {
	return composables.InTxResult(ctx, func(txCtx context.Context) (session.Session, error) {
		sess, err := s.sessions.GetSessionByID(txCtx, sessionID)
		if err != nil {
			return session.Session{}, err
		}

		now := time.Now()
		if err := s.sessions.CloseSession(txCtx, sessionID, now); err != nil {
			return session.Session{}, err
		}

		scans, err := s.sessions.ScansBySession(txCtx, sessionID)
		if err != nil {
			return session.Session{}, err
		}

		sess.ClosedAt = &now
		if err := s.record(txCtx, "inventory.session.close", sessionID, map[string]string{
			"scans": strconv.Itoa(len(scans)),
		}); err != nil {
			return session.Session{}, err
		}

		s.publisher.Publish(SessionClosedEvent{Session: sess})
		return sess, nil
	})
}

// Report reconciles a session's scans against the catalog's available
// copies. It runs in one transaction so the two sides line up.
func (s *InventoryService) Report(ctx context.Context, sessionID uuid.UUID) (Report, error) {
	return composables.InTxResult(ctx, func(txCtx context.Context) (Report, error) {
		sess, err := s.sessions.GetSessionByID(txCtx, sessionID)
		if err != nil {
			return Report{}, err
		}
		scans, err := s.sessions.ScansBySession(txCtx, sessionID)
		if err != nil {
			return Report{}, err
		}
		available, err := s.copies.GetByStatus(txCtx, copy.StatusAvailable)
		if err != nil {
			return Report{}, err
		}

		scanned := make(map[uuid.UUID]bool, len(scans))
		for _, sc := range scans {
			scanned[sc.CopyID] = true
		}

		report := Report{Session: sess, Scanned: len(scans)}
		availableIDs := make(map[uuid.UUID]bool, len(available))
		for _, c := range available {
			availableIDs[c.ID] = true
			if !scanned[c.ID] {
				report.Missing = append(report.Missing, c)
			}
		}
		for _, sc := range scans {
			if availableIDs[sc.CopyID] {
				continue
			}
			c, err := s.copies.GetByID(txCtx, sc.CopyID)
			if err != nil {
				return Report{}, err
			}
			report.Unexpected = append(report.Unexpected, c)
		}
		return report, nil
	})
}

func (s *InventoryService) record(ctx context.Context, action string, sessionID uuid.UUID, counts map[string]string) error {
	actorID, err := composables.UseActorID(ctx)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(counts)
	if err != nil {
		return err
	}
	entityID := sessionID
	return s.audit.Record(ctx, &auditrecord.AuditRecord{
		ActorID:  actorID,
		Action:   action,
		Entity:   "inventory_session",
		EntityID: &entityID,
		Counts:   payload,
	})
}
