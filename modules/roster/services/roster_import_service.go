package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/google/uuid"

	"github.com/shelfmark/shelfmark/modules/audit/domain/entities/auditrecord"
	auditservices "github.com/shelfmark/shelfmark/modules/audit/services"
	"github.com/shelfmark/shelfmark/modules/roster/domain/aggregates/member"
	"github.com/shelfmark/shelfmark/modules/roster/importer"
	"github.com/shelfmark/shelfmark/pkg/composables"
	"github.com/shelfmark/shelfmark/pkg/configuration"
	"github.com/shelfmark/shelfmark/pkg/eventbus"
)

// ImportBlockedError carries the full error report of a run that could
// not be applied. Apply surfaces it after rolling the transaction back.
type ImportBlockedError struct {
	Errors  []importer.RowError
	Summary importer.Summary
}

func (e *ImportBlockedError) Error() string {
	return fmt.Sprintf("import blocked by %d validation errors", len(e.Errors))
}

// CSVDigest identifies the file a run operated on.
type CSVDigest struct {
	Header      []string `json:"header,omitempty"`
	ContentHash string   `json:"content_hash"`
}

// ImportResult is the outcome of a preview or apply run. Rows and
// Deactivations hold at most the configured sample size for previews and
// are empty after apply; AuditID is set only after a committed apply.
type ImportResult struct {
	Mode          string              `json:"mode"`
	CSV           CSVDigest           `json:"csv"`
	Options       importer.Options    `json:"options"`
	Summary       importer.Summary    `json:"summary"`
	Errors        []importer.RowError `json:"errors,omitempty"`
	Rows          []importer.RowPlan  `json:"rows,omitempty"`
	Deactivations []member.Member     `json:"deactivation_candidates,omitempty"`
	AuditID       *uuid.UUID          `json:"audit_id,omitempty"`
}

// RosterImportAppliedEvent is published after an apply run commits.
type RosterImportAppliedEvent struct {
	TenantID    uuid.UUID
	ContentHash string
	Summary     importer.Summary
}

type RosterImportService struct {
	repo      member.Repository
	audit     *auditservices.AuditService
	publisher eventbus.EventBus
	conf      configuration.RosterImportOptions
}

func NewRosterImportService(
	repo member.Repository,
	audit *auditservices.AuditService,
	publisher eventbus.EventBus,
	conf configuration.RosterImportOptions,
) *RosterImportService {
	return &RosterImportService{
		repo:      repo,
		audit:     audit,
		publisher: publisher,
		conf:      conf,
	}
}

// pipelineOutput is the shared product of one pipeline run; preview and
// apply differ only in what they do with it.
type pipelineOutput struct {
	header   []string
	columns  importer.Columns
	rows     []importer.NormalizedRow
	plans    []importer.RowPlan
	errs     []importer.RowError
	summary  importer.Summary
	existing map[string]member.Member
	missing  []member.Member
}

// run executes the database-independent stages, then loads existing state
// in one batched query and diffs against it. It never writes.
func (s *RosterImportService) run(ctx context.Context, text string, opts importer.Options) (*pipelineOutput, error) {
	out := &pipelineOutput{}

	header, rows, errs := importer.Tokenize(text, s.conf.MaxBytes)
	out.header = header
	out.errs = append(out.errs, errs...)
	if importer.HasBlocking(out.errs) {
		out.summary = importer.Summarize(len(rows), nil, out.errs)
		return out, nil
	}

	cols, colErrs := importer.ResolveColumns(header)
	out.columns = cols
	out.errs = append(out.errs, colErrs...)
	if importer.HasBlocking(out.errs) {
		out.summary = importer.Summarize(len(rows), nil, out.errs)
		return out, nil
	}

	normalized, rowErrs := importer.NormalizeRows(rows, cols, opts)
	out.rows = normalized
	out.errs = append(out.errs, rowErrs...)
	out.errs = append(out.errs, importer.CheckDeactivationScope(normalized, opts)...)

	existing, err := s.repo.GetByExternalIDs(ctx, importer.ValidKeys(normalized))
	if err != nil {
		return nil, errors.Wrap(err, "load existing members")
	}
	out.existing = existing

	plans, planErrs := importer.BuildPlan(normalized, existing)
	out.plans = plans
	out.errs = append(out.errs, planErrs...)
	out.summary = importer.Summarize(len(rows), plans, out.errs)

	if opts.SyncMissing && !importer.HasBlocking(out.errs) {
		missing, err := s.repo.FindMissingActive(ctx, opts.SyncRoles, importer.ValidKeys(normalized))
		if err != nil {
			return nil, errors.Wrap(err, "find missing members")
		}
		out.missing = missing
		out.summary.ToDeactivate = len(missing)
	}

	return out, nil
}

// Preview runs the full pipeline without writing anything and reports
// what an apply of the same file would do.
func (s *RosterImportService) Preview(ctx context.Context, text string, opts importer.Options) (*ImportResult, error) {
	out, err := s.run(ctx, text, opts)
	if err != nil {
		return nil, err
	}

	plans := out.plans
	if len(plans) > s.conf.PreviewSampleSize {
		plans = plans[:s.conf.PreviewSampleSize]
	}
	missing := out.missing
	if len(missing) > s.conf.PreviewSampleSize {
		missing = missing[:s.conf.PreviewSampleSize]
	}

	return &ImportResult{
		Mode:          "preview",
		CSV:           CSVDigest{Header: out.header, ContentHash: contentHash(text)},
		Options:       opts,
		Summary:       out.summary,
		Errors:        out.errs,
		Rows:          plans,
		Deactivations: missing,
	}, nil
}

// Apply re-runs the pipeline inside one transaction and executes the
// resulting plan. Validation errors abort before any write; a failure in
// any chunk, the deactivation pass or the audit insert rolls everything
// back, so either the whole file lands with its audit record or nothing
// does.
func (s *RosterImportService) Apply(ctx context.Context, text string, opts importer.Options) (*ImportResult, error) {
	result, err := composables.InTxResult(ctx, func(txCtx context.Context) (*ImportResult, error) {
		out, err := s.run(txCtx, text, opts)
		if err != nil {
			return nil, err
		}
		if importer.HasBlocking(out.errs) {
			return nil, &ImportBlockedError{Errors: out.errs, Summary: out.summary}
		}

		if err := s.execute(txCtx, out, opts); err != nil {
			return nil, err
		}

		hash := contentHash(text)
		auditID, err := s.recordApply(txCtx, hash, opts, out.summary)
		if err != nil {
			return nil, errors.Wrap(err, "record audit")
		}

		return &ImportResult{
			Mode:    "apply",
			CSV:     CSVDigest{Header: out.header, ContentHash: hash},
			Options: opts,
			Summary: out.summary,
			Errors:  nonBlockingOnly(out.errs),
			AuditID: &auditID,
		}, nil
	})
	if err != nil {
		return nil, err
	}

	// Subscribers must only ever see committed applies, so the event
	// goes out after the transaction returns.
	tenantID, err := composables.UseTenantID(ctx)
	if err != nil {
		return nil, err
	}
	s.publisher.Publish(RosterImportAppliedEvent{
		TenantID:    tenantID,
		ContentHash: result.CSV.ContentHash,
		Summary:     result.Summary,
	})
	return result, nil
}

func (s *RosterImportService) execute(ctx context.Context, out *pipelineOutput, opts importer.Options) error {
	scope := member.UpsertScope{
		OrgUnit: out.columns.Has(importer.FieldOrgUnit),
		Status:  out.columns.Has(importer.FieldStatus),
	}

	pending := make([]member.Member, 0, len(out.plans))
	for _, p := range out.plans {
		if p.Action != importer.ActionCreate && p.Action != importer.ActionUpdate {
			continue
		}
		pending = append(pending, toMember(p.Row, out.existing))
	}

	for start := 0; start < len(pending); start += s.conf.ChunkSize {
		end := start + s.conf.ChunkSize
		if end > len(pending) {
			end = len(pending)
		}
		if err := s.repo.BulkUpsert(ctx, pending[start:end], scope); err != nil {
			return errors.Wrap(err, "upsert chunk")
		}
	}

	if opts.SyncMissing {
		count, err := s.repo.DeactivateMissing(ctx, opts.SyncRoles, importer.ValidKeys(out.rows))
		if err != nil {
			return errors.Wrap(err, "deactivate missing")
		}
		out.summary.ToDeactivate = int(count)
	}
	return nil
}

func (s *RosterImportService) recordApply(ctx context.Context, hash string, opts importer.Options, summary importer.Summary) (uuid.UUID, error) {
	actorID, err := composables.UseActorID(ctx)
	if err != nil {
		return uuid.Nil, err
	}
	optionsJSON, err := json.Marshal(opts)
	if err != nil {
		return uuid.Nil, err
	}
	countsJSON, err := json.Marshal(summary)
	if err != nil {
		return uuid.Nil, err
	}
	record := &auditrecord.AuditRecord{
		ActorID:     actorID,
		Action:      "roster.import.apply",
		Entity:      "roster",
		ContentHash: hash,
		Options:     optionsJSON,
		Counts:      countsJSON,
	}
	if err := s.audit.Record(ctx, record); err != nil {
		return uuid.Nil, err
	}
	return record.ID, nil
}

// toMember converts a planned row to its storage form. A blank status
// cell must not flip an inactive member back to active when the status
// column participates in the upsert, so the stored status is carried
// over.
func toMember(row importer.NormalizedRow, existing map[string]member.Member) member.Member {
	m := member.Member{
		ExternalID: row.ExternalID,
		Name:       row.Name,
		Role:       row.Role,
	}
	if row.OrgUnit.Present {
		m.OrgUnit = row.OrgUnit.Desired()
	}
	switch {
	case row.Status != nil:
		m.Status = *row.Status
	case existing[row.ExternalID].Status != "":
		m.Status = existing[row.ExternalID].Status
	default:
		m.Status = member.StatusActive
	}
	return m
}

func nonBlockingOnly(errs []importer.RowError) []importer.RowError {
	var out []importer.RowError
	for _, e := range errs {
		if !e.Blocking() {
			out = append(out, e)
		}
	}
	return out
}

func contentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
