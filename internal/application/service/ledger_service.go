package service

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/aerotrace/material-lifecycle/internal/application/port"
	"github.com/aerotrace/material-lifecycle/internal/domain/entity"
)

const (
	defaultLedgerLimit = 100
	maxLedgerLimit     = 1000

	// exportPageSize bounds each ledger read during an export
	exportPageSize = 500

	ledgerSheet = "Ledger"
)

var ledgerHeader = []interface{}{
	"ID", "Entity Type", "Entity ID", "Revision", "Action", "From", "To", "Actor", "Comment", "Metadata", "Recorded At (UTC)",
}

// AuditService reads and exports the transition ledger
type AuditService interface {
	QueryLedger(ctx context.Context, filter entity.LedgerFilter) ([]*entity.LedgerEntry, error)
	EntityHistory(ctx context.Context, ref entity.Ref) ([]*entity.LedgerEntry, error)

	// ExportLedger writes every entry matching the filter to w as an XLSX workbook
	// and returns the number of rows written
	ExportLedger(ctx context.Context, filter entity.LedgerFilter, w io.Writer) (int, error)
}

type auditServiceImpl struct {
	ledger port.LedgerRepository
	logger Logger
}

// NewAuditService creates a new AuditService
func NewAuditService(ledger port.LedgerRepository, logger Logger) AuditService {
	return &auditServiceImpl{
		ledger: ledger,
		logger: logger,
	}
}

// QueryLedger returns one page of entries in ledger order
func (s *auditServiceImpl) QueryLedger(ctx context.Context, filter entity.LedgerFilter) ([]*entity.LedgerEntry, error) {
	if err := validateLedgerFilter(filter); err != nil {
		return nil, err
	}
	switch {
	case filter.Limit <= 0:
		filter.Limit = defaultLedgerLimit
	case filter.Limit > maxLedgerLimit:
		filter.Limit = maxLedgerLimit
	}

	entries, err := s.ledger.Query(ctx, filter)
	if err != nil {
		s.logger.Error("Failed to query ledger", "error", err)
		return nil, fmt.Errorf("query ledger: %w", err)
	}
	return entries, nil
}

// EntityHistory returns the full history of one entity, oldest first
func (s *auditServiceImpl) EntityHistory(ctx context.Context, ref entity.Ref) ([]*entity.LedgerEntry, error) {
	if ref.Type == "" || ref.ID <= 0 {
		return nil, entity.NewValidationError("entity", "entity type and id are required")
	}
	return s.ledger.ListByEntity(ctx, ref)
}

func (s *auditServiceImpl) ExportLedger(ctx context.Context, filter entity.LedgerFilter, w io.Writer) (int, error) {
	if err := validateLedgerFilter(filter); err != nil {
		return 0, err
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", ledgerSheet); err != nil {
		return 0, fmt.Errorf("name sheet: %w", err)
	}
	sw, err := f.NewStreamWriter(ledgerSheet)
	if err != nil {
		return 0, fmt.Errorf("open stream writer: %w", err)
	}
	if err := sw.SetRow("A1", ledgerHeader); err != nil {
		return 0, fmt.Errorf("write header: %w", err)
	}

	rows := 0
	filter.Limit = exportPageSize
	filter.Offset = 0
	for {
		page, err := s.ledger.Query(ctx, filter)
		if err != nil {
			s.logger.Error("Failed to read ledger for export", "error", err, "offset", filter.Offset)
			return 0, fmt.Errorf("query ledger: %w", err)
		}

		for _, e := range page {
			rows++
			cell, err := excelize.CoordinatesToCellName(1, rows+1)
			if err != nil {
				return 0, err
			}
			if err := sw.SetRow(cell, ledgerRow(e)); err != nil {
				return 0, fmt.Errorf("write row %d: %w", rows, err)
			}
		}

		if len(page) < exportPageSize {
			break
		}
		filter.Offset += exportPageSize
	}

	if err := sw.Flush(); err != nil {
		return 0, fmt.Errorf("flush sheet: %w", err)
	}
	if _, err := f.WriteTo(w); err != nil {
		return 0, fmt.Errorf("write workbook: %w", err)
	}

	s.logger.Info("Ledger exported", "rows", rows, "entity_type", filter.EntityType)
	return rows, nil
}

func ledgerRow(e *entity.LedgerEntry) []interface{} {
	return []interface{}{
		e.ID,
		string(e.EntityType),
		e.EntityID,
		e.Revision,
		string(e.Action),
		string(e.FromState),
		string(e.ToState),
		e.Actor,
		e.Comment,
		e.Metadata,
		e.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func validateLedgerFilter(filter entity.LedgerFilter) error {
	if filter.Since != nil && filter.Until != nil && filter.Until.Before(*filter.Since) {
		return entity.NewValidationError("until", "must not be before since")
	}
	if filter.Offset < 0 {
		return entity.NewValidationError("offset", "must not be negative")
	}
	return nil
}
