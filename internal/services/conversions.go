package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"facture-fec/internal/apperr"
	"facture-fec/internal/models"
)

// ConversionService keeps the history of converter runs.
type ConversionService struct {
	db *sql.DB
}

func NewConversionService(db *sql.DB) *ConversionService {
	return &ConversionService{db: db}
}

// Create inserts c and fills its ID and CreatedAt.
func (s *ConversionService) Create(ctx context.Context, c *models.Conversion) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO conversions (
			invoice_id, mode, model, status, extracted_text, invoice_json,
			fec_raw, entry_count, balanced, error, duration_ms, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
	`,
		c.InvoiceID, c.Mode, c.Model, c.Status, c.ExtractedText, c.InvoiceJSON,
		c.FECRaw, c.EntryCount, c.Balanced, c.Error, c.DurationMS, c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert conversion: %w", err)
	}
	c.ID, _ = res.LastInsertId()
	return nil
}

func (s *ConversionService) Get(ctx context.Context, id int64) (*models.Conversion, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT c.id, c.invoice_id, i.original_name, c.mode, c.model, c.status,
			c.extracted_text, c.invoice_json, c.fec_raw, c.entry_count, c.balanced,
			c.error, c.duration_ms, c.created_at
		FROM conversions c
		JOIN invoices i ON i.id = c.invoice_id
		WHERE c.id = ?;
	`, id)

	var c models.Conversion
	if err := row.Scan(
		&c.ID,
		&c.InvoiceID,
		&c.InvoiceName,
		&c.Mode,
		&c.Model,
		&c.Status,
		&c.ExtractedText,
		&c.InvoiceJSON,
		&c.FECRaw,
		&c.EntryCount,
		&c.Balanced,
		&c.Error,
		&c.DurationMS,
		&c.CreatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.New(apperr.CodeNotFound, fmt.Sprintf("conversion %d not found", id))
		}
		return nil, fmt.Errorf("scan conversion: %w", err)
	}
	return &c, nil
}

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// List returns the most recent conversions first.
func (s *ConversionService) List(ctx context.Context, limit int) ([]models.ConversionSummary, error) {
	switch {
	case limit <= 0:
		limit = defaultListLimit
	case limit > maxListLimit:
		limit = maxListLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.invoice_id, i.original_name, c.mode, c.status,
			c.entry_count, c.balanced, c.error, c.created_at
		FROM conversions c
		JOIN invoices i ON i.id = c.invoice_id
		ORDER BY c.created_at DESC, c.id DESC
		LIMIT ?;
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query conversions: %w", err)
	}
	defer rows.Close()

	var out []models.ConversionSummary
	for rows.Next() {
		var c models.ConversionSummary
		if err := rows.Scan(
			&c.ID,
			&c.InvoiceID,
			&c.InvoiceName,
			&c.Mode,
			&c.Status,
			&c.EntryCount,
			&c.Balanced,
			&c.Error,
			&c.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan conversion: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
