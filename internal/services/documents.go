package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"facture-fec/internal/apperr"
	"facture-fec/internal/models"
	"facture-fec/internal/ocr"
)

// DocumentService stores uploaded invoices on disk and in the invoices table.
type DocumentService struct {
	db        *sql.DB
	uploadDir string
}

func NewDocumentService(db *sql.DB, uploadDir string) *DocumentService {
	return &DocumentService{db: db, uploadDir: uploadDir}
}

// Create validates data as a PDF, writes it under a fresh uuid name keeping
// the original extension, and records it.
func (s *DocumentService) Create(ctx context.Context, original string, data []byte) (*models.Invoice, error) {
	if len(data) == 0 {
		return nil, apperr.ErrNoFile
	}
	pages, err := ocr.PageCount(data)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(s.uploadDir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure upload dir: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(original))
	if ext == "" {
		ext = ".pdf"
	}
	storedPath := filepath.Join(s.uploadDir, uuid.NewString()+ext)
	if err := os.WriteFile(storedPath, data, 0o644); err != nil {
		return nil, fmt.Errorf("write file: %w", err)
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO invoices (original_name, stored_path, page_count, size_bytes, uploaded_at)
		VALUES (?, ?, ?, ?, ?);
	`, original, storedPath, pages, len(data), now)
	if err != nil {
		os.Remove(storedPath)
		return nil, fmt.Errorf("insert invoice: %w", err)
	}
	id, _ := res.LastInsertId()

	return &models.Invoice{
		ID:           id,
		OriginalName: original,
		StoredPath:   storedPath,
		PageCount:    pages,
		SizeBytes:    int64(len(data)),
		UploadedAt:   now,
	}, nil
}

func (s *DocumentService) GetByID(ctx context.Context, id int64) (*models.Invoice, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, original_name, stored_path, page_count, size_bytes, uploaded_at
		FROM invoices WHERE id = ?;
	`, id)
	var inv models.Invoice
	if err := row.Scan(
		&inv.ID,
		&inv.OriginalName,
		&inv.StoredPath,
		&inv.PageCount,
		&inv.SizeBytes,
		&inv.UploadedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.New(apperr.CodeNotFound, fmt.Sprintf("invoice %d not found", id))
		}
		return nil, fmt.Errorf("scan invoice: %w", err)
	}
	return &inv, nil
}

// Read returns the stored bytes of an invoice.
func (s *DocumentService) Read(inv *models.Invoice) ([]byte, error) {
	data, err := os.ReadFile(inv.StoredPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, apperr.Wrap(err, apperr.CodeNotFound, fmt.Sprintf("invoice %d file is missing", inv.ID))
	}
	if err != nil {
		return nil, fmt.Errorf("read invoice %d: %w", inv.ID, err)
	}
	return data, nil
}
