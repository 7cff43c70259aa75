package models

import (
	"database/sql"
	"time"
)

// Invoice is an uploaded PDF kept on disk under the upload directory.
type Invoice struct {
	ID           int64
	OriginalName string
	StoredPath   string
	PageCount    int
	SizeBytes    int64
	UploadedAt   time.Time
}

type ConversionStatus string

const (
	ConversionSucceeded ConversionStatus = "succeeded"
	ConversionFailed    ConversionStatus = "failed"
)

// Conversion records one run of the converter over an invoice, successful or not.
type Conversion struct {
	ID            int64
	InvoiceID     int64
	InvoiceName   string
	Mode          string
	Model         string
	Status        ConversionStatus
	ExtractedText string
	InvoiceJSON   sql.NullString
	FECRaw        string
	EntryCount    int
	Balanced      bool
	Error         sql.NullString
	DurationMS    int64
	CreatedAt     time.Time
}

// ConversionSummary is the lightweight row used for history listings.
type ConversionSummary struct {
	ID          int64
	InvoiceID   int64
	InvoiceName string
	Mode        string
	Status      ConversionStatus
	EntryCount  int
	Balanced    bool
	Error       sql.NullString
	CreatedAt   time.Time
}
