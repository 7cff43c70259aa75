package services

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"facture-fec/internal/apperr"
	"facture-fec/internal/testpdf"
)

func TestDocumentServiceCreate(t *testing.T) {
	dir := t.TempDir()
	svc := NewDocumentService(newTestDB(t), dir)
	ctx := context.Background()

	data := testpdf.Build("Facture", "Page 2")
	inv, err := svc.Create(ctx, "Facture Mars.PDF", data)
	require.NoError(t, err)

	assert.Equal(t, "Facture Mars.PDF", inv.OriginalName)
	assert.Equal(t, 2, inv.PageCount)
	assert.Equal(t, int64(len(data)), inv.SizeBytes)
	assert.Equal(t, dir, filepath.Dir(inv.StoredPath))
	assert.True(t, strings.HasSuffix(inv.StoredPath, ".pdf"))
	assert.NotContains(t, inv.StoredPath, "Mars")

	stored, err := os.ReadFile(inv.StoredPath)
	require.NoError(t, err)
	assert.Equal(t, data, stored)

	got, err := svc.GetByID(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, inv.StoredPath, got.StoredPath)
	assert.Equal(t, 2, got.PageCount)

	read, err := svc.Read(got)
	require.NoError(t, err)
	assert.Equal(t, data, read)
}

func TestDocumentServiceRejects(t *testing.T) {
	dir := t.TempDir()
	svc := NewDocumentService(newTestDB(t), dir)
	ctx := context.Background()

	_, err := svc.Create(ctx, "vide.pdf", nil)
	assert.ErrorIs(t, err, apperr.ErrNoFile)

	_, err = svc.Create(ctx, "faux.pdf", []byte("hello world"))
	assert.ErrorIs(t, err, apperr.ErrInvalidPDF)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)

	_, err = svc.GetByID(ctx, 404)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestDocumentServiceReadMissingFile(t *testing.T) {
	svc := NewDocumentService(newTestDB(t), t.TempDir())
	ctx := context.Background()

	inv, err := svc.Create(ctx, "facture.pdf", testpdf.Build("x"))
	require.NoError(t, err)
	require.NoError(t, os.Remove(inv.StoredPath))

	_, err = svc.Read(inv)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.ErrorIs(t, err, os.ErrNotExist)
}
