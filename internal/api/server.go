package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"facture-fec/internal/apperr"
	"facture-fec/internal/config"
	"facture-fec/internal/fec"
	"facture-fec/internal/metrics"
	"facture-fec/internal/models"
	"facture-fec/internal/services"
)

const maxMultipartMemory = 8 << 20 // 8 MB

// Options configures a Server.
type Options struct {
	MaxUploadBytes int64
	// Documents serves the stored invoice PDFs; the route is disabled when nil.
	Documents *services.DocumentService
	Metrics   *metrics.Metrics
	Guard          *services.LLMGuard
	Logger         *zap.Logger
}

type Server struct {
	mux         *http.ServeMux
	converter   *services.Converter
	conversions *services.ConversionService
	documents   *services.DocumentService
	jobs        *JobManager
	guard       *services.LLMGuard
	metrics     *metrics.Metrics
	maxUpload   int64
	logger      *zap.Logger
}

func NewServer(converter *services.Converter, conversions *services.ConversionService, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	maxUpload := opts.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = 20 << 20
	}
	s := &Server{
		mux:         http.NewServeMux(),
		converter:   converter,
		conversions: conversions,
		documents:   opts.Documents,
		jobs:        NewJobManager(),
		guard:       opts.Guard,
		metrics:     opts.Metrics,
		maxUpload:   maxUpload,
		logger:      logger,
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.logRequests(s.mux)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/health", s.handleHealth)
	s.mux.HandleFunc("/api/fec/fields", s.handleFields)
	s.mux.HandleFunc("/api/conversions", s.handleConversions)
	s.mux.HandleFunc("/api/conversions/jobs", s.handleJobs)
	s.mux.HandleFunc("/api/conversions/", s.handleConversionActions)
	if s.metrics != nil {
		s.mux.Handle("/metrics", s.metrics.Handler())
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"mode":          s.converter.DefaultMode(),
		"llm_available": s.converter.Available(),
		"breaker":       s.guard.State(),
	})
}

func (s *Server) handleFields(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"fields":     fec.Fields,
		"remarks":    fec.Remarks,
		"conclusion": fec.Conclusion,
	})
}

func (s *Server) handleConversions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleListConversions(w, r)
	case http.MethodPost:
		s.handleConvert(w, r)
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPost)
	}
}

func (s *Server) handleListConversions(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	list, err := s.conversions.List(r.Context(), limit)
	if err != nil {
		s.writeAppError(w, "", err)
		return
	}

	out := make([]map[string]any, 0, len(list))
	for _, c := range list {
		out = append(out, map[string]any{
			"id":           c.ID,
			"invoice_id":   c.InvoiceID,
			"invoice_name": c.InvoiceName,
			"mode":         c.Mode,
			"status":       c.Status,
			"entry_count":  c.EntryCount,
			"balanced":     c.Balanced,
			"error":        nullString(c.Error),
			"created_at":   c.CreatedAt.Format(timeLayout),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversions": out})
}

func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	upload, err := s.readUpload(w, r)
	if err != nil {
		s.writeAppError(w, upload.name, err)
		return
	}

	res, err := s.converter.Convert(r.Context(), services.ConvertRequest{
		FileName: upload.name,
		Data:     upload.data,
		Mode:     upload.mode,
	})
	if err != nil {
		s.writeAppError(w, upload.name, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message":    "✅ Conversion terminée avec succès !",
		"conversion": res,
	})
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/api/conversions/jobs" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	upload, err := s.readUpload(w, r)
	if err != nil {
		s.writeAppError(w, upload.name, err)
		return
	}

	mode := upload.mode
	if mode == "" {
		mode = s.converter.DefaultMode()
	}
	jobID, snapshot := s.jobs.CreateJob(upload.name, mode)

	go s.runJob(context.Background(), jobID, upload)

	writeJSON(w, http.StatusAccepted, snapshot)
}

func (s *Server) runJob(ctx context.Context, jobID string, upload uploadedFile) {
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("conversion job panicked", zap.String("job", jobID), zap.Any("panic", rec))
			s.jobs.MarkFailed(jobID, fmt.Sprintf("Erreur avec %s: internal error", upload.name), "UNKNOWN")
		}
	}()

	s.jobs.MarkProcessing(jobID)
	progress := func(step, message string, current, total int) {
		s.jobs.UpdateProgress(jobID, step, message, current, total)
	}
	res, err := s.converter.ConvertWithProgress(ctx, services.ConvertRequest{
		FileName: upload.name,
		Data:     upload.data,
		Mode:     upload.mode,
	}, progress)
	if err != nil {
		s.jobs.MarkFailed(jobID, userMessage(upload.name, err), apperr.GetCode(err))
		return
	}
	s.jobs.MarkComplete(jobID, res)
}

func (s *Server) handleConversionActions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/conversions/")
	path = strings.Trim(path, "/")
	parts := strings.Split(path, "/")

	if parts[0] == "jobs" {
		if len(parts) != 2 || parts[1] == "" {
			http.NotFound(w, r)
			return
		}
		job, ok := s.jobs.GetJob(parts[1])
		if !ok {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		writeJSON(w, http.StatusOK, job)
		return
	}

	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid conversion id")
		return
	}

	switch {
	case len(parts) == 1:
		s.handleGetConversion(w, r, id)
	case len(parts) == 2 && parts[1] == "export":
		s.handleExport(w, r, id)
	case len(parts) == 2 && parts[1] == "invoice" && s.documents != nil:
		s.handleInvoice(w, r, id)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleGetConversion(w http.ResponseWriter, r *http.Request, id int64) {
	conv, err := s.conversions.Get(r.Context(), id)
	if err != nil {
		s.writeAppError(w, "", err)
		return
	}

	out := map[string]any{
		"id":             conv.ID,
		"invoice_id":     conv.InvoiceID,
		"invoice_name":   conv.InvoiceName,
		"mode":           conv.Mode,
		"model":          conv.Model,
		"status":         conv.Status,
		"text":           conv.FECRaw,
		"extracted_text": conv.ExtractedText,
		"invoice_json":   nullString(conv.InvoiceJSON),
		"entry_count":    conv.EntryCount,
		"balanced":       conv.Balanced,
		"error":          nullString(conv.Error),
		"duration_ms":    conv.DurationMS,
		"created_at":     conv.CreatedAt.Format(timeLayout),
	}
	if conv.Status == models.ConversionSucceeded {
		if doc, err := fec.Parse(conv.FECRaw); err == nil {
			out["fec"] = doc
			out["issues"] = fec.Validate(doc)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request, id int64) {
	format := strings.ToLower(r.URL.Query().Get("format"))
	if format == "" {
		format = "fec"
	}

	conv, err := s.conversions.Get(r.Context(), id)
	if err != nil {
		s.writeAppError(w, "", err)
		return
	}
	if conv.Status != models.ConversionSucceeded {
		s.writeAppError(w, "", apperr.New(apperr.CodeBadRequest, "conversion failed, nothing to export"))
		return
	}
	doc, err := fec.Parse(conv.FECRaw)
	if err != nil {
		s.writeAppError(w, "", apperr.New(apperr.CodeBadRequest, "model output is not a FEC table", err))
		return
	}

	base := strings.TrimSuffix(conv.InvoiceName, filepath.Ext(conv.InvoiceName))
	if base == "" {
		base = "facture"
	}

	var buf bytes.Buffer
	var contentType, name string
	switch format {
	case "fec":
		err = fec.WriteFEC(&buf, doc)
		contentType, name = "text/plain; charset=utf-8", base+"-FEC.txt"
	case "csv":
		err = fec.WriteCSV(&buf, doc, ';')
		contentType, name = "text/csv; charset=utf-8", base+"-FEC.csv"
	case "xlsx":
		err = fec.WriteXLSX(&buf, doc)
		contentType, name = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", base+"-FEC.xlsx"
	default:
		writeError(w, http.StatusBadRequest, "format must be 'fec', 'csv' or 'xlsx'")
		return
	}
	if err != nil {
		s.writeAppError(w, "", fmt.Errorf("export %s: %w", format, err))
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, &buf)
}

// handleInvoice sends back the PDF a conversion was made from.
func (s *Server) handleInvoice(w http.ResponseWriter, r *http.Request, id int64) {
	conv, err := s.conversions.Get(r.Context(), id)
	if err != nil {
		s.writeAppError(w, "", err)
		return
	}
	inv, err := s.documents.GetByID(r.Context(), conv.InvoiceID)
	if err != nil {
		s.writeAppError(w, "", err)
		return
	}
	data, err := s.documents.Read(inv)
	if err != nil {
		s.writeAppError(w, inv.OriginalName, err)
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", inv.OriginalName))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

type uploadedFile struct {
	name string
	mode string
	data []byte
}

// readUpload reads the single "file" part of a multipart request, enforcing
// the size cap and that the file is a PDF.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) (uploadedFile, error) {
	var up uploadedFile

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload+1<<20)
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return up, errTooLarge
		}
		if errors.Is(err, http.ErrNotMultipart) || errors.Is(err, http.ErrMissingBoundary) {
			return up, apperr.ErrNoFile
		}
		return up, apperr.New(apperr.CodeBadRequest, "invalid multipart form", err)
	}
	form := r.MultipartForm
	defer form.RemoveAll()

	files := form.File["file"]
	if len(files) == 0 {
		return up, apperr.ErrNoFile
	}
	if len(files) > 1 {
		return up, apperr.New(apperr.CodeBadRequest, "only one file can be converted at a time")
	}
	header := files[0]
	up.name = filepath.Base(header.Filename)
	if header.Size > s.maxUpload {
		return up, errTooLarge
	}

	up.mode = strings.ToLower(strings.TrimSpace(r.FormValue("mode")))
	if up.mode != "" && !config.ValidMode(up.mode) {
		return up, apperr.New(apperr.CodeBadRequest, fmt.Sprintf("unknown conversion mode %q", up.mode))
	}

	src, err := header.Open()
	if err != nil {
		return up, fmt.Errorf("open upload: %w", err)
	}
	defer src.Close()
	up.data, err = io.ReadAll(src)
	if err != nil {
		return up, fmt.Errorf("read upload: %w", err)
	}
	if len(up.data) == 0 {
		return up, apperr.ErrNoFile
	}

	isPDFName := strings.EqualFold(filepath.Ext(up.name), ".pdf")
	if !isPDFName && !bytes.HasPrefix(up.data, []byte("%PDF")) {
		return up, apperr.New(apperr.CodeInvalidPDF, "only PDF invoices are accepted")
	}
	return up, nil
}

var errTooLarge = errors.New("upload exceeds the size limit")

// userMessage is the text shown under the upload button on failure.
func userMessage(name string, err error) string {
	if name == "" {
		return err.Error()
	}
	return fmt.Sprintf("Erreur avec %s: %v", name, err)
}

func (s *Server) writeAppError(w http.ResponseWriter, name string, err error) {
	status, code := apperr.HTTPStatus(err), apperr.GetCode(err)
	if errors.Is(err, errTooLarge) {
		status, code = http.StatusRequestEntityTooLarge, "TOO_LARGE"
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.String("file", name), zap.Error(err))
	}
	writeJSON(w, status, map[string]string{
		"error": userMessage(name, err),
		"code":  code,
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		if r.URL.Path == "/metrics" || strings.HasPrefix(r.URL.Path, "/api/conversions/jobs/") {
			return
		}
		s.logger.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

const timeLayout = time.RFC3339

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	if len(allowed) > 0 {
		w.Header().Set("Allow", strings.Join(allowed, ", "))
	}
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func nullString(v sql.NullString) *string {
	if v.Valid {
		str := v.String
		return &str
	}
	return nil
}
