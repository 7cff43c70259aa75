package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"facture-fec/internal/db"
	"facture-fec/internal/ocr"
)

const sampleFEC = "JournalCode;JournalLib;EcritureNum;EcritureDate;CompteNum;CompteLib;CompAuxNum;CompAuxLib;PieceRef;PieceDate;EcritureLib;Debit;Credit;EcritureLet;DateLet;ValidDate;Montantdevise;Idevise\n" +
	"AC;Journal d'achat;1;20240115;607000;Achats de marchandises;;;FA-2024-001;20240115;Facture Dupont SARL;1000,00;0,00;;;;;\n" +
	"AC;Journal d'achat;1;20240115;445660;TVA déductible;;;FA-2024-001;20240115;Facture Dupont SARL;200,00;0,00;;;;;\n" +
	"AC;Journal d'achat;1;20240115;401000;Fournisseurs;401DUP;Dupont SARL;FA-2024-001;20240115;Facture Dupont SARL;0,00;1200,00;;;;;"

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	conn, err := db.Open(filepath.Join(t.TempDir(), "fec.db"))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// fakeLLM serves chat completions, files, signed URLs and OCR like the
// provider. reply decides the completion text from the prompt.
type fakeLLM struct {
	*httptest.Server

	mu      sync.Mutex
	prompts []string
	reply   func(prompt string) (string, int)
}

func newFakeLLM(t *testing.T, reply func(prompt string) (string, int)) *fakeLLM {
	t.Helper()
	f := &fakeLLM{reply: reply}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Messages []struct {
				Content json.RawMessage `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Messages) == 0 {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		prompt := promptText(req.Messages[0].Content)

		f.mu.Lock()
		f.prompts = append(f.prompts, prompt)
		f.mu.Unlock()

		content, status := f.reply(prompt)
		if status != http.StatusOK {
			http.Error(w, `{"error":{"message":"failure"}}`, status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":     "chatcmpl-test",
			"object": "chat.completion",
			"model":  "mistral-large-latest",
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]string{"role": "assistant", "content": content},
				"finish_reason": "stop",
			}},
			"usage": map[string]int{"prompt_tokens": 10, "completion_tokens": 20, "total_tokens": 30},
		})
	})
	mux.HandleFunc("POST /v1/files", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"file-1"}`))
	})
	mux.HandleFunc("GET /v1/files/file-1/url", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"url":"https://signed.example/file-1"}`))
	})

	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Close)
	return f
}

func (f *fakeLLM) Prompts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.prompts...)
}

func (f *fakeLLM) Endpoint() string {
	return f.URL + "/v1"
}

// promptText flattens a string or a list of content parts.
func promptText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var parts []ocr.ContentPart
	_ = json.Unmarshal(raw, &parts)
	var b strings.Builder
	for _, p := range parts {
		b.WriteString(p.Text)
		if p.DocumentURL != "" {
			b.WriteString("[" + p.DocumentURL + "]")
		}
	}
	return b.String()
}

func newTestGenerator(f *fakeLLM, guard *LLMGuard) *FECGenerator {
	docs := ocr.NewDocumentClient(ocr.ClientOptions{APIKey: "test-key", BaseURL: f.Endpoint(), RetryBackoff: 1})
	return NewFECGenerator(GeneratorConfig{
		APIKey:   "test-key",
		Endpoint: f.Endpoint(),
		Model:    "mistral-large-latest",
	}, docs, guard, nil)
}

// stubExtractor returns fixed text.
type stubExtractor struct {
	result ocr.Result
	err    error
	calls  int
}

func (s *stubExtractor) Extract(_ context.Context, _ []byte) (ocr.Result, error) {
	s.calls++
	return s.result, s.err
}
