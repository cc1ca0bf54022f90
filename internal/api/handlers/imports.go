package handlers

import (
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/ETAnderson/catalogsync/internal/domain"
	"github.com/ETAnderson/catalogsync/internal/ingest"
)

const defaultMaxImportBytes = 32 << 20

type Importer interface {
	ImportParsed(ctx context.Context, in ingest.ParseResult) (ingest.ImportOutput, error)
}

type SessionReader interface {
	GetImportSession(ctx context.Context, sessionID string) (domain.ImportSession, bool, error)
	ListImportSessions(ctx context.Context, limit int) ([]domain.ImportSession, error)
	ListMatchLog(ctx context.Context, sessionID string, limit int) ([]domain.MatchLogEntry, error)
}

// ImportHandler accepts either a JSON envelope
// {"supplier_id": N, "records": [...]} or NDJSON (one record per line) with
// ?supplier_id=N. Bodies may be gzip encoded.
type ImportHandler struct {
	Importer Importer
	MaxBytes int64
	Logger   *zap.Logger
}

func (h ImportHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.Importer == nil {
		writeError(w, http.StatusInternalServerError, "misconfigured", "handler dependencies not configured")
		return
	}

	maxBytes := h.MaxBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxImportBytes
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)

	reader, err := ingest.DecodeBody(r.Body, r.Header.Get("Content-Encoding"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_encoding", err.Error())
		return
	}
	defer reader.Close()

	var querySupplier int64
	if v := strings.TrimSpace(r.URL.Query().Get("supplier_id")); v != "" {
		querySupplier, err = strconv.ParseInt(v, 10, 64)
		if err != nil || querySupplier <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_supplier", "supplier_id must be a positive integer")
			return
		}
	}

	var parsed ingest.ParseResult
	if isNDJSON(r.Header.Get("Content-Type")) {
		parsed, err = ingest.ParseRecordLines(reader, querySupplier)
	} else {
		var body []byte
		body, err = io.ReadAll(reader)
		if err == nil {
			parsed, err = ingest.ParseImport(body)
		}
		if err == nil && parsed.SupplierID == 0 {
			parsed.SupplierID = querySupplier
		}
	}
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "body_too_large", err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}

	if parsed.SupplierID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_supplier", "supplier_id is required")
		return
	}

	out, err := h.Importer.ImportParsed(r.Context(), parsed)
	if err != nil {
		if h.Logger != nil {
			h.Logger.Error("import failed", zap.Int64("supplier_id", parsed.SupplierID), zap.Error(err))
		}
		writeError(w, http.StatusInternalServerError, "import_failed", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, out)
}

func isNDJSON(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	switch mt {
	case "application/x-ndjson", "application/ndjson", "application/jsonl":
		return true
	default:
		return false
	}
}

type ImportListHandler struct {
	Store SessionReader
}

func (h ImportListHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, defaultListLimit, maxListLimit)

	sessions, err := h.Store.ListImportSessions(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list_imports_failed", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"items": sessions,
	})
}

// ImportDetailHandler returns one session with its match log.
type ImportDetailHandler struct {
	Store SessionReader
}

func (h ImportDetailHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.PathValue("session"))
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "invalid_session_id", "session id missing or invalid")
		return
	}

	sess, ok, err := h.Store.GetImportSession(r.Context(), sessionID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "get_import_failed", err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "import session not found")
		return
	}

	limit := parseLimit(r, 500, 2000)
	entries, err := h.Store.ListMatchLog(r.Context(), sessionID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list_match_log_failed", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"session":   sess,
		"match_log": entries,
	})
}
