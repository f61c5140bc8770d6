package httpadapter

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mwhitmore/docuvault/internal/core/domain"
	"github.com/mwhitmore/docuvault/internal/core/ports"
	"github.com/mwhitmore/docuvault/internal/core/usecase"
	"github.com/mwhitmore/docuvault/internal/observability/metrics"
)

const serviceName = "docuvault-api"

// defaultMaxUploadBytes bounds multipart uploads before they reach the blob
// store when RouterOptions does not say otherwise.
const defaultMaxUploadBytes = 64 << 20

type Router struct {
	uploadUC     *usecase.UploadDocumentUseCase
	processingUC *usecase.DocumentProcessingUseCase
	statusUC     ports.ScanStatusResolver
	store        ports.BlobStore
	repo         ports.DocumentRepository
	metrics      *metrics.HTTPServerMetrics
	opts         RouterOptions
}

// RouterOptions tunes the traffic-control middlewares. Zero values disable
// the corresponding gate.
type RouterOptions struct {
	RateLimitRPS   float64
	RateLimitBurst int
	MaxInFlight    int
	InFlightWait   time.Duration
	MaxUploadBytes int64
}

func NewRouter(
	uploadUC *usecase.UploadDocumentUseCase,
	processingUC *usecase.DocumentProcessingUseCase,
	statusUC ports.ScanStatusResolver,
	store ports.BlobStore,
	repo ports.DocumentRepository,
	m *metrics.HTTPServerMetrics,
	opts RouterOptions,
) *Router {
	return &Router{
		uploadUC:     uploadUC,
		processingUC: processingUC,
		statusUC:     statusUC,
		store:        store,
		repo:         repo,
		metrics:      m,
		opts:         opts,
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.healthz)
	mux.HandleFunc("POST /v1/documents", rt.uploadDocument)
	mux.HandleFunc("GET /v1/documents/{id}", rt.getDocument)
	mux.HandleFunc("GET /v1/documents/{id}/status", rt.getScanStatus)
	mux.HandleFunc("GET /v1/documents/{id}/file", rt.downloadFile)
	mux.HandleFunc("POST /v1/documents/{id}/process", rt.requestProcessing)
	mux.HandleFunc("GET /v1/documents/{id}/processing-results", rt.getProcessingResults)
	if rt.metrics != nil {
		mux.Handle("GET /metrics", rt.metrics.Handler())
	}

	var handler http.Handler = mux
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(serviceName, handler)
	}
	handler = backpressureMiddleware(handler, rt.opts.MaxInFlight, rt.opts.InFlightWait)
	handler = rateLimitMiddleware(handler, rt.opts.RateLimitRPS, rt.opts.RateLimitBurst)
	handler = accessLogMiddleware(handler)
	return requestIDMiddleware(handler)
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) uploadDocument(w http.ResponseWriter, r *http.Request) {
	limit := rt.opts.MaxUploadBytes
	if limit <= 0 {
		limit = defaultMaxUploadBytes
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)

	file, fileHeader, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("multipart field 'file' is required"))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("read upload: "+err.Error()))
		return
	}

	uploadedBy := strings.TrimSpace(r.FormValue("uploadedBy"))
	if uploadedBy == "" {
		uploadedBy = strings.TrimSpace(r.Header.Get("X-User-Id"))
	}

	doc, err := rt.uploadUC.Upload(
		r.Context(),
		fileHeader.Filename,
		fileHeader.Header.Get("Content-Type"),
		data,
		uploadedBy,
	)
	if err != nil {
		if rt.metrics != nil {
			rt.metrics.RecordUpload(serviceName, "rejected", len(data))
		}
		writeError(w, err)
		return
	}

	if rt.metrics != nil {
		rt.metrics.RecordUpload(serviceName, "accepted", len(data))
	}
	writeJSON(w, http.StatusCreated, doc)
}

func (rt *Router) getDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := rt.repo.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (rt *Router) getScanStatus(w http.ResponseWriter, r *http.Request) {
	status, err := rt.statusUC.Status(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if rt.metrics != nil {
		rt.metrics.RecordScanStatusQuery(serviceName, string(status))
	}
	writeJSON(w, http.StatusOK, domain.NewScanReport(status))
}

func (rt *Router) downloadFile(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	md, err := rt.statusUC.Metadata(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	content, err := rt.store.Get(r.Context(), domain.AreaScanned, id)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", content.ContentType)
	if md.OriginalFilename != "" {
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", md.OriginalFilename))
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(content.Data)
}

func (rt *Router) requestProcessing(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	reprocess := r.URL.Query().Get("reprocess") == "true"

	var body struct {
		ProcessorIDs []string `json:"processorIds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid json"))
		return
	}

	requests := make([]domain.ProcessingRequest, 0, len(body.ProcessorIDs))
	for _, pid := range body.ProcessorIDs {
		requests = append(requests, domain.ProcessingRequest{ProcessorID: pid})
	}

	if err := rt.processingUC.Enqueue(r.Context(), id, requests, reprocess); err != nil {
		writeError(w, err)
		return
	}

	if rt.metrics != nil {
		for _, pid := range body.ProcessorIDs {
			rt.metrics.RecordEnqueue(serviceName, pid)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"documentId":   id,
		"processorIds": body.ProcessorIDs,
	})
}

func (rt *Router) getProcessingResults(w http.ResponseWriter, r *http.Request) {
	results, err := rt.processingUC.ResultsForDocument(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func errorBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}
