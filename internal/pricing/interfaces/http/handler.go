package http

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"market-optimizer/internal/audit"
	"market-optimizer/internal/observability/metrics"
	"market-optimizer/internal/pricing/application"
	pricing "market-optimizer/internal/pricing/domain"
	"market-optimizer/internal/pricing/infrastructure/csvcodec"
	"market-optimizer/internal/pricing/interfaces"
)

const (
	defaultMaxUpload = 10 << 20
	queryDateLayout  = "2006-01-02"
	fileDateLayout   = "20060102"
	dottedDateLayout = "2.1.2006"
)

// Handler serves the market data, optimization and view endpoints.
type Handler struct {
	service   *application.MarketDataService
	logger    *log.Logger
	now       func() time.Time
	maxUpload int64
	audit     audit.Logger
}

// Option configures the handler.
type Option func(*Handler)

// WithLogger sets the logger.
func WithLogger(logger *log.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithClock overrides the clock used for default ranges.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

// WithMaxUpload limits CSV upload size in bytes.
func WithMaxUpload(limit int64) Option {
	return func(h *Handler) {
		if limit > 0 {
			h.maxUpload = limit
		}
	}
}

// WithAuditLogger records uploads, exports and prefetches.
func WithAuditLogger(logger audit.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.audit = logger
		}
	}
}

// NewHandler constructs a handler.
func NewHandler(service *application.MarketDataService, opts ...Option) (*Handler, error) {
	if service == nil {
		return nil, errors.New("pricing handler: nil service")
	}
	h := &Handler{service: service, logger: log.Default(), now: time.Now, maxUpload: defaultMaxUpload}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Register mounts all routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/market-data/", h.handleMarketData)
	mux.HandleFunc("/api/v1/optimization/optimize", h.handleOptimize)
	mux.HandleFunc("/api/v1/optimization/optimize-csv", h.handleOptimizeCSV)
	mux.HandleFunc("/api/v1/optimization/upload-csv", h.handleUploadCSV)
	mux.HandleFunc("/api/v1/optimization/export.xlsx", h.handleExport("xlsx"))
	mux.HandleFunc("/api/v1/optimization/export.pdf", h.handleExport("pdf"))
	mux.HandleFunc("/api/v1/views/market", h.handleMarketView)
	mux.HandleFunc("/api/v1/views/cycles", h.handleCycleView)
	mux.HandleFunc("/api/v1/admin/prefetch", h.handlePrefetch)
}

type marketDataResponse struct {
	Data       []pricing.PriceRecord `json:"data"`
	IsTestData bool                  `json:"is_test_data"`
	Message    string                `json:"message"`
	Error      string                `json:"error,omitempty"`
}

type optimizationResponse struct {
	Cycles     []pricing.ArbitrageCycle `json:"cycles"`
	IsTestData bool                     `json:"is_test_data"`
	Message    string                   `json:"message"`
}

// optimizeRequest is accepted as a JSON body or as query parameters.
type optimizeRequest struct {
	StartDate   string   `json:"start_date"`
	EndDate     string   `json:"end_date"`
	Threshold   *float64 `json:"threshold"`
	UseTestData *bool    `json:"use_test_data"`
}

// GET /api/v1/market-data/
func (h *Handler) handleMarketData(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	data, ok := h.fetchMarketData(w, r)
	if !ok {
		return
	}
	setSourceHeaders(w, data)
	h.writeJSON(w, marketDataResponse{
		Data:       nonNilRecords(data.Records),
		IsTestData: data.IsTestData,
		Message:    data.Message,
		Error:      data.Error,
	})
}

// GET /api/v1/views/market
func (h *Handler) handleMarketView(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	data, ok := h.fetchMarketData(w, r)
	if !ok {
		return
	}
	began := time.Now()
	view, err := application.BuildMarketView(data.Records)
	if err != nil {
		metrics.ObservePipeline("market", metrics.ResultEmpty, time.Since(began))
		http.Error(w, pricing.ErrNoMarketData.Error(), http.StatusNotFound)
		return
	}
	metrics.ObservePipeline("market", metrics.ResultSuccess, time.Since(began))
	view.IsTestData = data.IsTestData
	view.Message = data.Message
	setSourceHeaders(w, data)
	h.writeJSON(w, view)
}

// POST /api/v1/views/cycles
func (h *Handler) handleCycleView(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var body struct {
		Cycles     []pricing.ArbitrageCycle `json:"cycles"`
		IsTestData bool                     `json:"is_test_data"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	began := time.Now()
	view := application.BuildCycleView(body.Cycles)
	view.IsTestData = body.IsTestData
	result := metrics.ResultSuccess
	if view.Summary == nil {
		result = metrics.ResultEmpty
	}
	metrics.ObservePipeline("cycles", result, time.Since(began))
	h.writeJSON(w, view)
}

// POST /api/v1/optimization/optimize
func (h *Handler) handleOptimize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	res, _, ok := h.runOptimize(w, r)
	if !ok {
		return
	}
	w.Header().Set("X-Test-Data", strconv.FormatBool(res.IsTestData))
	h.writeJSON(w, optimizationResponse{
		Cycles:     nonNilCycles(res.Cycles),
		IsTestData: res.IsTestData,
		Message:    res.Message,
	})
}

// POST /api/v1/optimization/optimize-csv
func (h *Handler) handleOptimizeCSV(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	res, meta, ok := h.runOptimize(w, r)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := csvcodec.WriteCycles(&buf, res.Cycles); err != nil {
		http.Error(w, "csv error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("X-Test-Data", strconv.FormatBool(res.IsTestData))
	writeAttachment(w, "text/csv", exportName(meta, "csv"), buf.Bytes())
}

// POST /api/v1/optimization/upload-csv
func (h *Handler) handleUploadCSV(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	if err := r.ParseMultipartForm(h.maxUpload); err != nil {
		metrics.IncCSVUpload(metrics.ResultError)
		http.Error(w, "invalid multipart form", http.StatusBadRequest)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		metrics.IncCSVUpload(metrics.ResultError)
		http.Error(w, "file is required", http.StatusBadRequest)
		return
	}
	defer file.Close()
	if !strings.HasSuffix(strings.ToLower(header.Filename), ".csv") {
		metrics.IncCSVUpload(metrics.ResultError)
		http.Error(w, "file must be a .csv", http.StatusBadRequest)
		return
	}
	threshold := h.service.Settings().DefaultThreshold
	if raw := r.FormValue("threshold"); raw != "" {
		threshold, err = strconv.ParseFloat(raw, 64)
		if err != nil {
			metrics.IncCSVUpload(metrics.ResultError)
			http.Error(w, "threshold must be a number", http.StatusBadRequest)
			return
		}
	}

	hash := sha256.New()
	records, skipped, err := csvcodec.ParsePrices(io.TeeReader(file, hash))
	if err != nil {
		metrics.IncCSVUpload(metrics.ResultError)
		h.logger.Printf("upload csv: file=%s error=%v", header.Filename, err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	cycles := h.service.OptimizeRecords(records, threshold)
	metrics.IncCSVUpload(metrics.ResultSuccess)
	h.logger.Printf("upload csv: file=%s rows=%d skipped=%d cycles=%d", header.Filename, len(records), skipped, len(cycles))
	entry := audit.FromRequest(r, audit.ActionCSVUpload, header.Filename, map[string]any{
		"rows": len(records), "skipped": skipped, "cycles": len(cycles), "threshold": threshold,
	})
	entry.PayloadDigest = hex.EncodeToString(hash.Sum(nil))
	h.recordAudit(r, entry)
	h.writeJSON(w, optimizationResponse{
		Cycles:  nonNilCycles(cycles),
		Message: fmt.Sprintf("Processed %d rows from %s", len(records), header.Filename),
	})
}

// POST /api/v1/optimization/export.{xlsx,pdf}
func (h *Handler) handleExport(format string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost && r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		res, meta, ok := h.runOptimize(w, r)
		if !ok {
			return
		}
		view := application.BuildCycleView(res.Cycles)
		view.IsTestData = res.IsTestData
		meta.IsTestData = res.IsTestData
		meta.GeneratedAt = h.now().UTC()

		began := time.Now()
		var (
			payload     []byte
			err         error
			contentType string
		)
		switch format {
		case "xlsx":
			payload, err = interfaces.BuildCyclesXLSX(view, meta)
			contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
		default:
			payload, err = interfaces.BuildCyclesPDF(view, meta)
			contentType = "application/pdf"
		}
		if err != nil {
			metrics.ObserveExport(format, metrics.ResultError, time.Since(began))
			h.logger.Printf("export %s: %v", format, err)
			http.Error(w, "export error", http.StatusInternalServerError)
			return
		}
		metrics.ObserveExport(format, metrics.ResultSuccess, time.Since(began))
		name := exportName(meta, format)
		h.recordAudit(r, audit.FromRequest(r, audit.ActionExport, name, map[string]any{
			"cycles": len(res.Cycles), "is_test_data": res.IsTestData,
		}))
		writeAttachment(w, contentType, name, payload)
	}
}

// POST /api/v1/admin/prefetch
func (h *Handler) handlePrefetch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	start, err := optionalDate(r.URL.Query().Get("start_date"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	end, err := optionalDate(r.URL.Query().Get("end_date"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if start == nil {
		tomorrow := pricing.DateOf(h.now()).Time().AddDate(0, 0, 1)
		start = &tomorrow
	}
	if end == nil {
		end = start
	}
	stored, err := h.service.Prefetch(r.Context(), *start, *end)
	if err != nil {
		metrics.IncPrefetch(metrics.ResultError)
		h.logger.Printf("prefetch: %v", err)
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	metrics.IncPrefetch(metrics.ResultSuccess)
	h.recordAudit(r, audit.FromRequest(r, audit.ActionPrefetch, "market_prices", map[string]any{
		"start": start.Format(queryDateLayout), "end": end.Format(queryDateLayout), "stored": stored,
	}))
	h.writeJSON(w, map[string]any{"stored": stored})
}

func (h *Handler) recordAudit(r *http.Request, entry audit.Entry) {
	if h.audit == nil {
		return
	}
	if err := h.audit.Log(r.Context(), entry); err != nil {
		h.logger.Printf("audit %s: %v", entry.Action, err)
	}
}

func (h *Handler) fetchMarketData(w http.ResponseWriter, r *http.Request) (application.MarketData, bool) {
	q := r.URL.Query()
	start, err := optionalDate(q.Get("start_date"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return application.MarketData{}, false
	}
	end, err := optionalDate(q.Get("end_date"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return application.MarketData{}, false
	}
	useTest, err := optionalBool(q.Get("use_test_data"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return application.MarketData{}, false
	}
	from, to := h.service.MarketRange(h.now(), start, end)
	data, err := h.service.GetMarketData(r.Context(), from, to, useTest)
	if err != nil {
		respondServiceError(w, err)
		return application.MarketData{}, false
	}
	return data, true
}

func (h *Handler) runOptimize(w http.ResponseWriter, r *http.Request) (application.OptimizationResult, interfaces.ExportMeta, bool) {
	req, err := decodeOptimizeRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return application.OptimizationResult{}, interfaces.ExportMeta{}, false
	}
	start, err := optionalDate(req.StartDate)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return application.OptimizationResult{}, interfaces.ExportMeta{}, false
	}
	end, err := optionalDate(req.EndDate)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return application.OptimizationResult{}, interfaces.ExportMeta{}, false
	}
	threshold := h.service.Settings().DefaultThreshold
	if req.Threshold != nil {
		threshold = *req.Threshold
	}
	from, to := h.service.OptimizeRange(h.now(), start, end)
	h.logger.Printf("optimize: from=%s to=%s threshold=%.2f", from.Format(queryDateLayout), to.Format(queryDateLayout), threshold)

	res, err := h.service.Optimize(r.Context(), from, to, threshold, req.UseTestData)
	if err != nil {
		respondServiceError(w, err)
		return application.OptimizationResult{}, interfaces.ExportMeta{}, false
	}
	return res, interfaces.ExportMeta{Start: from, End: to, Threshold: threshold}, true
}

// decodeOptimizeRequest reads a JSON body when present and fills the
// remaining fields from the query string.
func decodeOptimizeRequest(r *http.Request) (optimizeRequest, error) {
	var req optimizeRequest
	if r.Body != nil && strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			return req, errors.New("read body error")
		}
		if len(bytes.TrimSpace(body)) > 0 {
			if err := json.Unmarshal(body, &req); err != nil {
				return req, errors.New("invalid json")
			}
		}
	}
	q := r.URL.Query()
	if req.StartDate == "" {
		req.StartDate = q.Get("start_date")
	}
	if req.EndDate == "" {
		req.EndDate = q.Get("end_date")
	}
	if req.Threshold == nil {
		if raw := q.Get("threshold"); raw != "" {
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return req, errors.New("threshold must be a number")
			}
			req.Threshold = &v
		}
	}
	if req.UseTestData == nil {
		v, err := optionalBool(q.Get("use_test_data"))
		if err != nil {
			return req, err
		}
		req.UseTestData = v
	}
	return req, nil
}

func optionalDate(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	date := pricing.ParseDate(raw)
	if !date.Valid() {
		return nil, fmt.Errorf("invalid date %q (format: YYYY-MM-DD)", raw)
	}
	// Dotted dates are normalized by the parser; reject days that do not exist.
	if strings.Contains(raw, ".") {
		if _, err := time.Parse(dottedDateLayout, strings.TrimSpace(raw)); err != nil {
			return nil, fmt.Errorf("invalid date %q: %w", raw, err)
		}
	}
	t := date.Time()
	return &t, nil
}

func optionalBool(raw string) (*bool, error) {
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid boolean %q", raw)
	}
	return &v, nil
}

func respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, pricing.ErrInvalidRange):
		http.Error(w, "end_date must not be before start_date", http.StatusBadRequest)
	case errors.Is(err, pricing.ErrNoMarketData):
		http.Error(w, "No market data found for the specified period", http.StatusNotFound)
	default:
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}

func setSourceHeaders(w http.ResponseWriter, data application.MarketData) {
	w.Header().Set("X-Test-Data", strconv.FormatBool(data.IsTestData))
	if data.IsTestData {
		w.Header().Set("X-Test-Reason", data.Reason)
		return
	}
	w.Header().Set("X-Data-Source", data.Source)
}

func exportName(meta interfaces.ExportMeta, ext string) string {
	return fmt.Sprintf("optimization_%s_%s.%s", meta.Start.Format(fileDateLayout), meta.End.Format(fileDateLayout), ext)
}

func writeAttachment(w http.ResponseWriter, contentType, filename string, payload []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filename))
	_, _ = w.Write(payload)
}

func (h *Handler) writeJSON(w http.ResponseWriter, v any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		h.logger.Printf("encode response: %v", err)
		http.Error(w, "response encoding error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(buf.Bytes())
}

func nonNilRecords(records []pricing.PriceRecord) []pricing.PriceRecord {
	if records == nil {
		return []pricing.PriceRecord{}
	}
	return records
}

func nonNilCycles(cycles []pricing.ArbitrageCycle) []pricing.ArbitrageCycle {
	if cycles == nil {
		return []pricing.ArbitrageCycle{}
	}
	return cycles
}
