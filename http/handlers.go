package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"time"

	"go.uber.org/zap"

	"pcosdx/form"
	"pcosdx/ml"
	"pcosdx/monitoring"
)

const maxBodyBytes = 1 << 20

// PredictionStore persists served predictions.
type PredictionStore interface {
	SavePrediction(ctx context.Context, pred ml.Prediction, record ml.Record) (string, error)
}

// Handler serves the JSON API. Its dependencies other than the model are
// optional.
type Handler struct {
	model   ml.ModelProvider
	metrics *monitoring.Collector
	store   PredictionStore
	hub     *monitoring.Hub
	logger  *zap.Logger
	now     func() time.Time
}

type HandlerOption func(*Handler)

func WithMetrics(c *monitoring.Collector) HandlerOption {
	return func(h *Handler) { h.metrics = c }
}

func WithStore(s PredictionStore) HandlerOption {
	return func(h *Handler) { h.store = s }
}

// WithHub enables GET /api/stream and publishes served predictions to it.
func WithHub(hub *monitoring.Hub) HandlerOption {
	return func(h *Handler) { h.hub = hub }
}

func WithLogger(l *zap.Logger) HandlerOption {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}

func NewHandler(model ml.ModelProvider, opts ...HandlerOption) *Handler {
	h := &Handler{model: model, logger: zap.NewNop(), now: time.Now}
	for _, o := range opts {
		o(h)
	}
	if h.metrics == nil {
		h.metrics = monitoring.NewCollector()
	}
	return h
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/health", h.handleHealth)
	mux.HandleFunc("GET /api/schema", h.handleSchema)
	mux.HandleFunc("GET /api/fields", h.handleFields)
	mux.HandleFunc("GET /api/midpoint", h.handleMidpoint)
	mux.HandleFunc("POST /api/predict", h.handlePredict)
	mux.HandleFunc("GET /api/metrics", h.handleMetrics)
	if h.hub != nil {
		mux.Handle("GET /api/stream", h.hub)
	}
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	_, err := h.schema()
	respondJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"model_loaded": err == nil,
	})
}

func (h *Handler) handleSchema(w http.ResponseWriter, r *http.Request) {
	schema, err := h.schema()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, schema)
}

func (h *Handler) handleFields(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"fields":   form.Fields(),
		"defaults": form.Defaults(),
	})
}

func (h *Handler) handleMidpoint(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, form.Midpoint())
}

type predictResponse struct {
	ID            string           `json:"id,omitempty"`
	Label         int              `json:"label"`
	Positive      bool             `json:"positive"`
	Diagnosis     string           `json:"diagnosis"`
	Confidence    float64          `json:"confidence"`
	ConfidencePct float64          `json:"confidence_pct"`
	Probabilities []float64        `json:"probabilities"`
	Ignored       []string         `json:"ignored"`
	Defaulted     []string         `json:"defaulted"`
	Warnings      []form.Violation `json:"warnings,omitempty"`
}

// handlePredict accepts a flat JSON object of field values. Derived ratios
// are filled from their inputs unless ?derive=false.
func (h *Handler) handlePredict(w http.ResponseWriter, r *http.Request) {
	start := h.now()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		h.metrics.RecordError(monitoring.ErrorKindBadRequest)
		writeError(w, http.StatusBadRequest, "bad_request", "cannot read request body")
		return
	}
	var record ml.Record
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&record); err != nil || record == nil {
		h.metrics.RecordError(monitoring.ErrorKindBadRequest)
		writeError(w, http.StatusBadRequest, "bad_request", "request body must be a JSON object")
		return
	}
	if r.URL.Query().Get("derive") != "false" {
		record = form.DeriveRecord(record)
	}

	pred, err := h.model.Predict(r.Context(), record)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.metrics.RecordPrediction(pred.Label, h.now().Sub(start), len(pred.Defaulted), len(pred.Ignored))
	if h.hub != nil {
		h.hub.Publish(monitoring.EventPrediction, monitoring.PredictionEvent{
			RequestID:  GetRequestID(r.Context()),
			Label:      pred.Label,
			Confidence: pred.Confidence,
			Defaulted:  len(pred.Defaulted),
			Ignored:    len(pred.Ignored),
		})
	}

	resp := predictResponse{
		Label:         pred.Label,
		Positive:      pred.Positive,
		Diagnosis:     pred.Diagnosis(),
		Confidence:    pred.Confidence,
		ConfidencePct: math.Round(pred.Confidence*10000) / 100,
		Probabilities: pred.Probabilities,
		Ignored:       nonNil(pred.Ignored),
		Defaulted:     nonNil(pred.Defaulted),
		Warnings:      form.Validate(form.Values(record)),
	}
	if h.store != nil {
		id, err := h.store.SavePrediction(r.Context(), pred, record)
		if err != nil {
			h.logger.Warn("failed to store prediction",
				zap.String("request_id", GetRequestID(r.Context())), zap.Error(err))
		}
		resp.ID = id
	}
	respondJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("format") == "prometheus" {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		io.WriteString(w, h.metrics.ExportPrometheus())
		return
	}
	respondJSON(w, http.StatusOK, h.metrics.Snapshot())
}

func (h *Handler) schema() (ml.FeatureSchema, error) {
	if h.model == nil {
		return ml.FeatureSchema{}, ml.ErrModelUnavailable
	}
	return h.model.Schema()
}

// fail maps domain errors onto status codes.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ml.ErrModelUnavailable):
		h.metrics.RecordError(monitoring.ErrorKindUnavailable)
		writeError(w, http.StatusServiceUnavailable, monitoring.ErrorKindUnavailable,
			"model unavailable, train the model first")
	case errors.Is(err, ml.ErrFeatureMismatch):
		h.metrics.RecordError(monitoring.ErrorKindMismatch)
		writeError(w, http.StatusUnprocessableEntity, monitoring.ErrorKindMismatch, err.Error())
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		h.metrics.RecordError(monitoring.ErrorKindInternal)
		writeError(w, http.StatusGatewayTimeout, "timeout", "request cancelled")
	default:
		h.metrics.RecordError(monitoring.ErrorKindInternal)
		h.logger.Error("request failed",
			zap.String("request_id", GetRequestID(r.Context())), zap.Error(err))
		writeError(w, http.StatusInternalServerError, monitoring.ErrorKindInternal, "internal server error")
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	respondJSON(w, status, map[string]string{"error": msg, "code": code})
}
