package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"pcosdx/form"
	"pcosdx/ml"
	"pcosdx/monitoring"
	"pcosdx/pipeline"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeModel struct {
	pred   ml.Prediction
	err    error
	schema ml.FeatureSchema
	last   ml.Record
}

func (f *fakeModel) Predict(ctx context.Context, record ml.Record) (ml.Prediction, error) {
	f.last = record
	return f.pred, f.err
}

func (f *fakeModel) Schema() (ml.FeatureSchema, error) {
	if f.err != nil {
		return ml.FeatureSchema{}, f.err
	}
	return f.schema, nil
}

// blockingModel never answers before its context is done.
type blockingModel struct{}

func (blockingModel) Predict(ctx context.Context, record ml.Record) (ml.Prediction, error) {
	<-ctx.Done()
	return ml.Prediction{}, ctx.Err()
}

func (blockingModel) Schema() (ml.FeatureSchema, error) { return ml.FeatureSchema{}, nil }

type memoryStore struct {
	mu    sync.Mutex
	saved []ml.Prediction
}

func (s *memoryStore) SavePrediction(ctx context.Context, pred ml.Prediction, record ml.Record) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, pred)
	return "pred-1", nil
}

func serve(t *testing.T, h *Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	routes := Routes(DefaultServerConfig(), h)
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	w := httptest.NewRecorder()
	routes.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &payload), w.Body.String())
	return payload
}

func TestHealthHandler(t *testing.T) {
	h := NewHandler(&fakeModel{schema: ml.FeatureSchema{Features: []string{"a"}}})
	w := serve(t, h, http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusOK, w.Code)

	payload := decode(t, w)
	assert.Equal(t, "ok", payload["status"])
	assert.Equal(t, true, payload["model_loaded"])
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
}

func TestHandlePredict(t *testing.T) {
	model := &fakeModel{pred: ml.Prediction{
		Label: 1, Positive: true, Confidence: 0.8765, Probabilities: []float64{0.1235, 0.8765},
		ReindexInfo: ml.ReindexInfo{Ignored: []string{"Cysts (Y/N)"}},
	}}
	store := &memoryStore{}
	metrics := monitoring.NewCollector()
	h := NewHandler(model, WithStore(store), WithMetrics(metrics), WithLogger(zaptest.NewLogger(t)))

	w := serve(t, h, http.MethodPost, "/api/predict",
		`{"Weight (Kg)": 64, "Height(Cm)": 160, "Cysts (Y/N)": 1, "Age (yrs)": 95}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	payload := decode(t, w)
	assert.Equal(t, float64(1), payload["label"])
	assert.Equal(t, true, payload["positive"])
	assert.Equal(t, "PCOS Detected", payload["diagnosis"])
	assert.Equal(t, 87.65, payload["confidence_pct"])
	assert.Equal(t, "pred-1", payload["id"])
	assert.Equal(t, []any{"Cysts (Y/N)"}, payload["ignored"])
	assert.Equal(t, []any{}, payload["defaulted"])
	require.Len(t, payload["warnings"], 1)

	bmi, ok := model.last[form.FieldBMI].(float64)
	require.True(t, ok, "BMI derived from weight and height")
	assert.InDelta(t, 25.0, bmi, 1e-9)

	assert.Len(t, store.saved, 1)
	assert.Equal(t, int64(1), metrics.Snapshot().Predictions["pcos"])
}

func TestHandlePredictWithoutDerivation(t *testing.T) {
	model := &fakeModel{pred: ml.Prediction{Probabilities: []float64{1, 0}, Confidence: 1}}
	h := NewHandler(model)

	w := serve(t, h, http.MethodPost, "/api/predict?derive=false", `{"Weight (Kg)": 64, "Height(Cm)": 160}`)
	require.Equal(t, http.StatusOK, w.Code)
	_, ok := model.last[form.FieldBMI]
	assert.False(t, ok)
}

func TestHandlePredictErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		body   string
		status int
		code   string
	}{
		{"model unavailable", ml.ErrModelUnavailable, `{}`, http.StatusServiceUnavailable, "model_unavailable"},
		{"feature mismatch", ml.ErrFeatureMismatch, `{"BMI": [1]}`, http.StatusUnprocessableEntity, "feature_mismatch"},
		{"bad json", nil, `{"BMI": `, http.StatusBadRequest, "bad_request"},
		{"not an object", nil, `[1, 2]`, http.StatusBadRequest, "bad_request"},
		{"null body", nil, `null`, http.StatusBadRequest, "bad_request"},
		{"unexpected", errors.New("boom"), `{}`, http.StatusInternalServerError, "internal"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler(&fakeModel{err: tt.err})
			w := serve(t, h, http.MethodPost, "/api/predict", tt.body)
			require.Equal(t, tt.status, w.Code, w.Body.String())
			assert.Equal(t, tt.code, decode(t, w)["code"])
		})
	}
}

func TestHandlePredictTimeout(t *testing.T) {
	metrics := monitoring.NewCollector()
	h := NewHandler(blockingModel{}, WithMetrics(metrics))
	routes := Routes(ServerConfig{Timeout: 20 * time.Millisecond}, h)

	req := httptest.NewRequest(http.MethodPost, "/api/predict", strings.NewReader(`{"BMI": 22}`))
	w := httptest.NewRecorder()
	routes.ServeHTTP(w, req)

	require.Equal(t, http.StatusGatewayTimeout, w.Code, w.Body.String())
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Equal(t, "timeout", decode(t, w)["code"])
	assert.NotEqual(t, monitoring.ErrorKindUnavailable, decode(t, w)["code"])
}

func TestSchemaHandler(t *testing.T) {
	schema := ml.FeatureSchema{Features: []string{"Age (yrs)", "BMI"}, Label: "PCOS (Y/N)"}
	w := serve(t, NewHandler(&fakeModel{schema: schema}), http.MethodGet, "/api/schema", "")
	require.Equal(t, http.StatusOK, w.Code)

	var got ml.FeatureSchema
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, schema, got)

	w = serve(t, NewHandler(ml.NewHolder(nil)), http.MethodGet, "/api/schema", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestFieldsAndMidpointHandlers(t *testing.T) {
	h := NewHandler(ml.NewHolder(nil))

	w := serve(t, h, http.MethodGet, "/api/fields", "")
	require.Equal(t, http.StatusOK, w.Code)
	var fields struct {
		Fields   []form.Field       `json:"fields"`
		Defaults map[string]float64 `json:"defaults"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &fields))
	assert.Equal(t, form.Fields(), fields.Fields)
	assert.Equal(t, 25.0, fields.Defaults[form.FieldAge])

	w = serve(t, h, http.MethodGet, "/api/midpoint", "")
	require.Equal(t, http.StatusOK, w.Code)
	var mid map[string]float64
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &mid))
	assert.Equal(t, 45.0, mid[form.FieldAge])
}

func TestMetricsHandler(t *testing.T) {
	metrics := monitoring.NewCollector()
	metrics.RecordError(monitoring.ErrorKindUnavailable)
	h := NewHandler(ml.NewHolder(nil), WithMetrics(metrics))

	w := serve(t, h, http.MethodGet, "/api/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	errs := decode(t, w)["errors"].(map[string]any)
	assert.Equal(t, float64(1), errs["model_unavailable"])

	w = serve(t, h, http.MethodGet, "/api/metrics?format=prometheus", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `pcosdx_errors_total{kind="model_unavailable"} 1`)
}

func TestPredictWithTrainedModel(t *testing.T) {
	ds := &pipeline.Dataset{
		Features: []string{"Follicle No. (R)", "AMH(ng/mL)"},
		Label:    "PCOS (Y/N)",
	}
	for i := 0; i < 24; i++ {
		label := i % 2
		ds.X = append(ds.X, []float64{float64(3 + 12*label + i%4), float64(2 + 5*label)})
		ds.Y = append(ds.Y, label)
	}
	cfg := ml.DefaultTrainConfig()
	cfg.NEstimators = 8
	artifact, _, err := ml.NewTrainer(cfg, nil).Train(context.Background(), ds)
	require.NoError(t, err)
	p, err := ml.NewPredictor(artifact, ml.WithCache(4))
	require.NoError(t, err)

	h := NewHandler(ml.NewHolder(p))
	w := serve(t, h, http.MethodPost, "/api/predict", `{"Follicle No. (R)": 16, "AMH(ng/mL)": 7, "Pulse rate(bpm)": 72}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	payload := decode(t, w)
	assert.Equal(t, float64(1), payload["label"])
	confidence := payload["confidence"].(float64)
	assert.True(t, confidence >= 0.5 && confidence <= 1, "confidence %v", confidence)
	assert.Contains(t, payload["ignored"], "Pulse rate(bpm)")
}

func TestRecoveryMiddleware(t *testing.T) {
	panicky := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { panic("boom") })
	handler := Chain(RecoveryMiddleware(zaptest.NewLogger(t)), LoggerMiddleware(zaptest.NewLogger(t)))(panicky)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestCORSPreflight(t *testing.T) {
	h := NewHandler(ml.NewHolder(nil))
	routes := Routes(ServerConfig{AllowedOrigins: []string{"http://localhost:8501"}}, h)

	req := httptest.NewRequest(http.MethodOptions, "/api/predict", nil)
	req.Header.Set("Origin", "http://localhost:8501")
	w := httptest.NewRecorder()
	routes.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://localhost:8501", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRequestIDPropagates(t *testing.T) {
	var seen string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { seen = GetRequestID(r.Context()) })
	handler := LoggerMiddleware(zaptest.NewLogger(t))(inner)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, "abc-123", seen)
	assert.Equal(t, "abc-123", w.Header().Get("X-Request-ID"))
}

func TestStreamReceivesPredictions(t *testing.T) {
	hub := monitoring.NewHub([]string{"*"}, zaptest.NewLogger(t))
	defer hub.Close()
	model := &fakeModel{pred: ml.Prediction{Confidence: 0.7, Probabilities: []float64{0.7, 0.3}}}
	srv := httptest.NewServer(Routes(DefaultServerConfig(), NewHandler(model, WithHub(hub))))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/api/stream", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 5*time.Millisecond)

	resp, err := srv.Client().Post(srv.URL+"/api/predict", "application/json", strings.NewReader(`{"BMI": 21}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev struct {
		Type string                     `json:"type"`
		Data monitoring.PredictionEvent `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, monitoring.EventPrediction, ev.Type)
	assert.Equal(t, 0, ev.Data.Label)
	assert.Equal(t, 0.7, ev.Data.Confidence)
	assert.NotEmpty(t, ev.Data.RequestID)
}

func TestStreamRouteDisabledWithoutHub(t *testing.T) {
	w := serve(t, NewHandler(ml.NewHolder(nil)), http.MethodGet, "/api/stream", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}
