package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/example/oncoscan/internal/auth"
	"github.com/example/oncoscan/internal/imaging"
	"github.com/example/oncoscan/internal/repository"
	"github.com/example/oncoscan/internal/scorer"
	"github.com/example/oncoscan/internal/usecase"
)

const testJWTSecret = "test-secret"

type memoryStore struct {
	records []*repository.DiagnosticRecord
}

func (s *memoryStore) Insert(ctx context.Context, rec *repository.DiagnosticRecord) (string, error) {
	rec.ID = fmt.Sprintf("rec-%d", len(s.records)+1)
	s.records = append(s.records, rec)
	return rec.ID, nil
}

func (s *memoryStore) FindByClinician(ctx context.Context, clinicianID string) ([]*repository.DiagnosticRecord, error) {
	var out []*repository.DiagnosticRecord
	for _, rec := range s.records {
		if rec.ClinicianID == clinicianID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *memoryStore) FindByIDAndClinician(ctx context.Context, id, clinicianID string) (*repository.DiagnosticRecord, error) {
	for _, rec := range s.records {
		if rec.ID == id && rec.ClinicianID == clinicianID {
			return rec, nil
		}
	}
	return nil, errors.New("not found")
}

func (s *memoryStore) AggregateMetrics(ctx context.Context) (*repository.MetricsAggregation, error) {
	return &repository.MetricsAggregation{TotalScans: int64(len(s.records))}, nil
}

type noopCache struct{}

func (noopCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	return nil
}

func (noopCache) Get(ctx context.Context, key string) (string, error) {
	return "", errors.New("cache miss")
}

type fixedScorer struct {
	confidence float64
}

func (f fixedScorer) Score(ctx context.Context, t imaging.Tensor) (float64, error) {
	return f.confidence, nil
}

func newTestRouter(t *testing.T, store usecase.RecordStore, model *scorer.Handle) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.MaxMultipartMemory = MaxUploadSize

	pipeline := usecase.NewInferencePipeline(store, noopCache{}, model, zap.NewNop())
	RegisterRoutes(router, pipeline, &usecase.Accounts{}, model, auth.JWTMiddleware(testJWTSecret, ""))
	return router
}

func TestPredictRejectsLargeUpload(t *testing.T) {
	router := newTestRouter(t, &memoryStore{}, scorer.NewHandle())

	token := buildTestToken(t, "dr-a")
	body, contentType := buildMultipartBody(t, "image/png", bytes.Repeat([]byte("a"), MaxUploadSize+1))

	req := httptest.NewRequest(http.MethodPost, "/predict", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+token)

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected status %d, got %d", http.StatusRequestEntityTooLarge, resp.Code)
	}
}

func TestPredictRejectsUnsupportedContentType(t *testing.T) {
	router := newTestRouter(t, &memoryStore{}, scorer.NewHandle())

	token := buildTestToken(t, "dr-a")
	body, contentType := buildMultipartBody(t, "text/plain", []byte("hello"))

	req := httptest.NewRequest(http.MethodPost, "/predict", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+token)

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("expected status %d, got %d", http.StatusUnsupportedMediaType, resp.Code)
	}
}

func TestPredictRequiresBearerToken(t *testing.T) {
	router := newTestRouter(t, &memoryStore{}, scorer.NewHandle())

	body, contentType := buildMultipartBody(t, "image/png", scanPNG(t))
	req := httptest.NewRequest(http.MethodPost, "/predict", body)
	req.Header.Set("Content-Type", contentType)

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, resp.Code)
	}
}

func TestPredictReturnsServiceUnavailableWithoutModel(t *testing.T) {
	router := newTestRouter(t, &memoryStore{}, scorer.NewHandle())

	token := buildTestToken(t, "dr-a")
	body, contentType := buildMultipartBody(t, "image/png", scanPNG(t))

	req := httptest.NewRequest(http.MethodPost, "/predict", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+token)

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status %d, got %d", http.StatusServiceUnavailable, resp.Code)
	}
}

func TestPredictReturnsDiagnosticRecord(t *testing.T) {
	model := scorer.NewHandle()
	model.Load(fixedScorer{confidence: 0.8734})
	store := &memoryStore{}
	router := newTestRouter(t, store, model)

	token := buildTestToken(t, "dr-a")
	body, contentType := buildMultipartBodyWithFields(t, "image/png", scanPNG(t), map[string]string{
		"patient_id": "P-17",
		"name":       "Jane Roe",
		"age":        "58",
		"sex":        "F",
		"symptoms":   "abdominal pain",
	})

	req := httptest.NewRequest(http.MethodPost, "/predict", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+token)

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d body %s", http.StatusOK, resp.Code, resp.Body.String())
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(resp.Body.Bytes(), &payload); err != nil {
		t.Fatalf("undecodable response: %v", err)
	}
	if payload["id"] != "rec-1" {
		t.Fatalf("expected id rec-1, got %v", payload["id"])
	}
	if payload["diagnosis"] != "Malignant" || payload["risk_level"] != "High" {
		t.Fatalf("unexpected classification: %v/%v", payload["diagnosis"], payload["risk_level"])
	}
	if payload["confidence"] != "87.34%" {
		t.Fatalf("unexpected confidence: %v", payload["confidence"])
	}
	if payload["patient_name"] != "Jane Roe" {
		t.Fatalf("metadata lost: %v", payload["patient_name"])
	}
	if len(store.records) != 1 {
		t.Fatalf("expected one persisted record, got %d", len(store.records))
	}
}

func TestHistoryReturnsOwnRecordsOnly(t *testing.T) {
	store := &memoryStore{records: []*repository.DiagnosticRecord{
		{ID: "rec-1", ClinicianID: "dr-a", Diagnosis: "Benign", ScanTimestamp: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)},
		{ID: "rec-2", ClinicianID: "dr-b", Diagnosis: "Malignant", ScanTimestamp: time.Date(2026, 1, 2, 9, 0, 0, 0, time.UTC)},
		{ID: "rec-3", ClinicianID: "dr-a", Diagnosis: "Malignant", ScanTimestamp: time.Date(2026, 1, 3, 9, 0, 0, 0, time.UTC)},
	}}
	router := newTestRouter(t, store, scorer.NewHandle())

	token := buildTestToken(t, "dr-a")
	req := httptest.NewRequest(http.MethodGet, "/history", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, resp.Code)
	}

	var payload []map[string]interface{}
	if err := json.Unmarshal(resp.Body.Bytes(), &payload); err != nil {
		t.Fatalf("undecodable response: %v", err)
	}
	if len(payload) != 2 {
		t.Fatalf("expected 2 records, got %d", len(payload))
	}
	if payload[0]["id"] != "rec-3" || payload[1]["id"] != "rec-1" {
		t.Fatalf("history not in reverse-chronological order: %v", payload)
	}
}

func TestHealthReportsModelState(t *testing.T) {
	router := newTestRouter(t, &memoryStore{}, scorer.NewHandle())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, resp.Code)
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(resp.Body.Bytes(), &payload); err != nil {
		t.Fatalf("undecodable response: %v", err)
	}
	if payload["model_loaded"] != false {
		t.Fatalf("expected model_loaded false, got %v", payload["model_loaded"])
	}
}

func scanPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 16, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x * 16), G: uint8(y * 16), B: 100, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode png: %v", err)
	}
	return buf.Bytes()
}

func buildMultipartBody(t *testing.T, contentType string, payload []byte) (*bytes.Buffer, string) {
	t.Helper()
	return buildMultipartBodyWithFields(t, contentType, payload, nil)
}

func buildMultipartBodyWithFields(t *testing.T, contentType string, payload []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="file"; filename="scan"`)
	header.Set("Content-Type", contentType)

	part, err := writer.CreatePart(header)
	if err != nil {
		t.Fatalf("failed to create multipart part: %v", err)
	}
	if _, err := part.Write(payload); err != nil {
		t.Fatalf("failed to write payload: %v", err)
	}

	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			t.Fatalf("failed to write field %s: %v", key, err)
		}
	}

	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close writer: %v", err)
	}

	return body, writer.FormDataContentType()
}

func buildTestToken(t *testing.T, subject string) string {
	t.Helper()

	claims := jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}
