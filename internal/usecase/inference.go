package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/oncoscan/internal/diagnosis"
	"github.com/example/oncoscan/internal/imaging"
	"github.com/example/oncoscan/internal/logging"
	"github.com/example/oncoscan/internal/repository"
	"github.com/example/oncoscan/internal/scorer"
)

// RecordStore defines the persistence operations needed by the pipeline.
type RecordStore interface {
	Insert(ctx context.Context, rec *repository.DiagnosticRecord) (string, error)
	FindByClinician(ctx context.Context, clinicianID string) ([]*repository.DiagnosticRecord, error)
	FindByIDAndClinician(ctx context.Context, id, clinicianID string) (*repository.DiagnosticRecord, error)
	AggregateMetrics(ctx context.Context) (*repository.MetricsAggregation, error)
}

// PatientMetadata travels through the pipeline untouched. The core neither
// validates nor interprets these fields; they belong to the clinician's
// intake form.
type PatientMetadata struct {
	PatientID string
	Name      string
	Age       string
	Sex       string
	Symptoms  string
}

// InferencePipeline turns an uploaded scan into a persisted diagnostic
// record: normalize, score, classify, stamp, insert. Concurrent calls are
// independent; the model handle is shared read-only.
type InferencePipeline struct {
	store          RecordStore
	cache          Cache
	model          *scorer.Handle
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

const recordCacheTTL = 5 * time.Minute

func recordCacheKey(id string) string {
	return fmt.Sprintf("record:%s", id)
}

// NewInferencePipeline constructs a new pipeline instance.
func NewInferencePipeline(store RecordStore, cache Cache, model *scorer.Handle, logger *zap.Logger) *InferencePipeline {
	return &InferencePipeline{
		store:          store,
		cache:          cache,
		model:          model,
		logger:         logger.Named("inference_pipeline"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// RunInference scores an uploaded scan and persists the resulting record,
// returning it with the store-assigned id. Exactly one record is inserted
// per successful call; no failure path writes anything, and no step is
// retried.
func (p *InferencePipeline) RunInference(ctx context.Context, clinicianID string, imageBytes []byte, meta PatientMetadata) (*repository.DiagnosticRecord, error) {
	requestID := uuid.NewString()
	opLogger := logging.WithOperation(p.logger, "pipeline.run_inference", requestID)

	if !p.model.IsAvailable() {
		opLogger.Warn("inference requested with no model loaded")
		return nil, logging.NewOperationError("pipeline.model_check", requestID, ErrModelUnavailable)
	}

	if len(imageBytes) == 0 {
		return nil, logging.NewOperationError("pipeline.input_check", requestID, ErrMissingInput)
	}

	tensor, err := imaging.Normalize(imageBytes)
	if err != nil {
		opLogger.Warn("scan image rejected", zap.Error(err))
		return nil, logging.NewOperationError("pipeline.normalize", requestID, fmt.Errorf("%w: %v", ErrInvalidImage, err))
	}

	confidence, err := p.model.Score(ctx, tensor)
	if err != nil {
		opLogger.Error("model scoring failed", zap.Error(err))
		return nil, logging.NewOperationError("pipeline.score", requestID, fmt.Errorf("%w: %v", ErrInferenceFailure, err))
	}

	label, risk := diagnosis.Classify(confidence)

	rec := &repository.DiagnosticRecord{
		ClinicianID:       clinicianID,
		PatientID:         meta.PatientID,
		PatientName:       meta.Name,
		Age:               meta.Age,
		Sex:               meta.Sex,
		Symptoms:          meta.Symptoms,
		Diagnosis:         string(label),
		Confidence:        confidence,
		ConfidencePercent: diagnosis.FormatConfidence(confidence),
		RiskLevel:         string(risk),
		ScanTimestamp:     time.Now().UTC().Truncate(time.Second),
	}

	if _, err := p.store.Insert(ctx, rec); err != nil {
		opLogger.Error("failed to persist diagnostic record", zap.Error(err))
		return nil, logging.NewOperationError("pipeline.insert", requestID, fmt.Errorf("%w: %v", ErrPersistence, err))
	}

	// The record is durable at this point; a failed cache write only costs
	// the next lookup a store round trip.
	p.cacheRecord(ctx, requestID, rec)

	logging.WithRecord(opLogger, rec.ID).Info("diagnostic record created",
		zap.String("diagnosis", rec.Diagnosis),
		zap.String("risk_level", rec.RiskLevel),
	)
	return rec, nil
}

// GetRecord returns one record owned by the clinician, served from cache
// when warm.
func (p *InferencePipeline) GetRecord(ctx context.Context, clinicianID, id string) (*repository.DiagnosticRecord, error) {
	cacheKey := recordCacheKey(id)
	if cached, err := p.withCacheGet(ctx, id, "cache.get.record", cacheKey); err == nil {
		var rec repository.DiagnosticRecord
		if err := json.Unmarshal([]byte(cached), &rec); err != nil {
			logging.WithOperation(p.logger, "pipeline.get_record", id).Warn("failed to decode cached record", zap.Error(err))
		} else if rec.ClinicianID == clinicianID {
			return &rec, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		logging.WithOperation(p.logger, "pipeline.get_record", id).Warn("failed to read cache", zap.Error(err))
	}

	rec, err := p.store.FindByIDAndClinician(ctx, id, clinicianID)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (p *InferencePipeline) cacheRecord(ctx context.Context, requestID string, rec *repository.DiagnosticRecord) {
	serialized, err := json.Marshal(rec)
	if err != nil {
		logging.WithOperation(p.logger, "pipeline.cache_record", requestID).Warn("failed to serialize record", zap.Error(err))
		return
	}

	if err := p.withCacheRetry(ctx, requestID, "cache.set.record", func() error {
		return p.cache.Set(ctx, recordCacheKey(rec.ID), string(serialized), recordCacheTTL)
	}); err != nil {
		logging.WithOperation(p.logger, "pipeline.cache_record", requestID).Warn("failed to cache record", zap.Error(err))
	}
}
