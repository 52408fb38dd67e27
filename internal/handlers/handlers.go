package handlers

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/example/oncoscan/internal/auth"
	"github.com/example/oncoscan/internal/repository"
	"github.com/example/oncoscan/internal/scorer"
	"github.com/example/oncoscan/internal/usecase"
)

// MaxUploadSize bounds scan uploads at 10 MiB.
const MaxUploadSize = 10 << 20

const scanTimeLayout = "2006-01-02 15:04:05"

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(
	router *gin.Engine,
	pipeline *usecase.InferencePipeline,
	accounts *usecase.Accounts,
	model *scorer.Handle,
	authMiddleware gin.HandlerFunc,
) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":       "ok",
			"model_loaded": model.IsAvailable(),
		})
	})

	router.POST("/signup", func(c *gin.Context) {
		var req credentials
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "username and password are required"})
			return
		}

		if err := accounts.Signup(c.Request.Context(), req.Username, req.Password); err != nil {
			if errors.Is(err, usecase.ErrUserExists) {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "signup failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "user created successfully"})
	})

	router.POST("/login", func(c *gin.Context) {
		var req credentials
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "username and password are required"})
			return
		}

		token, err := accounts.Login(c.Request.Context(), req.Username, req.Password)
		if err != nil {
			if errors.Is(err, usecase.ErrInvalidCredentials) {
				c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"token": token, "username": req.Username})
	})

	authorized := router.Group("/")
	authorized.Use(authMiddleware)

	authorized.POST("/predict", func(c *gin.Context) {
		clinicianID, ok := auth.GetClinicianID(c.Request.Context())
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "clinician identity missing"})
			return
		}

		file, err := c.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "scan image file is required", "kind": "missing_input"})
			return
		}
		if file.Size > MaxUploadSize {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "scan image exceeds upload limit"})
			return
		}
		if ct := file.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "image/") {
			c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "unsupported scan content type"})
			return
		}

		src, err := file.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unable to open scan image"})
			return
		}
		defer src.Close()

		data, err := io.ReadAll(src)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read scan image"})
			return
		}

		meta := usecase.PatientMetadata{
			PatientID: c.PostForm("patient_id"),
			Name:      c.PostForm("name"),
			Age:       c.PostForm("age"),
			Sex:       c.PostForm("sex"),
			Symptoms:  c.PostForm("symptoms"),
		}

		rec, err := pipeline.RunInference(c.Request.Context(), clinicianID, data, meta)
		if err != nil {
			writeInferenceError(c, err)
			return
		}
		c.JSON(http.StatusOK, recordPayload(rec))
	})

	authorized.GET("/history", func(c *gin.Context) {
		clinicianID, ok := auth.GetClinicianID(c.Request.Context())
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "clinician identity missing"})
			return
		}

		recs, err := pipeline.History(c.Request.Context(), clinicianID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": usecase.ErrPersistence.Error(), "kind": "persistence_failure"})
			return
		}

		payload := make([]gin.H, 0, len(recs))
		for _, rec := range recs {
			payload = append(payload, recordPayload(rec))
		}
		c.JSON(http.StatusOK, payload)
	})

	authorized.GET("/records/:id", func(c *gin.Context) {
		clinicianID, ok := auth.GetClinicianID(c.Request.Context())
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "clinician identity missing"})
			return
		}

		rec, err := pipeline.GetRecord(c.Request.Context(), clinicianID, c.Param("id"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "record not found"})
			return
		}
		c.JSON(http.StatusOK, recordPayload(rec))
	})

	authorized.GET("/metrics/summary", func(c *gin.Context) {
		summary, err := pipeline.GetMetricsSummary(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": usecase.ErrPersistence.Error(), "kind": "persistence_failure"})
			return
		}
		c.JSON(http.StatusOK, summary)
	})
}

type credentials struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// writeInferenceError maps the pipeline error taxonomy to HTTP statuses:
// caller errors are 4xx, the not-ready model is 503, a scorer blow-up is
// 502, and store trouble stays a plain 500. Messages never carry internals.
func writeInferenceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, usecase.ErrModelUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": usecase.ErrModelUnavailable.Error(), "kind": "model_unavailable"})
	case errors.Is(err, usecase.ErrMissingInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": usecase.ErrMissingInput.Error(), "kind": "missing_input"})
	case errors.Is(err, usecase.ErrInvalidImage):
		c.JSON(http.StatusBadRequest, gin.H{"error": usecase.ErrInvalidImage.Error(), "kind": "invalid_image"})
	case errors.Is(err, usecase.ErrInferenceFailure):
		c.JSON(http.StatusBadGateway, gin.H{"error": usecase.ErrInferenceFailure.Error(), "kind": "inference_failure"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": usecase.ErrPersistence.Error(), "kind": "persistence_failure"})
	}
}

func recordPayload(rec *repository.DiagnosticRecord) gin.H {
	return gin.H{
		"id":             rec.ID,
		"clinician_id":   rec.ClinicianID,
		"patient_id":     rec.PatientID,
		"patient_name":   rec.PatientName,
		"age":            rec.Age,
		"sex":            rec.Sex,
		"symptoms":       rec.Symptoms,
		"diagnosis":      rec.Diagnosis,
		"confidence":     rec.ConfidencePercent,
		"risk_level":     rec.RiskLevel,
		"scan_timestamp": rec.ScanTimestamp.Format(scanTimeLayout),
	}
}
