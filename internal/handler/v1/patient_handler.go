package v1

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/dermatrack/api/internal/domain/patient"
	"github.com/dermatrack/api/internal/handler/middleware"
	"github.com/dermatrack/api/internal/service"
	"github.com/dermatrack/api/internal/storage"
	"github.com/dermatrack/api/pkg/metrics"
)

type PatientHandler struct {
	patients  *service.PatientService
	store     storage.ImageStore
	collector *metrics.Collector
	log       *zap.Logger
}

func NewPatientHandler(patients *service.PatientService, store storage.ImageStore, collector *metrics.Collector, log *zap.Logger) *PatientHandler {
	return &PatientHandler{
		patients:  patients,
		store:     store,
		collector: collector,
		log:       log,
	}
}

func (h *PatientHandler) List(c *gin.Context) {
	claims := middleware.CurrentUser(c)

	patients, err := h.patients.List(c.Request.Context(), claims.UserID)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	respondOK(c, patients)
}

func (h *PatientHandler) Create(c *gin.Context) {
	claims := middleware.CurrentUser(c)

	cmd, vErr := bindPatientForm(c)
	if vErr != nil {
		c.JSON(http.StatusBadRequest, ValidationErrorResponse{
			Error:  "validation failed",
			Fields: vErr.Fields,
		})
		return
	}
	cmd.OwnerID = claims.UserID

	// Optional profile image; the service falls back to the placeholder.
	ref, err := h.storeUpload(c, "image")
	if err != nil {
		respondServiceError(c, err)
		return
	}
	cmd.Image = ref

	p, err := h.patients.Create(c.Request.Context(), cmd, c.ClientIP())
	if err != nil {
		respondServiceError(c, err)
		return
	}

	h.collector.PatientsCreatedTotal.Inc()
	c.Header("Location", "/api/v1/patients/"+p.ID.String())
	respondCreated(c, p)
}

func (h *PatientHandler) Get(c *gin.Context) {
	claims := middleware.CurrentUser(c)
	id, ok := parseUUID(c, "id")
	if !ok {
		return
	}

	p, err := h.patients.Get(c.Request.Context(), id, claims.UserID)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	respondOK(c, p)
}

type updatePatientRequest struct {
	Name       string `json:"name"`
	Age        *int   `json:"age"`
	Gender     string `json:"gender"`
	Image      string `json:"image"`
	ExtraNotes string `json:"extra_notes"`
}

func (h *PatientHandler) Update(c *gin.Context) {
	claims := middleware.CurrentUser(c)
	id, ok := parseUUID(c, "id")
	if !ok {
		return
	}

	var req updatePatientRequest
	if !bindJSON(c, &req) {
		return
	}
	if req.Age == nil {
		c.JSON(http.StatusBadRequest, ValidationErrorResponse{
			Error:  "validation failed",
			Fields: []string{"age is required"},
		})
		return
	}

	cmd := &patient.UpdatePatientCommand{
		Name:       req.Name,
		Age:        *req.Age,
		Gender:     req.Gender,
		Image:      req.Image,
		ExtraNotes: req.ExtraNotes,
	}

	p, err := h.patients.Update(c.Request.Context(), id, cmd, claims.UserID, c.ClientIP())
	if err != nil {
		respondServiceError(c, err)
		return
	}

	respondOK(c, p)
}

func (h *PatientHandler) Delete(c *gin.Context) {
	claims := middleware.CurrentUser(c)
	id, ok := parseUUID(c, "id")
	if !ok {
		return
	}

	if err := h.patients.Delete(c.Request.Context(), id, claims.UserID, c.ClientIP()); err != nil {
		respondServiceError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *PatientHandler) Diagnose(c *gin.Context) {
	claims := middleware.CurrentUser(c)
	id, ok := parseUUID(c, "id")
	if !ok {
		return
	}

	ref, err := h.storeUpload(c, "image")
	if err != nil {
		respondServiceError(c, err)
		return
	}
	if ref == "" {
		respondServiceError(c, service.ErrImageRequired)
		return
	}

	start := time.Now()
	p, err := h.patients.Diagnose(c.Request.Context(), id, ref, claims.UserID, c.ClientIP())
	h.collector.DiagnoseDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		h.collector.DiagnosesTotal.WithLabelValues("failure").Inc()
		respondServiceError(c, err)
		return
	}

	h.collector.DiagnosesTotal.WithLabelValues("success").Inc()
	respondOK(c, p)
}

// storeUpload persists the uploaded file for the given form field and returns
// its reference, or "" when the field carries no file.
func (h *PatientHandler) storeUpload(c *gin.Context, field string) (string, error) {
	fh, err := c.FormFile(field)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
			return "", nil
		}
		return "", err
	}

	f, err := fh.Open()
	if err != nil {
		return "", err
	}
	defer f.Close()

	ref, err := h.store.Store(c.Request.Context(), fh.Filename, fh.Header.Get("Content-Type"), f)
	if err != nil {
		return "", err
	}

	h.collector.UploadsTotal.Inc()
	return ref, nil
}

// bindPatientForm reads the multipart patient fields and aggregates every
// field-level problem into a single report.
func bindPatientForm(c *gin.Context) (*patient.CreatePatientCommand, *service.ValidationError) {
	var fields []string

	name := strings.TrimSpace(c.PostForm("name"))
	if name == "" {
		fields = append(fields, "name is required")
	}

	age := 0
	ageRaw, hasAge := c.GetPostForm("age")
	switch {
	case !hasAge || strings.TrimSpace(ageRaw) == "":
		fields = append(fields, "age is required")
	default:
		v, err := strconv.Atoi(strings.TrimSpace(ageRaw))
		if err != nil {
			fields = append(fields, "age must be a number")
		} else if v < 0 {
			fields = append(fields, "age must be a non-negative number")
		} else {
			age = v
		}
	}

	gender := strings.TrimSpace(c.PostForm("gender"))
	if gender == "" {
		fields = append(fields, "gender is required")
	}

	if len(fields) > 0 {
		return nil, &service.ValidationError{Fields: fields}
	}

	return &patient.CreatePatientCommand{
		Name:       name,
		Age:        age,
		Gender:     gender,
		ExtraNotes: c.PostForm("extra_notes"),
	}, nil
}
