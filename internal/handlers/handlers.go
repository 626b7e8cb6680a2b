package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Brownie44l1/sketch-api/internal/inference"
	"github.com/Brownie44l1/sketch-api/internal/model"
	"github.com/Brownie44l1/sketch-api/internal/pipeline"
	"github.com/Brownie44l1/sketch-api/internal/sketch"
	"github.com/Brownie44l1/sketch-api/internal/storage"
)

// URL prefixes the generated artifacts are served under.
const (
	ImagesRoute   = "/images"
	SketchesRoute = "/sketches"
)

// Generator runs one sketch-to-image generation.
type Generator interface {
	Generate(ctx context.Context, req pipeline.Request) (*pipeline.Result, error)
}

// Options are the per-request defaults of a Handler. MaxEnsembleSamples
// caps the samples form field; zero means inference.DefaultSamples.
type Options struct {
	OutputDir          string
	SketchDir          string
	UploadDir          string
	MaxUploadBytes     int64
	EnsembleSamples    int
	MaxEnsembleSamples int
	GeneratorIDs       []int
}

type Handler struct {
	generator Generator
	opts      Options
	logger    *zap.Logger
}

func NewHandler(generator Generator, opts Options, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{generator: generator, opts: opts, logger: logger}
}

type generateResponse struct {
	Success        bool   `json:"success"`
	GeneratedImage string `json:"generated_image,omitempty"`
	OriginalSketch string `json:"original_sketch,omitempty"`
	Error          string `json:"error,omitempty"`
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":     "healthy",
		"generators": h.opts.GeneratorIDs,
	})
}

// Generate accepts a multipart sketch upload in the "file" field.
func (h *Handler) Generate(c *gin.Context) {
	if limit := h.opts.MaxUploadBytes; limit > 0 {
		if c.Request.ContentLength > limit {
			h.tooLarge(c)
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
	}

	file, err := c.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			h.tooLarge(c)
			return
		}
		h.fail(c, http.StatusBadRequest, "No sketch provided. Use 'file' as the form field name")
		return
	}

	req, err := h.requestFromForm(c)
	if err != nil {
		h.fail(c, http.StatusBadRequest, err.Error())
		return
	}

	if err := os.MkdirAll(h.opts.UploadDir, 0o755); err != nil {
		h.logger.Error("failed to create upload dir", zap.String("dir", h.opts.UploadDir), zap.Error(err))
		h.fail(c, http.StatusInternalServerError, "Failed to store the uploaded sketch")
		return
	}
	req.SketchPath = filepath.Join(h.opts.UploadDir, uploadName(file.Filename))
	if err := c.SaveUploadedFile(file, req.SketchPath); err != nil {
		h.logger.Error("failed to save upload", zap.String("path", req.SketchPath), zap.Error(err))
		h.fail(c, http.StatusInternalServerError, "Failed to store the uploaded sketch")
		return
	}

	h.logger.Info("sketch received",
		zap.String("filename", file.Filename),
		zap.Int64("size", file.Size),
		zap.Int("generator_id", req.GeneratorID),
		zap.Bool("enhance", req.EnhanceSketch),
		zap.Bool("ensemble", req.Ensemble))

	res, err := h.generator.Generate(c.Request.Context(), req)
	if err != nil {
		status, msg := errorStatus(err, req.GeneratorID)
		h.logger.Error("generation failed", zap.Int("status", status), zap.Error(err))
		h.fail(c, status, msg)
		return
	}

	c.JSON(http.StatusOK, generateResponse{
		Success:        true,
		GeneratedImage: ImagesRoute + "/" + filepath.Base(res.GeneratedPath),
		OriginalSketch: SketchesRoute + "/" + filepath.Base(res.SketchPath),
	})
}

func (h *Handler) requestFromForm(c *gin.Context) (pipeline.Request, error) {
	req := pipeline.DefaultRequest("", h.opts.OutputDir)
	req.SketchDir = h.opts.SketchDir
	if h.opts.EnsembleSamples > 0 {
		req.EnsembleSamples = h.opts.EnsembleSamples
	}

	var err error
	if req.EnhanceSketch, err = formBool(c, "enhance", req.EnhanceSketch); err != nil {
		return req, err
	}
	if req.Ensemble, err = formBool(c, "ensemble", req.Ensemble); err != nil {
		return req, err
	}
	if req.GeneratorID, err = formInt(c, "generator", req.GeneratorID); err != nil {
		return req, err
	}
	if req.EnsembleSamples, err = formInt(c, "samples", req.EnsembleSamples); err != nil {
		return req, err
	}
	if req.EnsembleSamples < 1 {
		return req, errors.New("samples must be at least 1")
	}
	if limit := h.maxSamples(); req.EnsembleSamples > limit {
		return req, fmt.Errorf("samples must be at most %d", limit)
	}
	return req, nil
}

func (h *Handler) maxSamples() int {
	if h.opts.MaxEnsembleSamples > 0 {
		return h.opts.MaxEnsembleSamples
	}
	return inference.DefaultSamples
}

func formBool(c *gin.Context, key string, def bool) (bool, error) {
	v := strings.TrimSpace(c.PostForm(key))
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def, fmt.Errorf("%s must be true or false", key)
	}
	return b, nil
}

func formInt(c *gin.Context, key string, def int) (int, error) {
	v := strings.TrimSpace(c.PostForm(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def, fmt.Errorf("%s must be an integer", key)
	}
	return n, nil
}

// uploadName gives an upload a unique name, keeping a short extension so
// the file stays recognisable on disk.
func uploadName(original string) string {
	ext := strings.ToLower(filepath.Ext(original))
	if len(ext) > 5 || strings.ContainsAny(ext, `/\`) {
		ext = ""
	}
	return "sketch_" + uuid.NewString() + ext
}

// errorStatus maps pipeline errors to a status code and a client-safe
// message.
func errorStatus(err error, generatorID int) (int, string) {
	switch {
	case errors.Is(err, sketch.ErrImageLoad):
		return http.StatusBadRequest, "The uploaded file is not a readable image"
	case errors.Is(err, model.ErrModelNotFound):
		return http.StatusNotFound, fmt.Sprintf("Generator %d is not available", generatorID)
	case errors.Is(err, model.ErrRegistryClosed):
		return http.StatusServiceUnavailable, "Server is shutting down"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "Image generation timed out"
	case errors.Is(err, model.ErrInference), errors.Is(err, model.ErrModelLoad),
		errors.Is(err, sketch.ErrEdgeExtraction):
		return http.StatusInternalServerError, "Image generation failed"
	case errors.Is(err, storage.ErrPersistence):
		return http.StatusInsufficientStorage, "Failed to save the generated image"
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

func (h *Handler) tooLarge(c *gin.Context) {
	h.fail(c, http.StatusRequestEntityTooLarge,
		fmt.Sprintf("Sketch exceeds the %d byte upload limit", h.opts.MaxUploadBytes))
}

func (h *Handler) fail(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, generateResponse{Success: false, Error: msg})
}
