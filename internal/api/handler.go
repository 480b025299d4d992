// Package api exposes EDI upload and record lookup over HTTP.
package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/OpenNSW/edibridge/internal/edi"
	"github.com/OpenNSW/edibridge/internal/ingest"
	"github.com/OpenNSW/edibridge/internal/model"
	"github.com/OpenNSW/edibridge/internal/records"
	"github.com/gin-gonic/gin"
)

// FileReceiver stores and processes an uploaded file.
type FileReceiver interface {
	Receive(ctx context.Context, fileName string, body io.Reader) (*ingest.FileResult, error)
}

// RecordReader looks up the records built from EDI.
type RecordReader interface {
	ListOrders(ctx context.Context, offset, limit *int) (*records.OrderListResult, error)
	GetOrder(ctx context.Context, orderNumber string) (*model.Order, error)
	GetShipment(ctx context.Context, reference string) (*model.Shipment, error)
}

// HealthChecker reports whether the database is reachable.
type HealthChecker func() error

type Handler struct {
	receiver       FileReceiver
	records        RecordReader
	health         HealthChecker
	maxUploadBytes int64
}

func NewHandler(receiver FileReceiver, records RecordReader, health HealthChecker, maxUploadBytes int64) *Handler {
	return &Handler{
		receiver:       receiver,
		records:        records,
		health:         health,
		maxUploadBytes: maxUploadBytes,
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, errorResponse{Error: message})
}

// HandleUploadFile handles POST /api/v1/edi/files
// Form field: file (required)
// Response: ingest.FileResult
func (h *Handler) HandleUploadFile(c *gin.Context) {
	if h.maxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes)
	}

	header, err := c.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(c, http.StatusRequestEntityTooLarge, "file exceeds the upload limit")
			return
		}
		writeError(c, http.StatusBadRequest, "file is required")
		return
	}

	file, err := header.Open()
	if err != nil {
		writeError(c, http.StatusBadRequest, "failed to read file")
		return
	}
	defer file.Close()

	ctx := c.Request.Context()
	result, err := h.receiver.Receive(ctx, header.Filename, file)
	if err != nil {
		if errors.Is(err, edi.ErrMalformedInterchange) {
			writeError(c, http.StatusUnprocessableEntity, err.Error())
			return
		}
		slog.ErrorContext(ctx, "failed to process uploaded file", "file", header.Filename, "error", err)
		writeError(c, http.StatusInternalServerError, "failed to process file")
		return
	}

	c.JSON(http.StatusOK, result)
}

// HandleListOrders handles GET /api/v1/orders?offset={offset}&limit={limit}
func (h *Handler) HandleListOrders(c *gin.Context) {
	offset, err := optionalInt(c, "offset")
	if err != nil {
		writeError(c, http.StatusBadRequest, "invalid offset")
		return
	}
	limit, err := optionalInt(c, "limit")
	if err != nil {
		writeError(c, http.StatusBadRequest, "invalid limit")
		return
	}

	result, err := h.records.ListOrders(c.Request.Context(), offset, limit)
	if err != nil {
		slog.ErrorContext(c.Request.Context(), "failed to list orders", "error", err)
		writeError(c, http.StatusInternalServerError, "failed to list orders")
		return
	}
	c.JSON(http.StatusOK, result)
}

// HandleGetOrder handles GET /api/v1/orders/:orderNumber
func (h *Handler) HandleGetOrder(c *gin.Context) {
	order, err := h.records.GetOrder(c.Request.Context(), c.Param("orderNumber"))
	if errors.Is(err, records.ErrNotFound) {
		writeError(c, http.StatusNotFound, "order not found")
		return
	}
	if err != nil {
		slog.ErrorContext(c.Request.Context(), "failed to get order", "error", err)
		writeError(c, http.StatusInternalServerError, "failed to get order")
		return
	}
	c.JSON(http.StatusOK, order)
}

// HandleGetShipment handles GET /api/v1/shipments/:reference
func (h *Handler) HandleGetShipment(c *gin.Context) {
	shipment, err := h.records.GetShipment(c.Request.Context(), c.Param("reference"))
	if errors.Is(err, records.ErrNotFound) {
		writeError(c, http.StatusNotFound, "shipment not found")
		return
	}
	if err != nil {
		slog.ErrorContext(c.Request.Context(), "failed to get shipment", "error", err)
		writeError(c, http.StatusInternalServerError, "failed to get shipment")
		return
	}
	c.JSON(http.StatusOK, shipment)
}

// HandleHealth handles GET /healthz
func (h *Handler) HandleHealth(c *gin.Context) {
	if h.health != nil {
		if err := h.health(); err != nil {
			slog.WarnContext(c.Request.Context(), "health check failed", "error", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func optionalInt(c *gin.Context, name string) (*int, error) {
	raw, ok := c.GetQuery(name)
	if !ok || raw == "" {
		return nil, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return nil, err
	}
	return &v, nil
}
