package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/OpenNSW/edibridge/internal/config"
	"github.com/OpenNSW/edibridge/internal/edi"
	"github.com/OpenNSW/edibridge/internal/ingest"
	"github.com/OpenNSW/edibridge/internal/model"
	"github.com/OpenNSW/edibridge/internal/records"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockReceiver struct {
	mock.Mock
}

func (m *MockReceiver) Receive(ctx context.Context, fileName string, body io.Reader) (*ingest.FileResult, error) {
	data, _ := io.ReadAll(body)
	args := m.Called(ctx, fileName, string(data))
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ingest.FileResult), args.Error(1)
}

type MockRecords struct {
	mock.Mock
}

func (m *MockRecords) ListOrders(ctx context.Context, offset, limit *int) (*records.OrderListResult, error) {
	args := m.Called(ctx, offset, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*records.OrderListResult), args.Error(1)
}

func (m *MockRecords) GetOrder(ctx context.Context, orderNumber string) (*model.Order, error) {
	args := m.Called(ctx, orderNumber)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Order), args.Error(1)
}

func (m *MockRecords) GetShipment(ctx context.Context, reference string) (*model.Shipment, error) {
	args := m.Called(ctx, reference)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Shipment), args.Error(1)
}

func setupRouter(receiver FileReceiver, recs RecordReader, health HealthChecker) *gin.Engine {
	return setupRouterWithToken(receiver, recs, health, "")
}

func setupRouterWithToken(receiver FileReceiver, recs RecordReader, health HealthChecker, token string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	cors := &config.CORSConfig{
		AllowedOrigins: []string{"http://localhost:3000"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         60,
	}
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "edibridge_files_total 0\n")
	})
	return NewRouter(cors, token, NewHandler(receiver, recs, health, 1<<20), metrics)
}

func uploadRequest(t *testing.T, field, name, content string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile(field, name)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/edi/files", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func TestHandleUploadFile(t *testing.T) {
	receiver := new(MockReceiver)
	receiver.On("Receive", mock.Anything, "po.edi", "ST*850*0001~").Return(&ingest.FileResult{
		FileName:   "po.edi",
		ArchiveKey: "archive/processed/x-po.edi",
		Transactions: []ingest.TransactionResult{
			{SetID: "850", ControlNumber: "0001", Key: "ACM-PO1", Outcome: ingest.OutcomeApplied},
		},
	}, nil)
	r := setupRouter(receiver, new(MockRecords), nil)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, uploadRequest(t, "file", "po.edi", "ST*850*0001~"))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var got ingest.FileResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "archive/processed/x-po.edi", got.ArchiveKey)
	require.Len(t, got.Transactions, 1)
	assert.Equal(t, ingest.OutcomeApplied, got.Transactions[0].Outcome)
	receiver.AssertExpectations(t)
}

func TestHandleUploadFile_Errors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		r := setupRouter(new(MockReceiver), new(MockRecords), nil)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, uploadRequest(t, "other", "po.edi", "x"))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("malformed interchange", func(t *testing.T) {
		receiver := new(MockReceiver)
		receiver.On("Receive", mock.Anything, "bad.edi", "junk").
			Return(nil, fmt.Errorf("failed to read bad.edi: %w", edi.ErrMalformedInterchange))
		r := setupRouter(receiver, new(MockRecords), nil)

		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, uploadRequest(t, "file", "bad.edi", "junk"))
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})

	t.Run("storage failure", func(t *testing.T) {
		receiver := new(MockReceiver)
		receiver.On("Receive", mock.Anything, "po.edi", "x").Return(nil, errors.New("disk full"))
		r := setupRouter(receiver, new(MockRecords), nil)

		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, uploadRequest(t, "file", "po.edi", "x"))
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.NotContains(t, rec.Body.String(), "disk full")
	})
}

func TestHandleListOrders(t *testing.T) {
	recs := new(MockRecords)
	recs.On("ListOrders", mock.Anything, mock.MatchedBy(func(p *int) bool { return p != nil && *p == 5 }), (*int)(nil)).
		Return(&records.OrderListResult{TotalCount: 6, Offset: 5, Limit: 20, Items: []records.OrderSummary{{OrderNumber: "ACM-PO6"}}}, nil)
	r := setupRouter(new(MockReceiver), recs, nil)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/orders?offset=5", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var got records.OrderListResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, int64(6), got.TotalCount)
	require.Len(t, got.Items, 1)
	assert.Equal(t, "ACM-PO6", got.Items[0].OrderNumber)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/orders?limit=abc", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleGetOrder(t *testing.T) {
	recs := new(MockRecords)
	recs.On("GetOrder", mock.Anything, "ACM-PO1").Return(&model.Order{OrderNumber: "ACM-PO1", Revision: 2}, nil)
	recs.On("GetOrder", mock.Anything, "ACM-PO2").Return(nil, records.ErrNotFound)
	r := setupRouter(new(MockReceiver), recs, nil)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/orders/ACM-PO1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var got model.Order
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, 2, got.Revision)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/orders/ACM-PO2", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleGetShipment(t *testing.T) {
	recs := new(MockRecords)
	recs.On("GetShipment", mock.Anything, "ACM-SHIP1").Return(&model.Shipment{Reference: "ACM-SHIP1", NumberOfPackages: 3}, nil)
	recs.On("GetShipment", mock.Anything, "ACM-SHIP2").Return(nil, errors.New("db down"))
	r := setupRouter(new(MockReceiver), recs, nil)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/shipments/ACM-SHIP1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"numberOfPackages":3`)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/shipments/ACM-SHIP2", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	healthy := true
	r := setupRouter(new(MockReceiver), new(MockRecords), func() error {
		if healthy {
			return nil
		}
		return errors.New("down")
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	healthy = false
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "edibridge_files_total")
}

func TestCORS(t *testing.T) {
	r := setupRouter(new(MockReceiver), new(MockRecords), nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/orders", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "60", rec.Header().Get("Access-Control-Max-Age"))

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRequireToken(t *testing.T) {
	recs := new(MockRecords)
	recs.On("GetOrder", mock.Anything, "ACM-PO1").Return(&model.Order{OrderNumber: "ACM-PO1"}, nil)
	r := setupRouterWithToken(new(MockReceiver), recs, nil, "s3cret")

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{name: "Missing header", header: "", want: http.StatusUnauthorized},
		{name: "Wrong scheme", header: "Basic s3cret", want: http.StatusUnauthorized},
		{name: "Wrong token", header: "Bearer nope", want: http.StatusUnauthorized},
		{name: "Valid token", header: "Bearer s3cret", want: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/orders/ACM-PO1", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
