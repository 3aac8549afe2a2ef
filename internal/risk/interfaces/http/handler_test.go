package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wyfcoding/riskengine/internal/risk/application"
	"github.com/wyfcoding/riskengine/internal/risk/domain"
	"github.com/wyfcoding/riskengine/internal/risk/infrastructure/persistence/mysql"
	"github.com/wyfcoding/riskengine/pkg/db"
)

type noopPublisher struct{}

func (noopPublisher) PublishRiskAlert(context.Context, domain.RiskAlertEvent) error { return nil }

type testServer struct {
	router *gin.Engine
	eval   *application.EvaluationService
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	gdb, err := db.Init(context.Background(), db.Config{
		Driver:       "sqlite",
		DSN:          fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()),
		MaxOpenConns: 1,
	})
	require.NoError(t, err)
	require.NoError(t, mysql.AutoMigrate(gdb.DB))
	t.Cleanup(func() { _ = gdb.Close() })

	limits := mysql.NewRiskLimitRepository(gdb.DB)
	alerts := mysql.NewRiskAlertRepository(gdb.DB)
	tx := db.NewTxManager(gdb.DB)

	r := gin.New()
	NewRiskHandler(application.NewManagementService(limits, alerts, tx, nil)).RegisterRoutes(r)
	return &testServer{
		router: r,
		eval:   application.NewEvaluationService(limits, alerts, tx, noopPublisher{}),
	}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func (s *testServer) breach(t *testing.T, symbol, costBasis string) {
	t.Helper()
	_, err := s.eval.Evaluate(context.Background(), domain.PositionSnapshot{
		PositionID:        "P-" + symbol,
		AccountCode:       "ACC1",
		Symbol:            symbol,
		Quantity:          decimal.NewFromInt(10),
		CostBasis:         decimal.RequireFromString(costBasis),
		TriggeringTradeID: "T-" + symbol,
	})
	require.NoError(t, err)
}

func TestLimitEndpoints(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/api/v1/risk/limits", map[string]any{
		"account_code":      "ACC1",
		"limit_type":        "MAX_POSITION_VALUE",
		"limit_value":       "100000",
		"warning_threshold": "80",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decodeBody[application.RiskLimitDTO](t, w)
	assert.Equal(t, "100000.0000", created.LimitValue)
	assert.True(t, created.Active)

	w = s.do(t, http.MethodGet, fmt.Sprintf("/api/v1/risk/limits/%d", created.ID), nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodPut, fmt.Sprintf("/api/v1/risk/limits/%d", created.ID), map[string]any{
		"limit_value": "150000",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "150000.0000", decodeBody[application.RiskLimitDTO](t, w).LimitValue)

	w = s.do(t, http.MethodGet, "/api/v1/risk/limits/account/ACC1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decodeBody[[]application.RiskLimitDTO](t, w), 1)

	w = s.do(t, http.MethodDelete, fmt.Sprintf("/api/v1/risk/limits/%d", created.ID), nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = s.do(t, http.MethodGet, "/api/v1/risk/limits", nil)
	require.Equal(t, http.StatusOK, w.Code)
	all := decodeBody[[]application.RiskLimitDTO](t, w)
	require.Len(t, all, 1)
	assert.False(t, all[0].Active)
}

func TestLimitEndpointErrors(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
	}{
		{"missing value", http.MethodPost, "/api/v1/risk/limits", map[string]any{"limit_type": "MAX_POSITION_VALUE"}, http.StatusBadRequest},
		{"unknown type", http.MethodPost, "/api/v1/risk/limits", map[string]any{"limit_type": "NOPE", "limit_value": "1"}, http.StatusBadRequest},
		{"threshold out of range", http.MethodPost, "/api/v1/risk/limits", map[string]any{"limit_type": "MAX_POSITION_VALUE", "limit_value": "1", "warning_threshold": "120"}, http.StatusBadRequest},
		{"bad id", http.MethodGet, "/api/v1/risk/limits/abc", nil, http.StatusBadRequest},
		{"missing limit", http.MethodGet, "/api/v1/risk/limits/99", nil, http.StatusNotFound},
		{"update missing", http.MethodPut, "/api/v1/risk/limits/99", map[string]any{"limit_value": "1"}, http.StatusNotFound},
		{"delete missing", http.MethodDelete, "/api/v1/risk/limits/99", nil, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			body := decodeBody[ErrorResponse](t, w)
			assert.Equal(t, tt.status, body.Code)
			assert.NotEmpty(t, body.Message)
		})
	}
}

func TestAlertEndpoints(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, http.MethodPost, "/api/v1/risk/limits", map[string]any{
		"limit_type":  "MAX_POSITION_VALUE",
		"limit_value": "100000",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	s.breach(t, "AAA", "150000")
	s.breach(t, "BBB", "105000")

	w = s.do(t, http.MethodGet, "/api/v1/risk/alerts", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decodeBody[[]application.RiskAlertDTO](t, w), 2)

	w = s.do(t, http.MethodGet, "/api/v1/risk/alerts/critical", nil)
	require.Equal(t, http.StatusOK, w.Code)
	critical := decodeBody[[]application.RiskAlertDTO](t, w)
	require.Len(t, critical, 2)
	assert.Equal(t, "CRITICAL", critical[0].Severity)
	assert.Equal(t, "AAA", critical[0].Symbol)
	assert.Equal(t, "150.00", critical[0].UtilizationPct)

	w = s.do(t, http.MethodGet, "/api/v1/risk/alerts/summary", nil)
	require.Equal(t, http.StatusOK, w.Code)
	summary := decodeBody[application.AlertSummaryDTO](t, w)
	assert.Equal(t, int64(2), summary.Total)
	assert.Equal(t, int64(1), summary.BySeverity["HIGH"])

	id := critical[0].ID
	w = s.do(t, http.MethodGet, "/api/v1/risk/alerts/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodGet, "/api/v1/risk/alerts/trade/T-AAA", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decodeBody[[]application.RiskAlertDTO](t, w), 1)

	since := time.Now().Add(-time.Hour).UTC().Format(time.RFC3339)
	w = s.do(t, http.MethodGet, "/api/v1/risk/alerts/account/ACC1?since="+since, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decodeBody[[]application.RiskAlertDTO](t, w), 2)

	w = s.do(t, http.MethodGet, "/api/v1/risk/alerts/account/ACC1?since=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, "/api/v1/risk/alerts/"+id+"/acknowledge", map[string]any{"acknowledged_by": " "})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, "/api/v1/risk/alerts/"+id+"/acknowledge", map[string]any{"acknowledged_by": "ops"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "ACKNOWLEDGED", decodeBody[application.RiskAlertDTO](t, w).Status)

	w = s.do(t, http.MethodPost, "/api/v1/risk/alerts/"+id+"/acknowledge", map[string]any{"acknowledged_by": "ops"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(t, http.MethodPost, "/api/v1/risk/alerts/"+id+"/resolve", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "RESOLVED", decodeBody[application.RiskAlertDTO](t, w).Status)

	w = s.do(t, http.MethodPost, "/api/v1/risk/alerts/"+id+"/dismiss", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(t, http.MethodPost, "/api/v1/risk/alerts/"+critical[1].ID+"/dismiss", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodGet, "/api/v1/risk/alerts/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStatusMapping(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, statusFor(domain.NewValidationError("x", "bad")))
	assert.Equal(t, http.StatusNotFound, statusFor(fmt.Errorf("wrap: %w", domain.ErrAlertNotFound)))
	assert.Equal(t, http.StatusConflict, statusFor(domain.ErrInvalidTransition))
	assert.Equal(t, http.StatusInternalServerError, statusFor(assert.AnError))
}
