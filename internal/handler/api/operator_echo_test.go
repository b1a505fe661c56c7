package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"VPScalp/internal/domain/models"
	"VPScalp/internal/usecase"
	xhttp "VPScalp/pkg/http"
)

type fakeOperator struct {
	positions []models.Position
	signals   []models.Signal
	cmds      []models.Command
	submitErr error
	lastLimit int
}

func (f *fakeOperator) RiskSnapshot() models.RiskSnapshot {
	return models.RiskSnapshot{State: models.GateHaltedLoss, Reason: "daily loss", Day: "2024-03-01"}
}

func (f *fakeOperator) Positions() []models.Position { return f.positions }

func (f *fakeOperator) RecentSignals(_ context.Context, limit int) ([]models.Signal, error) {
	f.lastLimit = limit
	return f.signals, nil
}

func (f *fakeOperator) TradeHistory(_ context.Context, limit int) ([]models.TradeRecord, error) {
	f.lastLimit = limit
	return nil, nil
}

func (f *fakeOperator) Submit(cmd models.Command) error {
	if f.submitErr != nil {
		return f.submitErr
	}
	f.cmds = append(f.cmds, cmd)
	return nil
}

func newTestServer(op *fakeOperator, ready func() bool) *echo.Echo {
	e := echo.New()
	NewOperatorEchoHandler(nil, op, ready, nil).RegisterRoutes(e)
	return e
}

func do(e *echo.Echo, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestRiskEndpoint(t *testing.T) {
	e := newTestServer(&fakeOperator{}, nil)
	rec := do(e, http.MethodGet, "/api/risk", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp struct {
		Data models.RiskSnapshot `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Data.State != models.GateHaltedLoss || resp.Data.Reason != "daily loss" {
		t.Fatalf("unexpected snapshot %+v", resp.Data)
	}
}

func TestSignalsLimitValidation(t *testing.T) {
	op := &fakeOperator{signals: []models.Signal{{Symbol: "BTC"}}}
	e := newTestServer(op, nil)

	if rec := do(e, http.MethodGet, "/api/signals", ""); rec.Code != http.StatusOK || op.lastLimit != 50 {
		t.Fatalf("expected default limit 50, got code=%d limit=%d", rec.Code, op.lastLimit)
	}
	if rec := do(e, http.MethodGet, "/api/signals?limit=10", ""); rec.Code != http.StatusOK || op.lastLimit != 10 {
		t.Fatalf("expected limit 10, got code=%d limit=%d", rec.Code, op.lastLimit)
	}
	if rec := do(e, http.MethodGet, "/api/trades?limit=1000", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for limit over 500, got %d", rec.Code)
	}
}

func TestClosePosition(t *testing.T) {
	op := &fakeOperator{positions: []models.Position{{ID: "p-1", Symbol: "BTC", State: models.StateMonitoring}}}
	e := newTestServer(op, nil)

	rec := do(e, http.MethodPost, "/api/positions/close", `{"symbol":"BTC","price":101}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(op.cmds) != 1 {
		t.Fatalf("expected one queued command")
	}
	cmd := op.cmds[0]
	if cmd.Type != models.CmdClosePosition || cmd.Symbol != "BTC" || cmd.Price != 101 || cmd.Reason != "operator" {
		t.Fatalf("unexpected command %+v", cmd)
	}

	if rec := do(e, http.MethodPost, "/api/positions/close", `{"symbol":"ETH"}`); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown position, got %d", rec.Code)
	}
	if rec := do(e, http.MethodPost, "/api/positions/close", `{"price":101}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without id or symbol, got %d", rec.Code)
	}
}

func TestResetRiskInboxFull(t *testing.T) {
	op := &fakeOperator{}
	e := newTestServer(op, nil)
	if rec := do(e, http.MethodPost, "/api/risk/reset", `{}`); rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	if op.cmds[0].Reason != "operator reset" {
		t.Fatalf("expected default reason, got %q", op.cmds[0].Reason)
	}

	op.submitErr = usecase.ErrInboxFull
	rec := do(e, http.MethodPost, "/api/risk/reset", `{"reason":"manual"}`)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when inbox is full, got %d", rec.Code)
	}
	var resp xhttp.APIResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil || resp.Status != http.StatusServiceUnavailable {
		t.Fatalf("unexpected envelope %+v %v", resp, err)
	}
}

func TestHealth(t *testing.T) {
	up := true
	e := newTestServer(&fakeOperator{}, func() bool { return up })
	if rec := do(e, http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	up = false
	if rec := do(e, http.MethodGet, "/healthz", ""); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestResetRiskRateLimited(t *testing.T) {
	e := newTestServer(&fakeOperator{}, nil)
	for i := 0; i < 2; i++ {
		if rec := do(e, http.MethodPost, "/api/risk/reset", `{}`); rec.Code != http.StatusAccepted {
			t.Fatalf("call %d: expected 202, got %d", i, rec.Code)
		}
	}
	rec := do(e, http.MethodPost, "/api/risk/reset", `{}`)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	var resp struct {
		Data []xhttp.AppError `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil || len(resp.Data) != 1 || resp.Data[0].Code != xhttp.CodeRateLimited {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
}
