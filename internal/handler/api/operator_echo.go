package api

import (
	"context"
	"errors"

	"github.com/labstack/echo/v4"

	"VPScalp/internal/domain/models"
	"VPScalp/internal/service/ratelimit"
	"VPScalp/internal/usecase"
	xhttp "VPScalp/pkg/http"
	xlogger "VPScalp/pkg/logger"
)

// Operator is the engine surface exposed over HTTP.
type Operator interface {
	RiskSnapshot() models.RiskSnapshot
	Positions() []models.Position
	RecentSignals(ctx context.Context, limit int) ([]models.Signal, error)
	TradeHistory(ctx context.Context, limit int) ([]models.TradeRecord, error)
	Submit(cmd models.Command) error
}

var _ Operator = (*usecase.Engine)(nil)

// OperatorEchoHandler serves the read-only engine views and queues operator commands.
type OperatorEchoHandler struct {
	logger *xlogger.Logger
	op     Operator
	ready  func() bool
	rl     *ratelimit.Limiter
}

// NewOperatorEchoHandler builds the handler. ready reports market data health for /healthz;
// nil means always ready.
func NewOperatorEchoHandler(logger *xlogger.Logger, op Operator, ready func() bool, rl *ratelimit.Limiter) *OperatorEchoHandler {
	if logger == nil {
		logger = xlogger.Nop()
	}
	if rl == nil {
		rl = ratelimit.New()
	}
	return &OperatorEchoHandler{logger: logger.Component("operator-api"), op: op, ready: ready, rl: rl}
}

func (h *OperatorEchoHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.Health)

	g := e.Group("/api")
	g.GET("/risk", h.Risk)
	g.POST("/risk/reset", h.ResetRisk)
	g.GET("/positions", h.Positions)
	g.POST("/positions/close", h.ClosePosition)
	g.GET("/signals", h.Signals)
	g.GET("/trades", h.Trades)
}

func (h *OperatorEchoHandler) Health(c echo.Context) error {
	if h.ready != nil && !h.ready() {
		return xhttp.AppErrorResponse(c, xhttp.UnavailableError("market stream disconnected"))
	}
	return xhttp.SuccessResponse(c, map[string]string{"status": "ok"})
}

func (h *OperatorEchoHandler) Risk(c echo.Context) error {
	c.Response().Header().Set(echo.HeaderCacheControl, "no-store")
	return xhttp.SuccessResponse(c, h.op.RiskSnapshot())
}

func (h *OperatorEchoHandler) Positions(c echo.Context) error {
	ps := h.op.Positions()
	return xhttp.ListResponse(c, ps, len(ps))
}

func (h *OperatorEchoHandler) Signals(c echo.Context) error {
	req := &models.ListRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	sigs, err := h.op.RecentSignals(c.Request().Context(), req.Limit)
	if err != nil {
		h.logger.Error("recent signals error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.UnavailableError("signal history unavailable").WithError(err))
	}
	return xhttp.ListResponse(c, sigs, len(sigs))
}

func (h *OperatorEchoHandler) Trades(c echo.Context) error {
	req := &models.ListRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	trades, err := h.op.TradeHistory(c.Request().Context(), req.Limit)
	if err != nil {
		h.logger.Error("trade history error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.UnavailableError("trade history unavailable").WithError(err))
	}
	return xhttp.ListResponse(c, trades, len(trades))
}

func (h *OperatorEchoHandler) ResetRisk(c echo.Context) error {
	if !h.rl.Allow(c.RealIP()+":reset", 2, 0.1) {
		return xhttp.AppErrorResponse(c, xhttp.RateLimitedError())
	}
	req := &models.ResetRiskRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	cmd := models.Command{Type: models.CmdResetRisk, Reason: req.Reason}
	if err := h.submit(cmd); err != nil {
		return xhttp.AppErrorResponse(c, err)
	}
	h.logger.Warn("risk reset queued", xlogger.String("reason", req.Reason), xlogger.String("remote", c.RealIP()))
	return xhttp.AcceptedResponse(c, cmd)
}

func (h *OperatorEchoHandler) ClosePosition(c echo.Context) error {
	if !h.rl.Allow(c.RealIP()+":close", 5, 1) {
		return xhttp.AppErrorResponse(c, xhttp.RateLimitedError())
	}
	req := &models.ClosePositionRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if !h.hasPosition(req.ID, req.Symbol) {
		target := req.ID
		if target == "" {
			target = req.Symbol
		}
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("no open position for %s", target))
	}
	cmd := models.Command{
		Type:       models.CmdClosePosition,
		PositionID: req.ID,
		Symbol:     req.Symbol,
		Price:      req.Price,
		Reason:     req.Reason,
	}
	if err := h.submit(cmd); err != nil {
		return xhttp.AppErrorResponse(c, err)
	}
	h.logger.Info("close queued",
		xlogger.String("id", req.ID),
		xlogger.String("symbol", req.Symbol),
		xlogger.Float64("price", req.Price),
	)
	return xhttp.AcceptedResponse(c, cmd)
}

func (h *OperatorEchoHandler) hasPosition(id, symbol string) bool {
	for _, p := range h.op.Positions() {
		if (id != "" && p.ID == id) || (id == "" && p.Symbol == symbol) {
			return true
		}
	}
	return false
}

func (h *OperatorEchoHandler) submit(cmd models.Command) error {
	err := h.op.Submit(cmd)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, usecase.ErrInboxFull):
		return xhttp.UnavailableError("command inbox full, retry later").WithError(err)
	case errors.Is(err, usecase.ErrUnknownCommand):
		return xhttp.BadRequestError(err.Error())
	default:
		h.logger.Error("submit command", xlogger.Error(err))
		return xhttp.InternalError("could not queue command").WithError(err)
	}
}
