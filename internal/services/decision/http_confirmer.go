package decision

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"VPScalp/internal/domain/models"
	domsvc "VPScalp/internal/domain/service"
	"VPScalp/internal/service/metrics"
	"VPScalp/internal/service/ratelimit"
	xhttp "VPScalp/pkg/http"
	applogger "VPScalp/pkg/logger"
)

// HTTPConfig configures the remote decision service.
type HTTPConfig struct {
	BaseURL    string
	Model      string
	Timeout    time.Duration
	Attempts   int
	RatePerSec float64
	Burst      float64
}

// HTTPConfirmer asks a remote model service to approve or reject a signal.
type HTTPConfirmer struct {
	cfg     HTTPConfig
	client  *xhttp.Client
	limiter *ratelimit.Limiter
	log     *applogger.Logger
}

var _ domsvc.DecisionMaker = (*HTTPConfirmer)(nil)

func NewHTTPConfirmer(cfg HTTPConfig, limiter *ratelimit.Limiter, log *applogger.Logger) *HTTPConfirmer {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 3
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if limiter == nil {
		limiter = ratelimit.New()
	}
	if log == nil {
		log = applogger.Nop()
	}
	return &HTTPConfirmer{
		cfg:     cfg,
		client:  xhttp.NewClient(xhttp.WithTimeout(cfg.Timeout)),
		limiter: limiter,
		log:     log.Component("decision"),
	}
}

type confirmRequest struct {
	Model  string           `json:"model"`
	Signal models.Signal    `json:"signal"`
	Risk   models.RiskState `json:"risk"`
}

type confirmResponse struct {
	Approved         bool     `json:"approved"`
	Reasoning        string   `json:"reasoning"`
	Confidence       float64  `json:"confidence"`
	AdjustedLeverage *float64 `json:"adjusted_leverage"`
	AdjustedSizePct  *float64 `json:"adjusted_size_pct"`
	DecisionID       string   `json:"decision_id"`
	Model            string   `json:"model"`
}

// Confirm posts the signal and the current risk state to /v1/confirm.
func (h *HTTPConfirmer) Confirm(ctx context.Context, sig models.Signal, risk models.RiskState) (models.Confirmation, error) {
	if h.cfg.BaseURL == "" {
		return models.Confirmation{}, fmt.Errorf("decision service url not configured")
	}
	if h.cfg.RatePerSec > 0 {
		if err := h.limiter.Wait(ctx, "decision", h.cfg.Burst, h.cfg.RatePerSec); err != nil {
			return models.Confirmation{}, fmt.Errorf("rate limit: %w", err)
		}
	}

	start := time.Now()
	var resp confirmResponse
	err := h.client.PostJSONWithRetry(ctx, strings.TrimRight(h.cfg.BaseURL, "/")+"/v1/confirm",
		confirmRequest{Model: h.cfg.Model, Signal: sig, Risk: risk}, &resp, h.cfg.Attempts)
	metrics.Observe("decision", "confirm", start, err)
	if err != nil {
		h.log.Warn("decision request failed", applogger.String("symbol", sig.Symbol), applogger.Error(err))
		return models.Confirmation{}, fmt.Errorf("post confirm: %w", err)
	}

	out := models.Confirmation{
		Approved:         resp.Approved,
		Reasoning:        resp.Reasoning,
		Confidence:       resp.Confidence,
		AdjustedLeverage: positive(resp.AdjustedLeverage),
		AdjustedSizePct:  positive(resp.AdjustedSizePct),
		DecisionID:       resp.DecisionID,
		Model:            resp.Model,
	}
	if out.DecisionID == "" {
		out.DecisionID = uuid.NewString()
	}
	if out.Model == "" {
		out.Model = h.cfg.Model
	}
	return out, nil
}

// positive drops adjustments that are missing or not strictly positive.
func positive(v *float64) *float64 {
	if v == nil || !(*v > 0) {
		return nil
	}
	return v
}
