package decision

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"VPScalp/internal/domain/models"
	domsvc "VPScalp/internal/domain/service"
)

// RuleConfirmer approves signals locally when no decision service is configured.
// Low-quality signals are never approved.
type RuleConfirmer struct {
	MinConfidence float64
}

var _ domsvc.DecisionMaker = RuleConfirmer{}

func (r RuleConfirmer) Confirm(_ context.Context, sig models.Signal, risk models.RiskState) (models.Confirmation, error) {
	c := models.Confirmation{
		Confidence: sig.Confidence,
		DecisionID: uuid.NewString(),
		Model:      "rules",
	}
	switch {
	case risk.Halted:
		c.Reasoning = "risk gate halted: " + risk.HaltReason
	case sig.LowQuality:
		c.Reasoning = fmt.Sprintf("risk/reward %.2f below floor", sig.RiskReward)
	case sig.Confidence < r.MinConfidence:
		c.Reasoning = fmt.Sprintf("confidence %.1f below %.1f", sig.Confidence, r.MinConfidence)
	default:
		c.Approved = true
		c.Reasoning = fmt.Sprintf("%s %s entry at %s band, r:r %.2f", sig.Direction, sig.Symbol, sig.EntryLevel, sig.RiskReward)
	}
	return c, nil
}
