package execution

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"VPScalp/internal/domain/models"
	domsvc "VPScalp/internal/domain/service"
	"VPScalp/internal/services/lifecycle"
	applogger "VPScalp/pkg/logger"
)

// PaperConfig configures simulated execution.
type PaperConfig struct {
	InitialBalance float64
	SlippageBps    float64
	FeeBps         float64
}

// PaperExecutor fills every order at the requested price adjusted by slippage and keeps an
// account balance from realized pnl minus fees.
type PaperExecutor struct {
	mu      sync.Mutex
	cfg     PaperConfig
	balance decimal.Decimal
	now     func() time.Time
	log     *applogger.Logger
}

var _ domsvc.Executor = (*PaperExecutor)(nil)

func NewPaperExecutor(cfg PaperConfig, log *applogger.Logger) *PaperExecutor {
	if log == nil {
		log = applogger.Nop()
	}
	return &PaperExecutor{
		cfg:     cfg,
		balance: decimal.NewFromFloat(cfg.InitialBalance),
		now:     func() time.Time { return time.Now().UTC() },
		log:     log.Component("paper-executor"),
	}
}

func (e *PaperExecutor) Open(ctx context.Context, sig models.Signal, size, leverage float64) (models.Fill, error) {
	if err := ctx.Err(); err != nil {
		return models.Fill{}, err
	}
	if !(sig.EntryPrice > 0) || !(size > 0) || !(leverage > 0) {
		return models.Fill{}, fmt.Errorf("paper open %s: invalid order price=%v size=%v leverage=%v", sig.Symbol, sig.EntryPrice, size, leverage)
	}
	price := e.slip(sig.EntryPrice, sig.Direction.Sign())

	e.mu.Lock()
	e.balance = e.balance.Sub(e.fee(size * leverage))
	e.mu.Unlock()

	fill := models.Fill{OrderID: uuid.NewString(), Symbol: sig.Symbol, Price: price, Size: size, Time: e.now()}
	e.log.Info("paper order opened",
		applogger.String("symbol", sig.Symbol),
		applogger.String("direction", string(sig.Direction)),
		applogger.Float64("price", price),
		applogger.Float64("size", size),
		applogger.Float64("leverage", leverage),
	)
	return fill, nil
}

func (e *PaperExecutor) Close(ctx context.Context, p models.Position, price float64) (models.Fill, error) {
	if err := ctx.Err(); err != nil {
		return models.Fill{}, err
	}
	if !(price > 0) {
		return models.Fill{}, fmt.Errorf("paper close %s: invalid price %v", p.ID, price)
	}
	exit := e.slip(price, -p.Direction.Sign())
	pnl := lifecycle.PnL(p, exit)

	e.mu.Lock()
	e.balance = e.balance.Add(decimal.NewFromFloat(pnl)).Sub(e.fee(p.Size * p.Leverage))
	e.mu.Unlock()

	return models.Fill{OrderID: uuid.NewString(), Symbol: p.Symbol, Price: exit, Size: p.Size, Time: e.now()}, nil
}

func (e *PaperExecutor) Balance(ctx context.Context) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.balance.InexactFloat64(), nil
}

// slip moves price against the trader by the configured slippage.
func (e *PaperExecutor) slip(price, side float64) float64 {
	if e.cfg.SlippageBps == 0 {
		return price
	}
	return price * (1 + side*e.cfg.SlippageBps/10000)
}

func (e *PaperExecutor) fee(notional float64) decimal.Decimal {
	if e.cfg.FeeBps == 0 {
		return decimal.Zero
	}
	return decimal.NewFromFloat(notional).Mul(decimal.NewFromFloat(e.cfg.FeeBps)).Div(decimal.NewFromInt(10000))
}
