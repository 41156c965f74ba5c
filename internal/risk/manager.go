package risk

import (
	"fmt"

	"github.com/shopspring/decimal"

	"crypto_core/internal/domain"
	"crypto_core/internal/infra"
)

// balanceHeadroom pads the balance check: an order needs the candidate
// notional plus 10% headroom for fees and slippage.
var balanceHeadroom = decimal.RequireFromString("1.1")

// Limits are the hard risk bounds, all in quote currency notional.
type Limits struct {
	MaxPositionSize    decimal.Decimal
	MaxTotalExposure   decimal.Decimal
	MaxPositions       int
	MaxRiskScore       decimal.Decimal
	MinBalanceRequired decimal.Decimal
}

// LimitsFromConfig converts the configured float limits to decimal.
func LimitsFromConfig(cfg *infra.Config) Limits {
	return Limits{
		MaxPositionSize:    decimal.NewFromFloat(cfg.Risk.MaxPositionSize),
		MaxTotalExposure:   decimal.NewFromFloat(cfg.Risk.MaxTotalExposure),
		MaxPositions:       cfg.Risk.MaxPositions,
		MaxRiskScore:       decimal.NewFromFloat(cfg.Risk.MaxRiskScore),
		MinBalanceRequired: decimal.NewFromFloat(cfg.Risk.MinBalanceRequired),
	}
}

// Metrics is a point-in-time risk summary.
type Metrics struct {
	PositionCount   int             `json:"position_count"`
	TotalExposure   decimal.Decimal `json:"total_exposure"`
	LargestExposure decimal.Decimal `json:"largest_exposure"`
	RiskScore       decimal.Decimal `json:"risk_score"` // exposure/max, capped to [0,1]
}

// Manager gates every new order against position and exposure limits.
// It is stateless; callers pass the current open positions and balance.
type Manager struct {
	limits Limits
}

// NewManager creates a risk manager with the given limits.
func NewManager(limits Limits) *Manager {
	return &Manager{limits: limits}
}

// Approve checks a candidate order of volume at price on pair against the
// open positions and the available quote balance. Returns acceptance and a
// human-readable reason when rejected.
func (m *Manager) Approve(pair string, volume, price decimal.Decimal, positions []*domain.Position, quoteBalance decimal.Decimal) (bool, string) {
	if volume.Sign() <= 0 || price.Sign() <= 0 {
		return false, "volume and price must be positive"
	}

	notional := volume.Mul(price)
	if m.limits.MaxPositionSize.Sign() > 0 && notional.GreaterThan(m.limits.MaxPositionSize) {
		return false, fmt.Sprintf("order notional %s exceeds max position size %s",
			notional, m.limits.MaxPositionSize)
	}

	open := 0
	exposure := decimal.Zero
	for _, p := range positions {
		if p.Status != domain.PositionOpen {
			continue
		}
		open++
		exposure = exposure.Add(p.Notional())
	}

	if m.limits.MaxPositions > 0 && open >= m.limits.MaxPositions {
		return false, fmt.Sprintf("open position count %d at limit %d", open, m.limits.MaxPositions)
	}

	if m.limits.MaxTotalExposure.Sign() > 0 {
		if total := exposure.Add(notional); total.GreaterThan(m.limits.MaxTotalExposure) {
			return false, fmt.Sprintf("total exposure %s would exceed limit %s",
				total, m.limits.MaxTotalExposure)
		}
	}

	if m.limits.MinBalanceRequired.Sign() > 0 && quoteBalance.LessThan(m.limits.MinBalanceRequired) {
		return false, fmt.Sprintf("quote balance %s below required minimum %s",
			quoteBalance, m.limits.MinBalanceRequired)
	}
	if quoteBalance.LessThan(notional.Mul(balanceHeadroom)) {
		return false, fmt.Sprintf("quote balance %s cannot cover notional %s plus headroom",
			quoteBalance, notional)
	}

	return true, ""
}

// ComputeMetrics summarizes current risk over the open positions.
func (m *Manager) ComputeMetrics(positions []*domain.Position) Metrics {
	out := Metrics{
		TotalExposure:   decimal.Zero,
		LargestExposure: decimal.Zero,
		RiskScore:       decimal.Zero,
	}

	for _, p := range positions {
		if p.Status != domain.PositionOpen {
			continue
		}
		out.PositionCount++
		n := p.Notional()
		out.TotalExposure = out.TotalExposure.Add(n)
		if n.GreaterThan(out.LargestExposure) {
			out.LargestExposure = n
		}
	}

	if m.limits.MaxTotalExposure.Sign() > 0 {
		score := out.TotalExposure.Div(m.limits.MaxTotalExposure)
		if score.GreaterThan(decimal.New(1, 0)) {
			score = decimal.New(1, 0)
		}
		out.RiskScore = score
	}
	return out
}

// OverLimit reports whether the risk score exceeds the configured maximum.
func (m *Manager) OverLimit(metrics Metrics) bool {
	return m.limits.MaxRiskScore.Sign() > 0 && metrics.RiskScore.GreaterThan(m.limits.MaxRiskScore)
}
