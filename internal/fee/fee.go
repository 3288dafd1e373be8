// Package fee maps an instructor's trust score to the platform commission.
// Pure computation, no I/O.
package fee

import "github.com/shopspring/decimal"

const (
	MinTrustScore = 0
	MaxTrustScore = 1000
)

var (
	maxCommission  = decimal.RequireFromString("0.50")
	commissionSpan = decimal.RequireFromString("0.45")
	scoreRange     = decimal.NewFromInt(MaxTrustScore)
	one            = decimal.NewFromInt(1)
)

// Commission returns the platform's cut as a fraction of the sale amount:
// 0.50 at trust score 0 falling linearly to 0.05 at 1000. Scores outside
// [0, 1000] clamp to the nearest bound.
func Commission(trustScore int) decimal.Decimal {
	if trustScore < MinTrustScore {
		trustScore = MinTrustScore
	}
	if trustScore > MaxTrustScore {
		trustScore = MaxTrustScore
	}
	scaled := commissionSpan.Mul(decimal.NewFromInt(int64(trustScore))).Div(scoreRange)
	return maxCommission.Sub(scaled)
}

// Split divides a sale amount between seller and platform. The seller payout
// is floor(amount * (1 - commission)) so it is deterministic and reproducible;
// the platform leg absorbs any cent-rounding remainder, keeping
// seller + platform == amount exactly.
func Split(amountCents int64, commission decimal.Decimal) (sellerCents, platformCents int64) {
	sellerCents = decimal.NewFromInt(amountCents).Mul(one.Sub(commission)).Floor().IntPart()
	platformCents = amountCents - sellerCents
	return sellerCents, platformCents
}
