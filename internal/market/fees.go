package market

import "math/big"

const (
	// FeeBase is the implicit principal weight in the proceeds split.
	// Fee fractions are expressed in points over this base.
	FeeBase = 1000

	// MaxServiceFeePoints caps the operator's cut at 25/1000 (2.5%).
	MaxServiceFeePoints = 25
)

// SplitProceeds divides a gross sale price among seller, operator, and
// royalty recipient. With denominator d = FeeBase + servicePoints +
// royaltyPoints, the two fees are floor(gross*points/d) and the seller's
// net is the exact remainder.
//
// The three outputs always sum to gross. The net share is derived by
// subtraction rather than its own floored division so that rounding dust
// lands with the seller instead of leaking.
func SplitProceeds(gross *big.Int, servicePoints, royaltyPoints uint64) (serviceFee, royaltyFee, netToSeller *big.Int) {
	denom := new(big.Int).SetUint64(FeeBase + servicePoints + royaltyPoints)

	serviceFee = new(big.Int).Mul(gross, new(big.Int).SetUint64(servicePoints))
	serviceFee.Quo(serviceFee, denom)

	royaltyFee = new(big.Int).Mul(gross, new(big.Int).SetUint64(royaltyPoints))
	royaltyFee.Quo(royaltyFee, denom)

	netToSeller = new(big.Int).Sub(gross, serviceFee)
	netToSeller.Sub(netToSeller, royaltyFee)
	return serviceFee, royaltyFee, netToSeller
}
