package math

import "math/big"

// Funding model constants. The hourly estimate uses a fixed interest-rate
// component and clamps the interest-premium adjustment so the estimate tracks
// the premium index outside the clamp band.
const (
	// FundingInterestRate is the fixed hourly interest component (0.01%).
	FundingInterestRate = 0.0001
	// FundingClampBound bounds the interest-premium adjustment (0.05%).
	FundingClampBound = 0.0005
)

// EstimateFundingRate derives the instantaneous hourly funding-rate estimate
// from mark/index divergence:
//
//	premium    = (mark - index) / index
//	adjustment = clamp(interestRate - premium, ±clampBound)
//	rate       = premium + adjustment
//
// Pure: equal inputs always produce an equal output. indexPrice == 0 yields 0.
func EstimateFundingRate(markPrice, indexPrice *big.Int) float64 {
	index := WadToFloat(indexPrice)
	if index <= 0 {
		return 0
	}
	mark := WadToFloat(markPrice)

	premium := (mark - index) / index
	adjustment := FundingInterestRate - premium
	if adjustment > FundingClampBound {
		adjustment = FundingClampBound
	}
	if adjustment < -FundingClampBound {
		adjustment = -FundingClampBound
	}
	return premium + adjustment
}
