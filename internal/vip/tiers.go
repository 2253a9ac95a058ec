package vip

import (
	"math/big"

	fixed "perpkeeper/internal/math"
)

// MaxLevel is the highest fee tier.
const MaxLevel = 4

// tierThresholds holds the cumulative volume (1e18 fixed-point quote
// units) required to reach each level above 0.
var tierThresholds = []*big.Int{
	fixed.WadFromInt(1000), // level 1
	fixed.WadFromInt(2000), // level 2
	fixed.WadFromInt(5000), // level 3
	fixed.WadFromInt(8000), // level 4
}

// tierFeeBps maps each level to its taker fee in basis points.
var tierFeeBps = []int64{10, 9, 8, 6, 5}

// LevelForVolume returns the tier a trader's cumulative volume entitles
// them to.
func LevelForVolume(volume *big.Int) int {
	level := 0
	for i, threshold := range tierThresholds {
		if volume.Cmp(threshold) >= 0 {
			level = i + 1
		}
	}
	return level
}

// FeeBpsForLevel returns the taker fee for a tier. Out-of-range levels
// clamp to the nearest defined tier.
func FeeBpsForLevel(level int) int64 {
	if level < 0 {
		level = 0
	}
	if level > MaxLevel {
		level = MaxLevel
	}
	return tierFeeBps[level]
}

// ThresholdForLevel returns the cumulative volume needed for a level;
// level 0 needs none.
func ThresholdForLevel(level int) *big.Int {
	if level <= 0 {
		return new(big.Int)
	}
	if level > MaxLevel {
		level = MaxLevel
	}
	return new(big.Int).Set(tierThresholds[level-1])
}

// VolumeToNext returns how much more volume reaches the next level, or
// zero at the top tier.
func VolumeToNext(volume *big.Int) *big.Int {
	level := LevelForVolume(volume)
	if level >= MaxLevel {
		return new(big.Int)
	}
	remaining := new(big.Int).Sub(tierThresholds[level], volume)
	if remaining.Sign() < 0 {
		return new(big.Int)
	}
	return remaining
}
