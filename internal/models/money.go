package models

import "math"

// Balances are stored as int64 counts of the smallest currency unit.
// Floats only appear at the API boundary, where amounts are decimal.
const minorUnitsPerMajor = 100

// ToMinorUnits converts a decimal boundary amount to minor units.
func ToMinorUnits(amount float64) int64 {
	return int64(math.Round(amount * minorUnitsPerMajor))
}

// FromMinorUnits converts a stored amount back to a decimal for display.
func FromMinorUnits(minor int64) float64 {
	return float64(minor) / minorUnitsPerMajor
}
