package utils

import "math"

// Round rounds a value to 2 decimal places for reported metrics
func Round(val float64) float64 {
	return math.Round(val*100) / 100
}
