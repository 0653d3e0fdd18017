// Package xmath holds small numeric helpers shared by the flight code.
package xmath

import "golang.org/x/exp/constraints"

// Constrain limits value to the [min, max] range.
func Constrain[T constraints.Integer | constraints.Float](value, min, max T) T {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

// MapRange maps a value from one range to another.
func MapRange[T constraints.Float](value, fromMin, fromMax, toMin, toMax T) T {
	return (value-fromMin)/(fromMax-fromMin)*(toMax-toMin) + toMin
}
