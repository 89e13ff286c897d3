// Package utils holds small overflow-checking helpers used by the header
// package when a caller-supplied int must be validated before it's
// narrowed into a fixed-width wire field.
package utils

import "math"

// WouldOverflowUint32 checks that the value of type int is within bounds for uint32 and will not over or underflow.
func WouldOverflowUint32(value int) bool {
	return value < 0 || value > math.MaxUint32
}

// WouldOverflowUint8 checks that the value of type int is within bounds for uint8 and will not over or underflow.
func WouldOverflowUint8(value int) bool {
	return value < 0 || value > math.MaxUint8
}

// WouldOverflowUint16 checks that the value of type int is within bounds for uint16 and will not over or underflow.
func WouldOverflowUint16(value int) bool {
	return value < 0 || value > math.MaxUint16
}
