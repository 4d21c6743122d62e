// Package str provides small integer-to-string helpers used when building
// error messages on hot decode paths, avoiding a dependency on fmt's
// reflection-driven formatting for the common "append a number" case.
package str

import "strconv"

// Utod formats an unsigned integer as a decimal string.
func Utod[T ~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64](v T) string {
	return strconv.FormatUint(uint64(v), 10)
}

// Itod formats a signed integer as a decimal string.
func Itod[T ~int | ~int8 | ~int16 | ~int32 | ~int64](v T) string {
	return strconv.FormatInt(int64(v), 10)
}
