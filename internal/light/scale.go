package light

import "math"

// MaxNative is the highest native brightness and saturation value.
const MaxNative = 254

// PercentToNative converts a 0-100 percentage to the native 0-254 scale.
func PercentToNative(percent int) int {
	return int(math.Round(MaxNative / 100.0 * float64(percent)))
}

// NativeToPercent converts a native 0-254 value to a 0-100 percentage.
func NativeToPercent(native int) int {
	return int(math.Round(100.0 / MaxNative * float64(native)))
}
