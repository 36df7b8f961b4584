package controller

// BasePower maps the state of charge to a base charging request: the emptier
// the battery, the higher the request, linearly, bounded to [minW, maxW].
func BasePower(socPct float64, minW, maxW int) int {
	p := int(float64(maxW) * (1 - socPct/100))
	if p < minW {
		return minW
	}
	if p > maxW {
		return maxW
	}
	return p
}

// SoCTaper reduces charging power as the battery approaches full to limit
// high-current top-off stress. It is 1.0 up to 85% and ramps linearly down to
// 0.2 at 95%; the result is always within [0.2, 1.0].
func SoCTaper(socPct float64) float64 {
	f := 1.0 - 0.8*(socPct-85)/10
	if f > 1.0 {
		return 1.0
	}
	if f < 0.2 {
		return 0.2
	}
	return f
}

// PriceShapedPower scales the base request by the SoC factor and by how cheap
// the price is: the cheapest price (position 0) yields 100% of base, the most
// expensive 70%. The result never drops below floorW.
func PriceShapedPower(baseW int, relativePosition, socFactor float64, floorW int) int {
	p := int(float64(baseW) * socFactor * (0.7 + 0.3*(1-relativePosition)))
	if p < floorW {
		return floorW
	}
	return p
}
