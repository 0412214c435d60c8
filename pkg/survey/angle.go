package survey

import "math"

// Angle is an angle in radians, normalized to [-Pi, Pi].
type Angle float64

// AngleFromDegrees creates Angle from degrees.
func AngleFromDegrees(d float64) Angle {
	return Angle(normalizeRadians(d * math.Pi / 180.0))
}

// AngleFromRadians creates Angle from radians.
func AngleFromRadians(r float64) Angle {
	return Angle(normalizeRadians(r))
}

// AngleFromTenths creates Angle from tenths of a degree.
func AngleFromTenths(t int32) Angle {
	return AngleFromDegrees(float64(t) / 10)
}

// Add adds an Angle.
func (a Angle) Add(a1 Angle) Angle {
	return Angle(normalizeRadians(float64(a) + float64(a1)))
}

// Sub returns the shortest signed difference a - a1.
func (a Angle) Sub(a1 Angle) Angle {
	return Angle(normalizeRadians(float64(a) - float64(a1)))
}

// Mean returns the angle halfway along the shortest arc from a to a1,
// so 359 and 1 degrees average to 0.
func (a Angle) Mean(a1 Angle) Angle {
	return a.Add(a1.Sub(a) / 2)
}

// Radians gets angle in radians.
func (a Angle) Radians() float64 {
	return float64(a)
}

// Degrees gets angle in degrees.
func (a Angle) Degrees() float64 {
	return float64(a) * 180 / math.Pi
}

// Compass gets angle in degrees within [0, 360).
func (a Angle) Compass() float64 {
	d := a.Degrees()
	if d < 0 {
		d += 360
	}
	return d
}

// Tenths gets compass degrees in tenths, rounded.
func (a Angle) Tenths() int32 {
	t := int32(math.Round(a.Compass() * 10))
	if t >= 3600 {
		t -= 3600
	}
	return t
}

// Cos wraps math.Cos.
func (a Angle) Cos() float64 {
	return math.Cos(float64(a))
}

// Sin wraps math.Sin.
func (a Angle) Sin() float64 {
	return math.Sin(float64(a))
}

func normalizeRadians(r float64) float64 {
	if r >= 2*math.Pi || r <= -2*math.Pi {
		r = math.Remainder(r, 2*math.Pi)
	}
	if r > math.Pi {
		r -= 2 * math.Pi
	} else if r < -math.Pi {
		r += 2 * math.Pi
	}
	return r
}
