// Package survey computes borehole positions from orientation surveys.
//
// Pitch is measured from horizontal, positive up, so a hole drilled
// straight down has a pitch of -90 degrees. Azimuth is clockwise from
// north. Depth grows downwards.
package survey

import "math"

// Station is the orientation at one survey point.
type Station struct {
	Azimuth Angle
	Pitch   Angle
}

// Delta is the position change over one course.
type Delta struct {
	North float64
	East  float64
	Depth float64
}

// Add returns the sum of two deltas.
func (d Delta) Add(d1 Delta) Delta {
	return Delta{North: d.North + d1.North, East: d.East + d1.East, Depth: d.Depth + d1.Depth}
}

// Sub returns d - d1.
func (d Delta) Sub(d1 Delta) Delta {
	return Delta{North: d.North - d1.North, East: d.East - d1.East, Depth: d.Depth - d1.Depth}
}

// Calculator derives the position change of a course of the given
// length between two stations.
type Calculator func(from, to Station, length float64) Delta

// AverageAngle assumes the course is straight along the mean of both
// station orientations.
func AverageAngle(from, to Station, length float64) Delta {
	az, pitch := from.Azimuth.Mean(to.Azimuth), from.Pitch.Mean(to.Pitch)
	horz := length * pitch.Cos()
	return Delta{
		North: horz * az.Cos(),
		East:  horz * az.Sin(),
		Depth: -length * pitch.Sin(),
	}
}

// MinimumCurvature assumes the course is a circular arc tangent to both
// station orientations.
func MinimumCurvature(from, to Station, length float64) Delta {
	// unit tangent vectors in north, east, down.
	t1 := tangent(from)
	t2 := tangent(to)
	dot := t1[0]*t2[0] + t1[1]*t2[1] + t1[2]*t2[2]
	dogleg := math.Acos(math.Max(-1, math.Min(1, dot)))
	rf := 1.0
	if dogleg > 1e-9 {
		rf = 2 / dogleg * math.Tan(dogleg/2)
	}
	half := length / 2 * rf
	return Delta{
		North: half * (t1[0] + t2[0]),
		East:  half * (t1[1] + t2[1]),
		Depth: half * (t1[2] + t2[2]),
	}
}

func tangent(s Station) [3]float64 {
	horz := s.Pitch.Cos()
	return [3]float64{horz * s.Azimuth.Cos(), horz * s.Azimuth.Sin(), -s.Pitch.Sin()}
}
