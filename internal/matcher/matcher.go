// Package matcher compares face descriptors against an enrolled gallery.
package matcher

import "math"

// Distance is the Euclidean distance between two descriptors.
// Descriptors of different length are infinitely far apart.
func Distance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return math.Inf(1)
	}
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

// MeanDescriptor averages descriptors of equal length. Nil if empty or ragged.
func MeanDescriptor(descriptors [][]float32) []float32 {
	if len(descriptors) == 0 {
		return nil
	}
	dim := len(descriptors[0])
	sum := make([]float64, dim)
	for _, d := range descriptors {
		if len(d) != dim {
			return nil
		}
		for i, v := range d {
			sum[i] += float64(v)
		}
	}
	mean := make([]float32, dim)
	n := float64(len(descriptors))
	for i := range sum {
		mean[i] = float32(sum[i] / n)
	}
	return mean
}

// Profile is one enrolled identity as seen by the matcher.
type Profile struct {
	ID          string
	Descriptors [][]float32
	// Mean, when set, is compared instead of every descriptor.
	Mean []float32
}

// Gallery is an immutable set of profiles. Build one with NewGallery and pass
// it to MatchFace; the matcher keeps no state of its own.
type Gallery struct {
	profiles []Profile
}

// NewGallery deep-copies profiles so later caller mutation cannot leak in.
func NewGallery(profiles ...Profile) Gallery {
	g := Gallery{profiles: make([]Profile, 0, len(profiles))}
	for _, p := range profiles {
		cp := Profile{ID: p.ID, Mean: cloneVec(p.Mean)}
		cp.Descriptors = make([][]float32, len(p.Descriptors))
		for i, d := range p.Descriptors {
			cp.Descriptors[i] = cloneVec(d)
		}
		g.profiles = append(g.profiles, cp)
	}
	return g
}

func (g Gallery) Len() int { return len(g.profiles) }

// Match is the best candidate for a query.
type Match struct {
	Matched   bool
	ProfileID string
	Distance  float64
}

// MatchFace finds the globally closest descriptor across the gallery.
// Matched is true only when that distance is strictly below threshold.
// An empty gallery yields an unmatched result at +Inf.
func MatchFace(g Gallery, query []float32, threshold float64) Match {
	best := Match{Distance: math.Inf(1)}
	for _, p := range g.profiles {
		if len(p.Mean) > 0 {
			if d := Distance(p.Mean, query); d < best.Distance {
				best.Distance, best.ProfileID = d, p.ID
			}
			continue
		}
		for _, desc := range p.Descriptors {
			if d := Distance(desc, query); d < best.Distance {
				best.Distance, best.ProfileID = d, p.ID
			}
		}
	}
	best.Matched = best.Distance < threshold
	return best
}

// MinDistance returns the smallest distance from query to any of set, +Inf if set is empty.
func MinDistance(set [][]float32, query []float32) float64 {
	best := math.Inf(1)
	for _, d := range set {
		if dist := Distance(d, query); dist < best {
			best = dist
		}
	}
	return best
}

func cloneVec(v []float32) []float32 {
	if v == nil {
		return nil
	}
	out := make([]float32, len(v))
	copy(out, v)
	return out
}
