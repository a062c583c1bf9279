package dynamics

import "math"

// CompressVector pools adjacent dimensions into buckets of size
// ceil(D/ceil(D*f)) and L2-renormalizes, per spec.md §4.7 step 3's cold
// vector compression. f is the decay factor from DecayStep: lower f (more
// decayed) yields a shorter output vector.
func CompressVector(vec []float32, f float64) []float32 {
	d := len(vec)
	if d == 0 {
		return nil
	}
	targetDims := int(math.Ceil(float64(d) * f))
	if targetDims < 1 {
		targetDims = 1
	}
	bucketSize := int(math.Ceil(float64(d) / float64(targetDims)))
	if bucketSize < 1 {
		bucketSize = 1
	}

	var pooled []float32
	for start := 0; start < d; start += bucketSize {
		end := start + bucketSize
		if end > d {
			end = d
		}
		var sum float32
		for _, v := range vec[start:end] {
			sum += v
		}
		pooled = append(pooled, sum/float32(end-start))
	}
	return l2Normalize(pooled)
}

func l2Normalize(vec []float32) []float32 {
	var sumSq float64
	for _, v := range vec {
		sumSq += float64(v) * float64(v)
	}
	norm := math.Sqrt(sumSq)
	if norm == 0 {
		return vec
	}
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = float32(float64(v) / norm)
	}
	return out
}

// ShouldCompress reports whether the Decay Worker should attempt vector
// compression for this decay factor (spec.md §4.7 step 3: f < 0.7).
func ShouldCompress(f float64) bool {
	return f < 0.7
}

// ShouldFingerprint reports whether compression should go further and
// replace the vector with a deterministic fingerprint (spec.md §4.7 step 3:
// f < max(0.3, coldThreshold)).
func ShouldFingerprint(f, coldThreshold float64) bool {
	floor := coldThreshold
	if floor < 0.3 {
		floor = 0.3
	}
	return f < floor
}

// SummaryTier is the compression level applied to a memory's generated
// summary (spec.md §4.7's summary compression policy).
type SummaryTier int

const (
	SummaryFull       SummaryTier = iota // f > 0.8: full summary truncated to 200 chars
	SummaryExtractive                    // f > 0.4: extractive top-N sentences, 80-200 chars
	SummaryKeywords                      // else: top-K keywords
)

// SummaryTierFor picks the compression tier for decay factor f.
func SummaryTierFor(f float64) SummaryTier {
	switch {
	case f > 0.8:
		return SummaryFull
	case f > 0.4:
		return SummaryExtractive
	default:
		return SummaryKeywords
	}
}
