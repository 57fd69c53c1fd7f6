package align

// interWordGap is the nominal silence between interpolated words, in
// seconds.
const interWordGap = 0.05

// defaultWordDuration estimates a spoken duration from word length,
// clamped to [0.15, 0.5] seconds.
func defaultWordDuration(text string) float64 {
	d := float64(len([]rune(text))) * 0.06
	if d < 0.15 {
		return 0.15
	}
	if d > 0.5 {
		return 0.5
	}
	return d
}

// interpolateLine fills times for unanchored words. Words between two
// anchors share the gap linearly; words before the first anchor extend
// backward from it; words after the last anchor extend forward. A line
// with no anchors at all is laid out sequentially after prevEnd.
func interpolateLine(words []lineWord, prevEnd float64) {
	if len(words) == 0 {
		return
	}

	anchors := make([]int, 0, len(words))
	for i, w := range words {
		if w.anchored {
			anchors = append(anchors, i)
		}
	}

	if len(anchors) == 0 {
		cur := prevEnd + interWordGap
		for i := range words {
			d := defaultWordDuration(words[i].text)
			words[i].start = cur
			words[i].end = cur + d
			cur += d + interWordGap
		}
		return
	}

	// Backward extrapolation before the first anchor.
	cur := words[anchors[0]].start
	for i := anchors[0] - 1; i >= 0; i-- {
		end := cur - interWordGap
		start := end - defaultWordDuration(words[i].text)
		if start < 0 {
			start = 0
		}
		if end < start {
			end = start
		}
		words[i].start = start
		words[i].end = end
		cur = start
	}

	// Linear distribution between anchor pairs.
	for k := 0; k+1 < len(anchors); k++ {
		lo, hi := anchors[k], anchors[k+1]
		gapCount := hi - lo - 1
		if gapCount == 0 {
			continue
		}
		span := words[hi].start - words[lo].end
		if span < 0 {
			span = 0
		}
		slot := span / float64(gapCount)
		at := words[lo].end
		for i := lo + 1; i < hi; i++ {
			words[i].start = at
			words[i].end = at + slot*0.9
			at += slot
		}
	}

	// Forward extrapolation after the last anchor.
	cur = words[anchors[len(anchors)-1]].end
	for i := anchors[len(anchors)-1] + 1; i < len(words); i++ {
		d := defaultWordDuration(words[i].text)
		words[i].start = cur + interWordGap
		words[i].end = words[i].start + d
		cur = words[i].end
	}

	// Monotonicity repair over the whole line.
	prev := words[0].start
	for i := range words {
		if words[i].start < prev {
			words[i].start = prev
		}
		if words[i].end < words[i].start {
			words[i].end = words[i].start
		}
		prev = words[i].end
	}
}
