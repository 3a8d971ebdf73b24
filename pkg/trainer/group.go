package trainer

// GroupByClass reorders a batch from the sampler's interleaved layout,
// utterance u of class c at u*classes+c, to the grouped layout the losses
// expect, utterance u of class c at c*perClass+u.
func GroupByClass[T any](flat []T, classes, perClass int) []T {
	out := make([]T, len(flat))
	for u := range perClass {
		for c := range classes {
			out[c*perClass+u] = flat[u*classes+c]
		}
	}
	return out
}

// InterleaveByClass is the inverse of GroupByClass.
func InterleaveByClass[T any](grouped []T, classes, perClass int) []T {
	out := make([]T, len(grouped))
	for c := range classes {
		for u := range perClass {
			out[u*classes+c] = grouped[c*perClass+u]
		}
	}
	return out
}

func split[T any](flat []T, classes, perClass int) [][]T {
	out := make([][]T, classes)
	for c := range classes {
		out[c] = flat[c*perClass : (c+1)*perClass]
	}
	return out
}

func flatten[T any](grouped [][]T) []T {
	var out []T
	for _, g := range grouped {
		out = append(out, g...)
	}
	return out
}
