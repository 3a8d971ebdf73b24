package fbank

import "math"

// hammingWindow generates a symmetric Hamming window of length n.
func hammingWindow(n int) []float64 {
	w := make([]float64, n)
	if n == 1 {
		w[0] = 1
		return w
	}
	for i := range w {
		w[i] = 0.54 - 0.46*math.Cos(2*math.Pi*float64(i)/float64(n-1))
	}
	return w
}

// hzToMel converts frequency in Hz to the HTK mel scale.
func hzToMel(hz float64) float64 {
	return 2595.0 * math.Log10(1.0+hz/700.0)
}

// melToHz converts an HTK mel value back to Hz.
func melToHz(mel float64) float64 {
	return 700.0 * (math.Pow(10.0, mel/2595.0) - 1.0)
}

// melFilterBank returns numMels triangular filters over the fftSize/2+1
// power spectrum bins. Filter edges are placed on a uniform mel grid and
// weights are evaluated at the exact bin frequencies, so narrow low
// filters are not collapsed onto the same bin.
func melFilterBank(numMels, fftSize, sampleRate int, lowFreq, highFreq float64) [][]float64 {
	halfFFT := fftSize/2 + 1
	lowMel := hzToMel(lowFreq)
	step := (hzToMel(highFreq) - lowMel) / float64(numMels+1)

	edges := make([]float64, numMels+2)
	for i := range edges {
		edges[i] = melToHz(lowMel + float64(i)*step)
	}
	binHz := float64(sampleRate) / float64(fftSize)

	bank := make([][]float64, numMels)
	for m := range numMels {
		left, center, right := edges[m], edges[m+1], edges[m+2]
		filter := make([]float64, halfFFT)
		for k := range halfFFT {
			f := float64(k) * binHz
			switch {
			case f > left && f <= center:
				filter[k] = (f - left) / (center - left)
			case f > center && f < right:
				filter[k] = (right - f) / (right - center)
			}
		}
		bank[m] = filter
	}
	return bank
}
