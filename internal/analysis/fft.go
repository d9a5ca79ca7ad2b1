package analysis

import (
	"fmt"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
)

// Spectrum returns the one-sided power spectrum of series sampled every dt
// seconds, mean removed. freqs are in Hz.
func Spectrum(series []float64, dt float64) (freqs, power []float64, err error) {
	n := len(series)
	if n < 2 || dt <= 0 {
		return nil, nil, fmt.Errorf("analysis: need at least 2 samples and positive dt, got %d and %g", n, dt)
	}

	var mean float64
	for _, x := range series {
		mean += x
	}
	mean /= float64(n)
	centered := make([]float64, n)
	for i, x := range series {
		centered[i] = x - mean
	}

	fft := fourier.NewFFT(n)
	coeffs := fft.Coefficients(nil, centered)
	freqs = make([]float64, len(coeffs))
	power = make([]float64, len(coeffs))
	for i, c := range coeffs {
		freqs[i] = fft.Freq(i) / dt
		a := cmplx.Abs(c)
		power[i] = a * a / float64(n)
	}
	return freqs, power, nil
}

// DominantFrequency is the frequency carrying the most power.
func DominantFrequency(series []float64, dt float64) (float64, error) {
	freqs, power, err := Spectrum(series, dt)
	if err != nil {
		return 0, err
	}
	best := 0
	for i := 1; i < len(power); i++ {
		if power[i] > power[best] {
			best = i
		}
	}
	return freqs[best], nil
}
