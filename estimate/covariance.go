package estimate

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/AndinetH/acado/gonumext"
)

var (
	// ErrUnderdetermined reports too few valid samples to estimate the
	// residual variance.
	ErrUnderdetermined = errors.New("estimate: fewer valid samples than parameters")
	// ErrIllConditioned reports a Jacobian too close to singular for a
	// meaningful covariance.
	ErrIllConditioned = errors.New("estimate: jacobian is ill conditioned")
)

// CovarianceOptions configure the linearized covariance estimation.
type CovarianceOptions struct {
	// NoiseVariance, when positive, is used as σ² instead of estimating
	// it from the final residual.
	NoiseVariance float64
	// MaxCondition is the Jacobian condition number beyond which the
	// covariance is reported as unavailable. Defaults to 1e12.
	MaxCondition float64
}

// Covariance computes the linearized parameter covariance
//
// σ² (JᵀJ)⁻¹
//
// at the final iterate, with σ² = ‖r‖²/(m-n) estimated from the residual
// unless supplied externally. m is the number of stacked valid samples and
// n the number of estimated parameters. Fewer samples than parameters
// leave JᵀJ singular, so that case is rejected even when σ² is supplied;
// the thin SVD of a wide Jacobian would otherwise hide the zero singular
// values from the condition check.
func Covariance(lin *Linearization, opts CovarianceOptions) (*mat.SymDense, error) {
	m, n := lin.Jacobian.Dims()
	if m < n {
		return nil, fmt.Errorf("%w: %d samples, %d parameters", ErrUnderdetermined, m, n)
	}
	if gonumext.NaNOrInf(lin.Jacobian) {
		return nil, fmt.Errorf("%w: jacobian contains NaN or Inf", ErrIllConditioned)
	}
	maxCondition := opts.MaxCondition
	if maxCondition <= 0 {
		maxCondition = 1e12
	}

	sigma2 := opts.NoiseVariance
	if sigma2 <= 0 {
		if m == n {
			return nil, fmt.Errorf("%w: %d samples, %d parameters", ErrUnderdetermined, m, n)
		}
		sigma2 = mat.Dot(lin.Residual, lin.Residual) / float64(m-n)
	}

	var svd mat.SVD
	if !svd.Factorize(lin.Jacobian, mat.SVDThin) {
		return nil, ErrIllConditioned
	}
	values := svd.Values(nil)
	smallest := values[len(values)-1]
	if smallest <= 0 || values[0]/smallest > maxCondition {
		return nil, fmt.Errorf("%w: condition number %.3g", ErrIllConditioned, values[0]/smallest)
	}

	// (JᵀJ)⁻¹ = V Σ⁻² Vᵀ keeps the result symmetric by construction.
	var v mat.Dense
	svd.VTo(&v)
	cov := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			var sum float64
			for k := range values {
				sum += v.At(i, k) * v.At(j, k) / (values[k] * values[k])
			}
			cov.SetSym(i, j, sigma2*sum)
		}
	}
	return cov, nil
}

// StdDev returns the per-parameter standard deviations, the square roots
// of the covariance diagonal. Negative round-off on the diagonal clamps
// to zero.
func StdDev(cov *mat.SymDense) []float64 {
	n := cov.SymmetricDim()
	res := make([]float64, n)
	for i := range res {
		d := cov.At(i, i)
		if d < 0 {
			d = 0
		}
		res[i] = math.Sqrt(d)
	}
	return res
}

// Interval is a symmetric confidence interval around a point estimate.
type Interval struct {
	Lower, Upper float64
}

// ConfidenceIntervals returns per-parameter normal-approximation intervals
// at the given level, e.g. 0.95.
func ConfidenceIntervals(params mat.Vector, cov *mat.SymDense, level float64) []Interval {
	std := StdDev(cov)
	q := distuv.Normal{Mu: 0, Sigma: 1}.Quantile(0.5 + level/2)
	res := make([]Interval, len(std))
	for i := range res {
		res[i] = Interval{
			Lower: params.AtVec(i) - q*std[i],
			Upper: params.AtVec(i) + q*std[i],
		}
	}
	return res
}
