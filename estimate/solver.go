package estimate

import (
	"errors"
	"fmt"
	"math"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/AndinetH/acado/gonumext"
	"github.com/AndinetH/acado/model"
)

// Status is the terminal state of a Gauss-Newton run.
type Status int

const (
	// Converged means the stationarity or step tolerance was met.
	Converged Status = iota
	// Diverged means integration kept failing after exhausting the
	// backtracking budget.
	Diverged
	// MaxIterExceeded means the iteration cap was hit before convergence.
	// Point estimates are still returned.
	MaxIterExceeded
)

func (s Status) String() string {
	switch s {
	case Converged:
		return "converged"
	case Diverged:
		return "diverged"
	case MaxIterExceeded:
		return "max iterations exceeded"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// Record is one convergence-log entry.
type Record struct {
	Iteration    int
	Stationarity float64
	Objective    float64
}

// Options configure the Gauss-Newton iteration.
type Options struct {
	// MaxIter caps the number of iterations. Defaults to 50.
	MaxIter int
	// StationarityTol stops the iteration once ‖Jᵀr‖∞ falls below it.
	// Defaults to 1e-6.
	StationarityTol float64
	// StepTol stops the iteration once ‖Δp‖∞ falls below it. Defaults to
	// 1e-12.
	StepTol float64
	// Damping is the λ in the step system (JᵀJ + λI)Δp = -Jᵀr. Zero gives
	// the pure Gauss-Newton step.
	Damping float64
	// MaxBacktracks bounds the step halvings after an integration failure.
	// Defaults to 8.
	MaxBacktracks int
	// Lower and Upper are optional box constraints on the estimated
	// vector. Iterates are clipped back into the box after every step.
	Lower, Upper []float64
	// Covariance configures the post-fit covariance estimation.
	Covariance CovarianceOptions
	// Logger receives one debug entry per iteration.
	Logger logrus.FieldLogger
}

// Result is the outcome of a Gauss-Newton run. Degraded outcomes are
// tagged, never silent: a non-Converged Status or a CovarianceErr always
// accompanies the affected fields.
type Result struct {
	Status     Status
	Params     *mat.VecDense
	Objective  float64
	Iterations int
	Records    []Record
	// Final is the linearization at the returned parameters.
	Final *Linearization
	// Covariance is the linearized parameter covariance; nil when
	// CovarianceErr reports why it is unavailable.
	Covariance    *mat.SymDense
	StdDev        []float64
	CovarianceErr error
}

// Solve runs the projected Gauss-Newton iteration on problem from guess.
//
// Each iteration linearizes the problem, solves the damped normal
// equations for a step, clips the candidate into the box constraints and
// accepts it. An integration failure at the candidate halves the step up
// to Options.MaxBacktracks times before the run stops as Diverged. The
// accepted candidate's linearization carries over to the next iteration,
// so re-running from a converged iterate performs zero further steps.
func Solve(problem Problem, guess mat.Vector, opts Options) (*Result, error) {
	n := problem.Dim()
	if guess == nil || guess.Len() != n {
		return nil, fmt.Errorf("estimate: guess length does not match problem dimension %d", n)
	}
	if err := checkBounds(opts.Lower, opts.Upper, n); err != nil {
		return nil, err
	}
	opts = withDefaults(opts)
	log := opts.Logger
	if log == nil {
		quiet := logrus.New()
		quiet.SetLevel(logrus.ErrorLevel)
		log = quiet
	}

	params := mat.NewVecDense(n, nil)
	params.CloneFromVec(guess)
	project(params, opts.Lower, opts.Upper)

	lin, err := problem.Evaluate(params)
	if err != nil {
		return nil, fmt.Errorf("estimate: evaluation at the initial guess failed: %w", err)
	}

	var records []Record
	for iter := 0; iter < opts.MaxIter; iter++ {
		grad := gradient(lin)
		stationarity := floats.Norm(grad.RawVector().Data, math.Inf(1))
		objective := lin.Objective()
		records = append(records, Record{Iteration: iter, Stationarity: stationarity, Objective: objective})
		log.WithFields(logrus.Fields{
			"iteration":    iter,
			"stationarity": stationarity,
			"objective":    objective,
		}).Debug("gauss-newton iteration")

		if stationarity <= opts.StationarityTol {
			return finish(Converged, params, lin, records, iter, opts)
		}

		step, err := solveStep(lin, grad, opts.Damping)
		if err != nil {
			return nil, fmt.Errorf("estimate: step solve failed: %w", err)
		}

		candidate := mat.NewVecDense(n, nil)
		var next *Linearization
		accepted := false
		for try := 0; try <= opts.MaxBacktracks; try++ {
			candidate.AddVec(params, step)
			project(candidate, opts.Lower, opts.Upper)
			next, err = problem.Evaluate(candidate)
			if err == nil {
				accepted = true
				break
			}
			if !errors.Is(err, model.ErrIntegration) {
				return nil, err
			}
			log.WithFields(logrus.Fields{"iteration": iter, "backtrack": try}).
				Debug("candidate rejected, halving step")
			step.ScaleVec(0.5, step)
		}
		if !accepted {
			return finish(Diverged, params, lin, records, iter+1, opts)
		}

		var delta mat.VecDense
		delta.SubVec(candidate, params)
		params.CopyVec(candidate)
		lin = next
		if floats.Norm(delta.RawVector().Data, math.Inf(1)) <= opts.StepTol {
			return finish(Converged, params, lin, records, iter+1, opts)
		}
	}
	return finish(MaxIterExceeded, params, lin, records, opts.MaxIter, opts)
}

func withDefaults(opts Options) Options {
	if opts.MaxIter <= 0 {
		opts.MaxIter = 50
	}
	if opts.StationarityTol <= 0 {
		opts.StationarityTol = 1e-6
	}
	if opts.StepTol <= 0 {
		opts.StepTol = 1e-12
	}
	if opts.MaxBacktracks <= 0 {
		opts.MaxBacktracks = 8
	}
	return opts
}

func finish(status Status, params *mat.VecDense, lin *Linearization, records []Record, iterations int, opts Options) (*Result, error) {
	res := &Result{
		Status:     status,
		Params:     params,
		Objective:  lin.Objective(),
		Iterations: iterations,
		Records:    records,
		Final:      lin,
	}
	if status == Diverged {
		res.CovarianceErr = fmt.Errorf("estimate: no covariance for a diverged run")
		return res, nil
	}
	cov, err := Covariance(lin, opts.Covariance)
	if err != nil {
		res.CovarianceErr = err
		return res, nil
	}
	res.Covariance = cov
	res.StdDev = StdDev(cov)
	return res, nil
}

// gradient returns Jᵀr.
func gradient(lin *Linearization) *mat.VecDense {
	_, n := lin.Jacobian.Dims()
	g := mat.NewVecDense(n, nil)
	g.MulVec(lin.Jacobian.T(), lin.Residual)
	return g
}

// solveStep solves (JᵀJ + λI)Δ = -Jᵀr. A near-singular system still
// yields a usable descent direction, so gonum's Condition warning is
// tolerated.
func solveStep(lin *Linearization, grad *mat.VecDense, damping float64) (*mat.VecDense, error) {
	_, n := lin.Jacobian.Dims()
	var a mat.Dense
	a.Mul(lin.Jacobian.T(), lin.Jacobian)
	if damping > 0 {
		var reg mat.Dense
		reg.Scale(damping, gonumext.Eye(n, n, 0))
		a.Add(&a, &reg)
	}
	b := mat.NewVecDense(n, nil)
	b.ScaleVec(-1, grad)
	step := mat.NewVecDense(n, nil)
	if err := step.SolveVec(&a, b); err != nil {
		if _, ok := err.(mat.Condition); !ok {
			return nil, err
		}
	}
	return step, nil
}

func project(p *mat.VecDense, lower, upper []float64) {
	for i := 0; i < p.Len(); i++ {
		v := p.AtVec(i)
		if lower != nil && v < lower[i] {
			v = lower[i]
		}
		if upper != nil && v > upper[i] {
			v = upper[i]
		}
		p.SetVec(i, v)
	}
}

func checkBounds(lower, upper []float64, n int) error {
	if lower != nil && len(lower) != n {
		return fmt.Errorf("estimate: %d lower bounds for %d parameters", len(lower), n)
	}
	if upper != nil && len(upper) != n {
		return fmt.Errorf("estimate: %d upper bounds for %d parameters", len(upper), n)
	}
	if lower == nil || upper == nil {
		return nil
	}
	for i := range lower {
		if lower[i] > upper[i] {
			return fmt.Errorf("estimate: bound %d: lower %v above upper %v", i, lower[i], upper[i])
		}
	}
	return nil
}
