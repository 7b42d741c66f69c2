// Package ode implements explicit Runge-Kutta methods
// https://en.wikipedia.org/wiki/Runge–Kutta_methods for the initial value
// problems arising when evaluating dynamic models.
package ode

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/AndinetH/acado/gonumext"
)

// DifferentiableSystem supplies the right hand side of x'(t) = f(t, x(t)).
type DifferentiableSystem interface {
	Derivative(t float64, state mat.Vector) mat.Vector
}

var (
	// ErrDiverged reports a state that left the representable range.
	ErrDiverged = errors.New("ode: state diverged (NaN or Inf)")
	// ErrStepCollapse reports that the adaptive driver could not meet the
	// error tolerance before the step size vanished.
	ErrStepCollapse = errors.New("ode: step size collapsed before tolerance was met")
)

// StepError carries the time at which an integration failed.
type StepError struct {
	Time    float64
	Wrapped error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%v at t=%v", e.Wrapped, e.Time)
}

func (e *StepError) Unwrap() error { return e.Wrapped }

// States whose infinity norm exceeds this limit count as diverged even
// before they overflow.
const blowUpLimit = 1e12

// butcherTableau describes the approximate solution, see
// https://en.wikipedia.org/wiki/Runge–Kutta_methods.
type butcherTableau struct {
	stages           int
	weights          [][]float64
	nodes            []float64
	rungeKuttaMatrix [][]float64
}

// RungeKutta holds the butcherTableau which describes the Runge Kutta method.
type RungeKutta struct {
	Description butcherTableau
}

// step advances value in place from t=from to t=to in a single Runge-Kutta
// step and returns the local error estimate when the tableau carries an
// embedded lower order solution.
func (rk RungeKutta) step(from, to float64, value *mat.VecDense, system DifferentiableSystem) (float64, error) {
	m := value.Len()
	h := to - from

	// The precomputed derivative points
	K := make([]mat.Vector, rk.Description.stages)
	var tmp mat.VecDense
	for index := range K {
		tmp.CloneFromVec(value)
		// Combine previously computed derivative points according to the
		// Butcher tableau.
		for index2, a := range rk.Description.rungeKuttaMatrix[index] {
			if a != 0 {
				tmp.AddScaledVec(&tmp, h*a, K[index2])
			}
		}
		K[index] = system.Derivative(from+h*rk.Description.nodes[index], &tmp)
	}

	errVec := mat.NewVecDense(m, nil)
	for index, k := range K {
		value.AddScaledVec(value, h*rk.Description.weights[0][index], k)
		// Tableaus with a second weight row allow error estimation.
		if len(rk.Description.weights) == 2 {
			errVec.AddScaledVec(errVec, h*(rk.Description.weights[1][index]-rk.Description.weights[0][index]), k)
		}
	}

	if gonumext.NaNOrInf(value) || mat.Norm(value, math.Inf(1)) > blowUpLimit {
		return 0, &StepError{Time: to, Wrapped: ErrDiverged}
	}

	localErr := 0.
	for index := 0; index < m; index++ {
		localErr += math.Abs(errVec.AtVec(index))
	}
	return localErr, nil
}

// FixedStep advances value from t=from to t=to in the given number of equal
// substeps. The stepping rule is fixed, so repeated calls with identical
// inputs produce bit-identical results.
func (rk RungeKutta) FixedStep(from, to float64, steps int, value *mat.VecDense, system DifferentiableSystem) error {
	if steps < 1 {
		steps = 1
	}
	h := (to - from) / float64(steps)
	for step := 0; step < steps; step++ {
		tnow := from + float64(step)*h
		if _, err := rk.step(tnow, tnow+h, value, system); err != nil {
			return err
		}
	}
	return nil
}

// Adaptive advances value from t=from to t=to such that the local error
// estimate never exceeds tol, halving the target interval whenever the
// estimate is exceeded.
func (rk RungeKutta) Adaptive(from, to, tol float64, value *mat.VecDense, system DifferentiableSystem) error {
	// Max number of halvings over the whole integration
	const maxNumberOfIterations int = 10000

	var (
		trial mat.VecDense
		count int
	)

	tnow := from
	for tnow < to {
		// Set target time
		tnext := to
		// Repeat until target error is reached
		for {
			trial.CloneFromVec(value)
			currentError, err := rk.step(tnow, tnext, &trial, system)
			if err != nil {
				return err
			}
			if currentError < tol {
				break
			}
			// Half the integration interval and try again
			tnext = (tnext-tnow)/2. + tnow
			if !(tnext > tnow) {
				return &StepError{Time: tnow, Wrapped: ErrStepCollapse}
			}
			count++
			if count >= maxNumberOfIterations {
				return &StepError{Time: tnow, Wrapped: ErrStepCollapse}
			}
		}
		value.CopyVec(&trial)
		tnow = tnext
	}
	return nil
}

// NewRK4 function returns a forth order Runge-Kutta object
func NewRK4() *RungeKutta {
	var temp butcherTableau
	temp.stages = 4
	temp.nodes = []float64{0, 1. / 2., 1. / 2., 1}
	temp.weights = [][]float64{{1. / 6., 1. / 3., 1. / 3., 1. / 6.}}
	temp.rungeKuttaMatrix = [][]float64{
		nil,
		{1. / 2.},
		{0, 1. / 2.},
		{0, 0, 1.},
	}
	return &RungeKutta{temp}
}

// NewEulerMethod returns a pointer to a Runge-Kutta that does the Euler method.
func NewEulerMethod() *RungeKutta {
	var temp butcherTableau
	temp.stages = 1
	temp.nodes = []float64{0}
	temp.weights = [][]float64{{1}}
	temp.rungeKuttaMatrix = [][]float64{nil}
	return &RungeKutta{temp}
}

// NewFehlberg45 implements https://en.wikipedia.org/wiki/Runge%E2%80%93Kutta%E2%80%93Fehlberg_method
func NewFehlberg45() *RungeKutta {
	var temp butcherTableau
	temp.stages = 6
	temp.nodes = []float64{0, 1. / 4., 3. / 8., 12. / 13., 1., 1. / 2.}
	temp.weights = [][]float64{
		{16. / 135., 0, 6656. / 12825., 28561. / 56430., -9. / 50., 2. / 55.},
		{25. / 216., 0, 1408. / 2565., 2197. / 4104., -1. / 5., 0},
	}
	temp.rungeKuttaMatrix = [][]float64{
		nil,
		{1. / 4.},
		{3. / 32., 9. / 32.},
		{1932. / 2197., -7200. / 2197., 7296. / 2197.},
		{439. / 216., -8., 3680. / 513., -845. / 4104.},
		{-8. / 27., 2, -3544. / 2565., 1859. / 4104., -11. / 40.},
	}
	return &RungeKutta{temp}
}
