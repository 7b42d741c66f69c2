// Package model defines parameter dependent dynamic models and evaluates
// their trajectories together with first order sensitivities.
package model

import (
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"
)

// Dynamics is the right hand side of the ordinary differential equation
//
// x'(t) = f(t, x(t), p)
//
// together with its first derivatives with respect to states and
// parameters.
type Dynamics interface {
	Derivative(t float64, state, params mat.Vector) mat.Vector
	// StateJacobian returns df/dx evaluated at (t, state, params).
	StateJacobian(t float64, state, params mat.Vector) mat.Matrix
	// ParamJacobian returns df/dp evaluated at (t, state, params).
	ParamJacobian(t float64, state, params mat.Vector) mat.Matrix
	StateDim() int
	ParamDim() int
}

// Observation maps a state vector onto the measured channels
//
// y(t) = h(t, x(t))
type Observation interface {
	Observe(t float64, state mat.Vector) mat.Vector
	// StateJacobian returns dh/dx evaluated at (t, state).
	StateJacobian(t float64, state mat.Vector) mat.Matrix
	Channels() int
}

// Func wraps a plain right hand side closure into a Dynamics. The
// Jacobians are approximated with central finite differences, so models
// with cheap analytic derivatives should implement Dynamics directly.
type Func struct {
	N, P int
	F    func(t float64, state, params mat.Vector) mat.Vector
}

func (f Func) Derivative(t float64, state, params mat.Vector) mat.Vector {
	return f.F(t, state, params)
}

func (f Func) StateJacobian(t float64, state, params mat.Vector) mat.Matrix {
	jac := mat.NewDense(f.N, f.N, nil)
	fd.Jacobian(jac, func(dst, x []float64) {
		v := f.F(t, mat.NewVecDense(len(x), x), params)
		for i := range dst {
			dst[i] = v.AtVec(i)
		}
	}, vecData(state), &fd.JacobianSettings{Formula: fd.Central})
	return jac
}

func (f Func) ParamJacobian(t float64, state, params mat.Vector) mat.Matrix {
	jac := mat.NewDense(f.N, f.P, nil)
	fd.Jacobian(jac, func(dst, p []float64) {
		v := f.F(t, state, mat.NewVecDense(len(p), p))
		for i := range dst {
			dst[i] = v.AtVec(i)
		}
	}, vecData(params), &fd.JacobianSettings{Formula: fd.Central})
	return jac
}

func (f Func) StateDim() int { return f.N }
func (f Func) ParamDim() int { return f.P }

// LinearObservation observes y(t) = C x(t).
type LinearObservation struct {
	C mat.Matrix
}

// NewLinearObservation returns the observation y = Cx.
func NewLinearObservation(C mat.Matrix) *LinearObservation {
	return &LinearObservation{C: C}
}

func (o *LinearObservation) Observe(t float64, state mat.Vector) mat.Vector {
	m, _ := o.C.Dims()
	res := mat.NewVecDense(m, nil)
	res.MulVec(o.C, state)
	return res
}

func (o *LinearObservation) StateJacobian(t float64, state mat.Vector) mat.Matrix {
	return o.C
}

func (o *LinearObservation) Channels() int {
	m, _ := o.C.Dims()
	return m
}

func vecData(v mat.Vector) []float64 {
	data := make([]float64, v.Len())
	for i := range data {
		data[i] = v.AtVec(i)
	}
	return data
}
