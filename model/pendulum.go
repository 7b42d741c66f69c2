package model

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Pendulum is the classic estimation example: a damped pendulum whose
// length and friction coefficient are the unknown parameters.
//
// angle'    = velocity
//
// velocity' = -(g/l) sin(angle) - b velocity
//
// with states (angle, velocity) and parameters (l, b).
type Pendulum struct {
	Gravity float64
}

// NewPendulum returns a pendulum under standard gravity.
func NewPendulum() *Pendulum {
	return &Pendulum{Gravity: 9.81}
}

func (p *Pendulum) Derivative(t float64, state, params mat.Vector) mat.Vector {
	angle, velocity := state.AtVec(0), state.AtVec(1)
	length, friction := params.AtVec(0), params.AtVec(1)
	res := mat.NewVecDense(2, nil)
	res.SetVec(0, velocity)
	res.SetVec(1, -(p.Gravity/length)*math.Sin(angle)-friction*velocity)
	return res
}

func (p *Pendulum) StateJacobian(t float64, state, params mat.Vector) mat.Matrix {
	angle := state.AtVec(0)
	length, friction := params.AtVec(0), params.AtVec(1)
	return mat.NewDense(2, 2, []float64{
		0, 1,
		-(p.Gravity / length) * math.Cos(angle), -friction,
	})
}

func (p *Pendulum) ParamJacobian(t float64, state, params mat.Vector) mat.Matrix {
	angle, velocity := state.AtVec(0), state.AtVec(1)
	length := params.AtVec(0)
	return mat.NewDense(2, 2, []float64{
		0, 0,
		(p.Gravity / (length * length)) * math.Sin(angle), -velocity,
	})
}

func (p *Pendulum) StateDim() int { return 2 }
func (p *Pendulum) ParamDim() int { return 2 }
