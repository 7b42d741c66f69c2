// Package estimate fits dynamic-model parameters to measured data with a
// projected Gauss-Newton iteration and derives linearized parameter
// statistics at the optimum.
package estimate

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/AndinetH/acado/measurement"
	"github.com/AndinetH/acado/model"
)

// Linearization is the residual vector and Jacobian of a problem at one
// iterate.
type Linearization struct {
	Residual *mat.VecDense
	Jacobian *mat.Dense
}

// Objective returns ½‖r‖².
func (l *Linearization) Objective() float64 {
	return 0.5 * mat.Dot(l.Residual, l.Residual)
}

// Problem produces residuals and Jacobians at a parameter vector.
type Problem interface {
	Evaluate(params mat.Vector) (*Linearization, error)
	Dim() int
}

// FitProblem stacks (prediction - measurement) residuals of a dynamic
// model over the valid samples of a measurement table. Rows are ordered by
// channel index, then time, so the residual layout is deterministic.
type FitProblem struct {
	Model *model.Evaluator
	Data  *measurement.Table
	// InitialState is the fixed initial state when EstimateInitialState is
	// false, and the unused remainder otherwise.
	InitialState *mat.VecDense
	// EstimateInitialState appends the initial state to the estimated
	// parameter vector.
	EstimateInitialState bool

	grid    []float64
	gridIdx map[float64]int
}

// NewFitProblem binds an evaluator to a measurement table. The table's
// channels must match the evaluator's observation. x0 is the initial state
// guess; when estimateInitialState is set it seeds the appended entries of
// the parameter vector instead of being held fixed.
func NewFitProblem(ev *model.Evaluator, data *measurement.Table, x0 mat.Vector, estimateInitialState bool) (*FitProblem, error) {
	if data.ChannelCount() != ev.Observation.Channels() {
		return nil, fmt.Errorf("estimate: table has %d channels, observation has %d",
			data.ChannelCount(), ev.Observation.Channels())
	}
	if data.ValidCount() == 0 {
		return nil, fmt.Errorf("estimate: table has no valid samples")
	}
	n := ev.Dynamics.StateDim()
	state := mat.NewVecDense(n, nil)
	if x0 != nil {
		if x0.Len() != n {
			return nil, fmt.Errorf("estimate: initial state length %d, state dimension %d", x0.Len(), n)
		}
		state.CloneFromVec(x0)
	}
	grid := data.TimeGrid()
	idx := make(map[float64]int, len(grid))
	for i, t := range grid {
		idx[t] = i
	}
	return &FitProblem{
		Model:                ev,
		Data:                 data,
		InitialState:         state,
		EstimateInitialState: estimateInitialState,
		grid:                 grid,
		gridIdx:              idx,
	}, nil
}

// Dim returns the number of estimated values: the model parameters,
// followed by the initial states when those are estimated too.
func (p *FitProblem) Dim() int {
	dim := p.Model.Dynamics.ParamDim()
	if p.EstimateInitialState {
		dim += p.Model.Dynamics.StateDim()
	}
	return dim
}

// Guess returns the combined starting vector for Solve: the given
// parameter guess, extended with the initial-state guess when the initial
// state is estimated.
func (p *FitProblem) Guess(params []float64) *mat.VecDense {
	data := append([]float64(nil), params...)
	if p.EstimateInitialState {
		for i := 0; i < p.InitialState.Len(); i++ {
			data = append(data, p.InitialState.AtVec(i))
		}
	}
	return mat.NewVecDense(len(data), data)
}

func (p *FitProblem) Evaluate(params mat.Vector) (*Linearization, error) {
	if params.Len() != p.Dim() {
		return nil, fmt.Errorf("estimate: parameter length %d, problem dimension %d", params.Len(), p.Dim())
	}
	np := p.Model.Dynamics.ParamDim()
	nx := p.Model.Dynamics.StateDim()

	modelParams := subVector(params, 0, np)
	x0 := p.InitialState
	if p.EstimateInitialState {
		x0 = subVector(params, np, nx)
	}

	eval, err := p.Model.Evaluate(p.grid, x0, modelParams)
	if err != nil {
		return nil, err
	}

	rows := p.Data.ValidCount()
	res := mat.NewVecDense(rows, nil)
	jac := mat.NewDense(rows, p.Dim(), nil)
	row := 0
	for c := 0; c < p.Data.ChannelCount(); c++ {
		for _, s := range p.Data.ValidSamples(c) {
			i := p.gridIdx[s.Time]
			res.SetVec(row, eval.Outputs.At(i, c)-s.Value)
			// Sensitivity columns are laid out parameters first, initial
			// states after, matching the estimated vector.
			for col := 0; col < p.Dim(); col++ {
				jac.Set(row, col, eval.Sens[i].At(c, col))
			}
			row++
		}
	}
	return &Linearization{Residual: res, Jacobian: jac}, nil
}

// InitStateFromData seeds initial-state entries from each channel's first
// valid sample where the observation maps the channel to exactly one state
// component. Entries no channel determines keep the supplied guess. The
// heuristic is opt-in; nothing is seeded implicitly. The table's channels
// must match the observation.
func InitStateFromData(guess mat.Vector, obs model.Observation, data *measurement.Table) (*mat.VecDense, error) {
	if data.ChannelCount() != obs.Channels() {
		return nil, fmt.Errorf("estimate: table has %d channels, observation has %d",
			data.ChannelCount(), obs.Channels())
	}
	res := mat.NewVecDense(guess.Len(), nil)
	res.CloneFromVec(guess)
	jac := obs.StateJacobian(0, res)
	for c := 0; c < data.ChannelCount(); c++ {
		valid := data.ValidSamples(c)
		if len(valid) == 0 {
			continue
		}
		hit, count := -1, 0
		for i := 0; i < guess.Len(); i++ {
			if jac.At(c, i) != 0 {
				hit = i
				count++
			}
		}
		if count == 1 {
			res.SetVec(hit, valid[0].Value/jac.At(c, hit))
		}
	}
	return res, nil
}

func subVector(v mat.Vector, from, n int) *mat.VecDense {
	res := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		res.SetVec(i, v.AtVec(from+i))
	}
	return res
}
