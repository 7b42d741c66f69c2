package model

import (
	"errors"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"github.com/AndinetH/acado/ode"
)

// ErrIntegration reports that integrating the model or one of its
// variational systems diverged. Callers may retry with a smaller step.
var ErrIntegration = errors.New("model: integration failure")

// Substeps per grid interval when the caller does not choose.
const defaultSubsteps = 16

// Evaluator integrates a model over a time grid and produces the outputs
// and output sensitivities needed for residual assembly.
type Evaluator struct {
	Dynamics    Dynamics
	Observation Observation
	// Integrator defaults to the classic fourth order Runge-Kutta method.
	Integrator *ode.RungeKutta
	// Substeps is the number of fixed integration substeps per grid
	// interval. The fixed rule keeps evaluations bit-reproducible.
	Substeps int
	// Workers bounds the concurrent sensitivity integrations. Defaults to
	// the number of CPUs.
	Workers int
}

// Evaluation holds the trajectory, outputs and sensitivities at every grid
// time. Sens[i] is the Channels x (ParamDim+StateDim) matrix
// d y(t_i) / d (params, x0) with the parameter columns first.
type Evaluation struct {
	Times   []float64
	States  *mat.Dense
	Outputs *mat.Dense
	Sens    []*mat.Dense
}

// Evaluate integrates the model from the first grid time through the last,
// starting at x0 with the given parameters. The grid must be sorted and
// free of duplicates. One variational system per parameter and
// initial-state direction propagates the sensitivities; the directions are
// independent and run concurrently, joined before assembly.
func (ev *Evaluator) Evaluate(grid []float64, x0, params mat.Vector) (*Evaluation, error) {
	if len(grid) == 0 {
		return nil, errors.New("model: empty time grid")
	}
	for i := 1; i < len(grid); i++ {
		if grid[i] <= grid[i-1] {
			return nil, fmt.Errorf("model: time grid not strictly increasing at index %d", i)
		}
	}
	n := ev.Dynamics.StateDim()
	np := ev.Dynamics.ParamDim()
	if x0.Len() != n {
		return nil, fmt.Errorf("model: initial state length %d, state dimension %d", x0.Len(), n)
	}
	if params.Len() != np {
		return nil, fmt.Errorf("model: parameter length %d, parameter dimension %d", params.Len(), np)
	}
	ny := ev.Observation.Channels()

	integ := ev.Integrator
	if integ == nil {
		integ = ode.NewRK4()
	}
	steps := ev.Substeps
	if steps < 1 {
		steps = defaultSubsteps
	}

	// Nominal trajectory.
	states := mat.NewDense(len(grid), n, nil)
	state := mat.NewVecDense(n, nil)
	state.CloneFromVec(x0)
	sys := rhs{dyn: ev.Dynamics, params: params}
	for i, t := range grid {
		if i > 0 {
			if err := integ.FixedStep(grid[i-1], t, steps, state, sys); err != nil {
				return nil, fmt.Errorf("%w: trajectory: %v", ErrIntegration, err)
			}
		}
		states.SetRow(i, vecData(state))
	}

	// One augmented system per direction. Each direction re-integrates the
	// trajectory alongside its sensitivity column, which keeps the
	// directions free of shared mutable state.
	dirs := np + n
	stateSens := make([]*mat.Dense, len(grid))
	for i := range stateSens {
		stateSens[i] = mat.NewDense(n, dirs, nil)
	}

	var grp errgroup.Group
	workers := ev.Workers
	if workers < 1 {
		workers = runtime.NumCPU()
	}
	grp.SetLimit(workers)
	for dir := 0; dir < dirs; dir++ {
		dir := dir
		grp.Go(func() error {
			aug := mat.NewVecDense(2*n, nil)
			for i := 0; i < n; i++ {
				aug.SetVec(i, x0.AtVec(i))
			}
			if dir >= np {
				// Initial-state direction: s(t0) = e_dir.
				aug.SetVec(n+(dir-np), 1)
			}
			vsys := variational{dyn: ev.Dynamics, params: params, dir: dir}
			for i, t := range grid {
				if i > 0 {
					if err := integ.FixedStep(grid[i-1], t, steps, aug, vsys); err != nil {
						return fmt.Errorf("%w: sensitivity direction %d: %v", ErrIntegration, dir, err)
					}
				}
				for row := 0; row < n; row++ {
					stateSens[i].Set(row, dir, aug.AtVec(n+row))
				}
			}
			return nil
		})
	}
	if err := grp.Wait(); err != nil {
		return nil, err
	}

	// Map states and state sensitivities through the observation.
	outputs := mat.NewDense(len(grid), ny, nil)
	sens := make([]*mat.Dense, len(grid))
	for i, t := range grid {
		x := states.RowView(i)
		y := ev.Observation.Observe(t, x)
		for c := 0; c < ny; c++ {
			outputs.Set(i, c, y.AtVec(c))
		}
		sens[i] = mat.NewDense(ny, dirs, nil)
		sens[i].Mul(ev.Observation.StateJacobian(t, x), stateSens[i])
	}

	return &Evaluation{
		Times:   append([]float64(nil), grid...),
		States:  states,
		Outputs: outputs,
		Sens:    sens,
	}, nil
}

// rhs fixes the parameters of a Dynamics for the ode integrator.
type rhs struct {
	dyn    Dynamics
	params mat.Vector
}

func (s rhs) Derivative(t float64, state mat.Vector) mat.Vector {
	return s.dyn.Derivative(t, state, s.params)
}

// variational augments the state with one sensitivity column s and
// propagates the variational equation
//
// s'(t) = (df/dx) s(t) + (df/dp) e_dir
//
// alongside the trajectory. Initial-state directions drop the df/dp term.
type variational struct {
	dyn    Dynamics
	params mat.Vector
	dir    int
}

func (s variational) Derivative(t float64, aug mat.Vector) mat.Vector {
	n := s.dyn.StateDim()
	np := s.dyn.ParamDim()
	x := subVector(aug, 0, n)
	sv := subVector(aug, n, n)

	dx := s.dyn.Derivative(t, x, s.params)
	var ds mat.VecDense
	ds.MulVec(s.dyn.StateJacobian(t, x, s.params), sv)
	if s.dir < np {
		jp := s.dyn.ParamJacobian(t, x, s.params)
		for i := 0; i < n; i++ {
			ds.SetVec(i, ds.AtVec(i)+jp.At(i, s.dir))
		}
	}

	res := mat.NewVecDense(2*n, nil)
	for i := 0; i < n; i++ {
		res.SetVec(i, dx.AtVec(i))
		res.SetVec(n+i, ds.AtVec(i))
	}
	return res
}

func subVector(v mat.Vector, from, n int) *mat.VecDense {
	res := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		res.SetVec(i, v.AtVec(from+i))
	}
	return res
}
