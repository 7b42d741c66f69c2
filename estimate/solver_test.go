package estimate

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/AndinetH/acado/model"
)

// linearProblem is r(p) = A p - b, for which the Gauss-Newton step is
// exact and a single iteration reaches the least-squares solution.
type linearProblem struct {
	a *mat.Dense
	b *mat.VecDense
}

func (p *linearProblem) Dim() int {
	_, n := p.a.Dims()
	return n
}

func (p *linearProblem) Evaluate(params mat.Vector) (*Linearization, error) {
	m, n := p.a.Dims()
	r := mat.NewVecDense(m, nil)
	r.MulVec(p.a, params)
	r.SubVec(r, p.b)
	jac := mat.NewDense(m, n, nil)
	jac.Copy(p.a)
	return &Linearization{Residual: r, Jacobian: jac}, nil
}

// testProblem has the least-squares solution (1.5, 1.5).
func testProblem() *linearProblem {
	return &linearProblem{
		a: mat.NewDense(4, 2, []float64{
			1, 0,
			0, 1,
			1, 1,
			1, -1,
		}),
		b: mat.NewVecDense(4, []float64{1, 2, 3, 0.5}),
	}
}

func TestSolveLinearProblemInOneIteration(t *testing.T) {
	for _, start := range [][]float64{{0, 0}, {-5, 7}, {100, -100}} {
		res, err := Solve(testProblem(), mat.NewVecDense(2, start), Options{})
		require.NoError(t, err)

		assert.Equal(t, Converged, res.Status, "start %v", start)
		assert.Equal(t, 1, res.Iterations, "start %v", start)
		require.Len(t, res.Records, 2)
		assert.Less(t, res.Records[1].Stationarity, 1e-6,
			"stationarity below tolerance immediately after the step")
		assert.InDelta(t, 1.5, res.Params.AtVec(0), 1e-9)
		assert.InDelta(t, 1.5, res.Params.AtVec(1), 1e-9)
	}
}

func TestSolveIdempotentFromConvergedIterate(t *testing.T) {
	first, err := Solve(testProblem(), mat.NewVecDense(2, []float64{0, 0}), Options{})
	require.NoError(t, err)
	require.Equal(t, Converged, first.Status)

	again, err := Solve(testProblem(), first.Params, Options{})
	require.NoError(t, err)
	assert.Equal(t, Converged, again.Status)
	assert.Equal(t, 0, again.Iterations)
	assert.Len(t, again.Records, 1)
	assert.InDelta(t, first.Params.AtVec(0), again.Params.AtVec(0), 1e-12)
	assert.InDelta(t, first.Params.AtVec(1), again.Params.AtVec(1), 1e-12)
}

func TestSolveAttachesCovariance(t *testing.T) {
	res, err := Solve(testProblem(), mat.NewVecDense(2, []float64{0, 0}), Options{})
	require.NoError(t, err)
	require.NoError(t, res.CovarianceErr)
	require.NotNil(t, res.Covariance)

	// r* = (0.5, -0.5, 0, -0.5) gives σ² = 0.75/2 and JᵀJ = 3I.
	assert.InDelta(t, 0.125, res.Covariance.At(0, 0), 1e-9)
	assert.InDelta(t, 0.125, res.Covariance.At(1, 1), 1e-9)
	assert.InDelta(t, 0, res.Covariance.At(0, 1), 1e-9)
	require.Len(t, res.StdDev, 2)
	assert.InDelta(t, 0.3535533906, res.StdDev[0], 1e-6)
}

func TestSolveDampedStep(t *testing.T) {
	res, err := Solve(testProblem(), mat.NewVecDense(2, []float64{0, 0}), Options{Damping: 1e-8})
	require.NoError(t, err)

	// Small damping shortens the exact step by λ/(λ+3) and still converges.
	assert.Equal(t, Converged, res.Status)
	assert.InDelta(t, 1.5, res.Params.AtVec(0), 1e-6)
	assert.InDelta(t, 1.5, res.Params.AtVec(1), 1e-6)
}

func TestSolveClipsToBounds(t *testing.T) {
	res, err := Solve(testProblem(), mat.NewVecDense(2, []float64{0, 0}), Options{
		Lower: []float64{0, 0},
		Upper: []float64{1, 1},
	})
	require.NoError(t, err)

	assert.Equal(t, Converged, res.Status)
	assert.InDelta(t, 1, res.Params.AtVec(0), 1e-12)
	assert.InDelta(t, 1, res.Params.AtVec(1), 1e-12)
}

func TestSolveRejectsInconsistentBounds(t *testing.T) {
	_, err := Solve(testProblem(), mat.NewVecDense(2, []float64{0, 0}), Options{
		Lower: []float64{2, 0},
		Upper: []float64{1, 1},
	})
	assert.Error(t, err)

	_, err = Solve(testProblem(), mat.NewVecDense(2, []float64{0, 0}), Options{
		Lower: []float64{0},
	})
	assert.Error(t, err)

	_, err = Solve(testProblem(), mat.NewVecDense(1, []float64{0}), Options{})
	assert.Error(t, err)
}

// failingProblem simulates a model whose integration diverges at every
// candidate after the initial iterate.
type failingProblem struct {
	calls int
}

func (p *failingProblem) Dim() int { return 1 }

func (p *failingProblem) Evaluate(params mat.Vector) (*Linearization, error) {
	p.calls++
	if p.calls > 1 {
		return nil, fmt.Errorf("%w: blow-up", model.ErrIntegration)
	}
	return &Linearization{
		Residual: mat.NewVecDense(1, []float64{3}),
		Jacobian: mat.NewDense(1, 1, []float64{2}),
	}, nil
}

func TestSolveDivergesAfterBacktracking(t *testing.T) {
	problem := &failingProblem{}
	res, err := Solve(problem, mat.NewVecDense(1, []float64{1}), Options{MaxBacktracks: 3})
	require.NoError(t, err)

	assert.Equal(t, Diverged, res.Status)
	// Initial evaluation plus one try per halving.
	assert.Equal(t, 5, problem.calls)
	assert.Nil(t, res.Covariance)
	assert.Error(t, res.CovarianceErr)
	assert.InDelta(t, 1, res.Params.AtVec(0), 1e-12, "iterate unchanged after rejected steps")
}

// brokenProblem fails with an error unrelated to integration.
type brokenProblem struct {
	calls int
}

func (p *brokenProblem) Dim() int { return 1 }

func (p *brokenProblem) Evaluate(params mat.Vector) (*Linearization, error) {
	p.calls++
	if p.calls > 1 {
		return nil, errors.New("disk on fire")
	}
	return &Linearization{
		Residual: mat.NewVecDense(1, []float64{3}),
		Jacobian: mat.NewDense(1, 1, []float64{2}),
	}, nil
}

func TestSolvePropagatesUnrelatedErrors(t *testing.T) {
	_, err := Solve(&brokenProblem{}, mat.NewVecDense(1, []float64{1}), Options{})
	require.Error(t, err)
	assert.NotErrorIs(t, err, model.ErrIntegration)
}

func TestSolveMaxIterExceeded(t *testing.T) {
	res, err := Solve(testProblem(), mat.NewVecDense(2, []float64{50, 50}), Options{MaxIter: 1})
	require.NoError(t, err)

	assert.Equal(t, MaxIterExceeded, res.Status)
	assert.Equal(t, 1, res.Iterations)
	// Point estimates and covariance are still reported.
	assert.NotNil(t, res.Params)
	assert.NotNil(t, res.Covariance)
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "converged", Converged.String())
	assert.Equal(t, "diverged", Diverged.String())
	assert.Equal(t, "max iterations exceeded", MaxIterExceeded.String())
}
