package estimate

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestWriteIterations(t *testing.T) {
	res, err := Solve(testProblem(), mat.NewVecDense(2, []float64{0, 0}), Options{})
	require.NoError(t, err)

	var sb strings.Builder
	require.NoError(t, WriteIterations(&sb, res))
	out := sb.String()
	assert.Contains(t, out, "iter")
	assert.Contains(t, out, "stationarity")
	assert.Contains(t, out, "objective")
	assert.Contains(t, out, "converged after 1 iterations")
}

func TestWriteResults(t *testing.T) {
	res, err := Solve(testProblem(), mat.NewVecDense(2, []float64{0, 0}), Options{})
	require.NoError(t, err)

	var sb strings.Builder
	require.NoError(t, WriteResults(&sb, []string{"length"}, res))
	out := sb.String()
	assert.Contains(t, out, "length")
	assert.Contains(t, out, "p1", "unnamed parameters get positional labels")
	assert.Contains(t, out, "1.5")
	assert.NotContains(t, out, "covariance unavailable")
}

func TestWriteResultsWithoutCovariance(t *testing.T) {
	problem := &failingProblem{}
	res, err := Solve(problem, mat.NewVecDense(1, []float64{1}), Options{})
	require.NoError(t, err)
	require.Equal(t, Diverged, res.Status)

	var sb strings.Builder
	require.NoError(t, WriteIterations(&sb, res))
	assert.Contains(t, sb.String(), "diverged")

	sb.Reset()
	require.NoError(t, WriteResults(&sb, nil, res))
	assert.Contains(t, sb.String(), "covariance unavailable")
}
