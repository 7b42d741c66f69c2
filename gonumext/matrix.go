// Package gonumext collects small dense-matrix helpers missing from gonum.
package gonumext

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Eye returns a (m by n) matrix with ones on the k:th diagonal.
func Eye(m, n, k int) mat.Matrix {
	res := mat.NewDense(m, n, nil)
	for row := 0; row < m; row++ {
		column := row + k
		if column >= 0 && column < n {
			res.Set(row, column, 1)
		}
	}
	return res
}

// NaNOrInf checks if there are any NaN or Inf in matrix
func NaNOrInf(matrix mat.Matrix) bool {
	m, n := matrix.Dims()
	for row := 0; row < m; row++ {
		for col := 0; col < n; col++ {
			if math.IsNaN(matrix.At(row, col)) || math.IsInf(matrix.At(row, col), 0) {
				return true
			}
		}
	}
	return false
}
