package ode

import (
	"errors"
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
)

// rhsFunc adapts a closure to the DifferentiableSystem interface.
type rhsFunc func(t float64, state mat.Vector) mat.Vector

func (f rhsFunc) Derivative(t float64, state mat.Vector) mat.Vector {
	return f(t, state)
}

// decay is x' = -x with the known solution x(t) = x(0) e^(-t).
var decay = rhsFunc(func(t float64, state mat.Vector) mat.Vector {
	res := mat.NewVecDense(state.Len(), nil)
	for i := 0; i < state.Len(); i++ {
		res.SetVec(i, -state.AtVec(i))
	}
	return res
})

func TestRk4(t *testing.T) {
	test := NewRK4()
	if test.Description.stages != 4 {
		t.Errorf("Not four stages. Rk4 should have four stages. Instead has %v", test.Description.stages)
	}
}

func TestEuler(t *testing.T) {
	test := NewEulerMethod()
	if test.Description.stages != 1 {
		t.Error("Wrong number of stages.")
	}
}

func TestFehlberg45(t *testing.T) {
	test := NewFehlberg45()
	if test.Description.stages != 6 {
		t.Error("Wrong number of stages.")
	}
	if len(test.Description.weights) != 2 {
		t.Error("Fehlberg should carry an embedded error estimate.")
	}
}

func TestFixedStepDecay(t *testing.T) {
	state := mat.NewVecDense(1, []float64{1})
	if err := NewRK4().FixedStep(0, 1, 100, state, decay); err != nil {
		t.Fatal(err)
	}
	want := math.Exp(-1)
	if math.Abs(state.AtVec(0)-want) > 1e-8 {
		t.Errorf("Expected %v got %v", want, state.AtVec(0))
	}
}

func TestFixedStepReproducible(t *testing.T) {
	first := mat.NewVecDense(2, []float64{0.7, -0.3})
	second := mat.NewVecDense(2, []float64{0.7, -0.3})
	rk := NewRK4()
	if err := rk.FixedStep(0, 2.5, 64, first, decay); err != nil {
		t.Fatal(err)
	}
	if err := rk.FixedStep(0, 2.5, 64, second, decay); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < first.Len(); i++ {
		if first.AtVec(i) != second.AtVec(i) {
			t.Errorf("Entry %v differs between runs: %v vs %v", i, first.AtVec(i), second.AtVec(i))
		}
	}
}

func TestAdaptiveDecay(t *testing.T) {
	state := mat.NewVecDense(1, []float64{1})
	if err := NewFehlberg45().Adaptive(0, 1, 1e-9, state, decay); err != nil {
		t.Fatal(err)
	}
	want := math.Exp(-1)
	if math.Abs(state.AtVec(0)-want) > 1e-6 {
		t.Errorf("Expected %v got %v", want, state.AtVec(0))
	}
}

func TestDivergenceDetected(t *testing.T) {
	// x' = x^2 from x(0)=1 blows up at t=1.
	blowup := rhsFunc(func(t float64, state mat.Vector) mat.Vector {
		res := mat.NewVecDense(1, nil)
		res.SetVec(0, state.AtVec(0)*state.AtVec(0))
		return res
	})
	state := mat.NewVecDense(1, []float64{1})
	err := NewRK4().FixedStep(0, 2, 1000, state, blowup)
	if !errors.Is(err, ErrDiverged) {
		t.Errorf("Expected ErrDiverged, got %v", err)
	}
	var stepErr *StepError
	if !errors.As(err, &stepErr) {
		t.Fatal("Expected a StepError")
	}
	if stepErr.Time <= 0 || stepErr.Time > 2 {
		t.Errorf("Failure time %v outside the integration interval", stepErr.Time)
	}
}
