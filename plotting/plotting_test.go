package plotting

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFileSinkWritesPNG(t *testing.T) {
	sink := &FileSink{Dir: t.TempDir()}
	err := sink.Plot("Pendulum Fit",
		Series{Name: "measured", Times: []float64{0, 1, 2}, Values: []float64{1, 0.5, 0.2}, Points: true},
		Series{Name: "fitted", Times: []float64{0, 0.5, 1, 1.5, 2}, Values: []float64{1, 0.7, 0.5, 0.3, 0.2}},
	)
	if err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(filepath.Join(sink.Dir, "pendulum_fit.png"))
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() == 0 {
		t.Error("empty plot file")
	}
}

func TestFileName(t *testing.T) {
	if got := fileName("Pendulum Fit #2"); got != "pendulum_fit__2.png" {
		t.Errorf("unexpected file name %q", got)
	}
}
