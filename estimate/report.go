package estimate

import (
	"fmt"
	"io"
	"text/tabwriter"
)

// WriteIterations prints the convergence log as a table followed by a
// human readable terminal-status message.
func WriteIterations(w io.Writer, res *Result) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "iter\tstationarity\tobjective")
	for _, r := range res.Records {
		fmt.Fprintf(tw, "%d\t%.6e\t%.6e\n", r.Iteration, r.Stationarity, r.Objective)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	var msg string
	switch res.Status {
	case Converged:
		msg = fmt.Sprintf("converged after %d iterations", res.Iterations)
	case Diverged:
		msg = fmt.Sprintf("diverged after %d iterations: integration kept failing", res.Iterations)
	case MaxIterExceeded:
		msg = fmt.Sprintf("stopped after %d iterations without reaching the tolerance", res.Iterations)
	}
	_, err := fmt.Fprintln(w, msg)
	return err
}

// WriteResults prints each parameter's point estimate and standard
// deviation. Missing names fall back to positional labels; a nil StdDev
// prints a dash and the reason the covariance is unavailable.
func WriteResults(w io.Writer, names []string, res *Result) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "parameter\testimate\tstd dev")
	for i := 0; i < res.Params.Len(); i++ {
		name := fmt.Sprintf("p%d", i)
		if i < len(names) {
			name = names[i]
		}
		if res.StdDev != nil {
			fmt.Fprintf(tw, "%s\t%.6g\t%.3g\n", name, res.Params.AtVec(i), res.StdDev[i])
		} else {
			fmt.Fprintf(tw, "%s\t%.6g\t-\n", name, res.Params.AtVec(i))
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if res.CovarianceErr != nil {
		_, err := fmt.Fprintf(w, "covariance unavailable: %v\n", res.CovarianceErr)
		return err
	}
	return nil
}
