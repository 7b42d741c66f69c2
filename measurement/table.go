// Package measurement loads the time-value sample tables that estimation
// runs fit against.
package measurement

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
)

// ErrFormat reports a measurement row that could not be parsed.
var ErrFormat = errors.New("measurement: malformed row")

// Sample is one observation of a channel at a point in time. Missing
// samples stay in the table for provenance but contribute no residual.
type Sample struct {
	Time    float64
	Value   float64
	Missing bool
}

// Table holds the samples of every observed channel. Tables are immutable
// after load.
type Table struct {
	names   []string
	samples [][]Sample
}

// Load reads a measurement table from path.
func Load(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Read(f)
}

// Read parses a whitespace separated table: a header line naming the time
// column and one column per channel, then one row per sample time with
// strictly increasing times. The reserved token "nan" (any case) marks a
// missing value and is valid data; any other field that does not parse as
// a finite number is a format error. Lines starting with '#' are skipped.
func Read(r io.Reader) (*Table, error) {
	var (
		t        Table
		line     int
		lastTime float64
	)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line++
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
			continue
		}
		if t.names == nil {
			if len(fields) < 2 {
				return nil, fmt.Errorf("%w: line %d: header needs a time column and at least one channel", ErrFormat, line)
			}
			t.names = fields[1:]
			t.samples = make([][]Sample, len(t.names))
			continue
		}
		if len(fields) != len(t.names)+1 {
			return nil, fmt.Errorf("%w: line %d: got %d columns, want %d", ErrFormat, line, len(fields), len(t.names)+1)
		}
		tm, err := strconv.ParseFloat(fields[0], 64)
		if err != nil || math.IsNaN(tm) || math.IsInf(tm, 0) {
			return nil, fmt.Errorf("%w: line %d: bad time %q", ErrFormat, line, fields[0])
		}
		if len(t.samples[0]) > 0 && tm <= lastTime {
			return nil, fmt.Errorf("%w: line %d: time %v does not increase", ErrFormat, line, tm)
		}
		lastTime = tm
		for c, field := range fields[1:] {
			v, err := strconv.ParseFloat(field, 64)
			if err != nil || math.IsInf(v, 0) {
				return nil, fmt.Errorf("%w: line %d: bad value %q", ErrFormat, line, field)
			}
			t.samples[c] = append(t.samples[c], Sample{Time: tm, Value: v, Missing: math.IsNaN(v)})
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if t.names == nil {
		return nil, fmt.Errorf("%w: empty table", ErrFormat)
	}
	return &t, nil
}

// Channels returns the channel names in column order.
func (t *Table) Channels() []string {
	return append([]string(nil), t.names...)
}

// ChannelCount returns the number of observed channels.
func (t *Table) ChannelCount() int { return len(t.names) }

// Len returns the number of rows, missing entries included.
func (t *Table) Len() int {
	if len(t.samples) == 0 {
		return 0
	}
	return len(t.samples[0])
}

// Samples returns every sample of channel, missing entries included.
func (t *Table) Samples(channel int) []Sample {
	return append([]Sample(nil), t.samples[channel]...)
}

// ValidSamples returns the non-missing samples of channel in time order.
func (t *Table) ValidSamples(channel int) []Sample {
	res := make([]Sample, 0, len(t.samples[channel]))
	for _, s := range t.samples[channel] {
		if !s.Missing {
			res = append(res, s)
		}
	}
	return res
}

// ValidCount returns the number of non-missing samples over all channels.
func (t *Table) ValidCount() int {
	var count int
	for c := range t.samples {
		count += len(t.ValidSamples(c))
	}
	return count
}

// TimeGrid returns the sorted union of all sample times, duplicates
// removed. Rows are parsed with strictly increasing times per file, so the
// row times already form the grid.
func (t *Table) TimeGrid() []float64 {
	if t.Len() == 0 {
		return nil
	}
	grid := make([]float64, 0, t.Len())
	for _, s := range t.samples[0] {
		grid = append(grid, s.Time)
	}
	return grid
}
