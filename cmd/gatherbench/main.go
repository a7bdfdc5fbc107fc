// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// gatherbench runs the GatherND operations (through the operations registry) on random data and
// prints a report of the timings.
//
// Example:
//
//	gatherbench -shape=8,1024,256 -batch_dims=1 -num_slices=512 -depth=1 -dtype=float16 -grad
package main

import (
	"flag"
	"fmt"
	"math/rand/v2"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/gathernd/backends"
	"github.com/gomlx/gathernd/backends/gathernd"
	"github.com/gomlx/gathernd/pkg/core/dtypes"
	"github.com/gomlx/gathernd/pkg/core/shapes"
	"github.com/gomlx/gathernd/pkg/core/tensors"
	"github.com/gomlx/gathernd/pkg/ops"
	"github.com/janpfeifer/must"
	"github.com/muesli/termenv"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"github.com/x448/float16"
	"k8s.io/klog/v2"
)

var (
	flagBackend = flag.String("backend", "",
		fmt.Sprintf("Backend configuration, see backends.ParseConfig. If empty, $%s is used.", backends.ConfigEnvVar))
	flagShape     = flag.String("shape", "16,1024,128", "Comma-separated dimensions of the data tensor.")
	flagNumSlices = flag.Int("num_slices", 256, "Number of index tuples per batch.")
	flagDepth     = flag.Int("depth", 1, "Depth of the index tuples (last dimension of indices).")
	flagBatchDims = flag.Int("batch_dims", 0, "Number of leading batch axes shared by data and indices.")
	flagDType     = flag.String("dtype", "float32", "Element type: float16, float32 or float64.")
	flagRepeats   = flag.Int("repeats", 20, "Number of times each operation is executed.")
	flagGrad      = flag.Bool("grad", false, "Also benchmark GatherGrad. It enables training mode in the backend.")
	flagSeed      = flag.Uint64("seed", 42, "Random seed for the data and indices.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	backend, err := newBackend()
	if err != nil {
		klog.Exitf("Failed to create backend: %+v", err)
	}
	defer backend.Finalize()

	dtype, err := dtypes.FromName(*flagDType)
	if err != nil {
		klog.Exitf("Invalid -dtype: %v", err)
	}
	if !slices.Contains(gathernd.SupportedDTypes(), dtype) {
		klog.Exitf("Unsupported -dtype=%s, supported dtypes are %v", dtype, gathernd.SupportedDTypes())
	}
	dataDims, err := parseDimensions(*flagShape)
	if err != nil {
		klog.Exitf("Invalid -shape: %v", err)
	}
	if *flagBatchDims < 0 || *flagDepth < 0 || *flagBatchDims+*flagDepth > len(dataDims) {
		klog.Exitf("-batch_dims=%d and -depth=%d don't fit -shape=%v", *flagBatchDims, *flagDepth, dataDims)
	}

	rng := rand.New(rand.NewPCG(*flagSeed, 0))
	data := randomData(rng, shapes.Make(dtype, dataDims...))
	indices := randomIndices(rng, dataDims, *flagBatchDims, *flagNumSlices, *flagDepth)
	attrs := ops.Attributes{ops.AttrBatchDims: *flagBatchDims}
	registry := ops.NewRegistry()

	var results []benchResult
	output := runBenchmark(&results, registry, backend, "Gather", []*tensors.Tensor{data, indices}, attrs)
	if *flagGrad {
		shapeInput := tensors.FromShape(shapes.Make(dtypes.Int64, len(dataDims)))
		must.M(tensors.MutableFlatData(shapeInput, func(flat []int64) {
			for axis, dim := range dataDims {
				flat[axis] = int64(dim)
			}
		}))
		runBenchmark(&results, registry, backend, "GatherGrad", []*tensors.Tensor{shapeInput, indices, output}, attrs)
	}
	report(backend, data, indices, results)
}

func newBackend() (*backends.Backend, error) {
	config := *flagBackend
	if config == "" {
		config = os.Getenv(backends.ConfigEnvVar)
	}
	if *flagGrad {
		if config != "" {
			config += ","
		}
		config += "training"
	}
	return backends.New(config)
}

func parseDimensions(s string) ([]int, error) {
	var dims []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		dim, err := strconv.Atoi(part)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing dimension %q", part)
		}
		if dim < 0 {
			return nil, errors.Errorf("negative dimension %d", dim)
		}
		dims = append(dims, dim)
	}
	return dims, nil
}

// randomData returns a tensor of the given shape with values uniformly distributed in [-1, 1).
func randomData(rng *rand.Rand, shape shapes.Shape) *tensors.Tensor {
	t := tensors.FromShape(shape)
	t.MutableFlatData(func(flat any) {
		switch flatT := flat.(type) {
		case []float16.Float16:
			for i := range flatT {
				flatT[i] = float16.Fromfloat32(2*rng.Float32() - 1)
			}
		case []float32:
			for i := range flatT {
				flatT[i] = 2*rng.Float32() - 1
			}
		case []float64:
			for i := range flatT {
				flatT[i] = 2*rng.Float64() - 1
			}
		}
	})
	return t
}

// randomIndices returns valid indices of shape [dataDims[:batchDims]..., numSlices, depth].
func randomIndices(rng *rand.Rand, dataDims []int, batchDims, numSlices, depth int) *tensors.Tensor {
	indicesDims := slices.Concat(dataDims[:batchDims], []int{numSlices, depth})
	t := tensors.FromShape(shapes.Make(dtypes.Int64, indicesDims...))
	must.M(tensors.MutableFlatData(t, func(flat []int64) {
		for i := range flat {
			dim := dataDims[batchDims+i%depth]
			if dim > 0 {
				flat[i] = int64(rng.IntN(dim))
			}
		}
	}))
	return t
}

type benchResult struct {
	opName        string
	outputShape   shapes.Shape
	bytesMoved    uint64
	total, minRun time.Duration
	repeats       int
}

// runBenchmark executes the operation *flagRepeats times and appends the timings to results.
// It returns the output of the last execution.
func runBenchmark(results *[]benchResult, registry *ops.Registry, backend *backends.Backend,
	opName string, inputs []*tensors.Tensor, attrs ops.Attributes) *tensors.Tensor {
	repeats := max(*flagRepeats, 1)
	out := termenv.NewOutput(os.Stdout)
	out.HideCursor()
	defer out.ShowCursor()
	bar := progressbar.NewOptions(repeats,
		progressbar.OptionSetDescription(fmt.Sprintf("%-10s", opName)),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("runs"),
		progressbar.OptionSetTheme(progressbar.ThemeASCII),
		progressbar.OptionSetWriter(os.Stdout),
		progressbar.OptionClearOnFinish(),
	)

	result := benchResult{opName: opName, repeats: repeats, minRun: time.Duration(1<<63 - 1)}
	var output *tensors.Tensor
	for range repeats {
		start := time.Now()
		var err error
		output, err = registry.Execute(backend, opName, inputs, attrs)
		elapsed := time.Since(start)
		if err != nil {
			klog.Exitf("Failed to execute %s: %+v", opName, err)
		}
		result.total += elapsed
		result.minRun = min(result.minRun, elapsed)
		must.M(bar.Add(1))
	}
	must.M(bar.Finish())
	result.outputShape = output.Shape()
	// Gather reads and writes each output element once; GatherGrad reads each update and updates the target.
	result.bytesMoved = 2 * uint64(output.Shape().Memory())
	if opName == "GatherGrad" {
		result.bytesMoved = 2 * uint64(inputs[2].Shape().Memory())
	}
	*results = append(*results, result)
	return output
}

var (
	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 2, 0, 2).Align(lipgloss.Center)
	oddRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFF")).
			PaddingLeft(1).PaddingRight(1)
	evenRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#999")).
			PaddingLeft(1).PaddingRight(1)
	titleStyle = lipgloss.NewStyle().Bold(true).Padding(1, 4, 1, 4)
)

func newTable() *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(tableCellStyle)
}

// tableCellStyle styles the header row, alternates data rows, and right-aligns the first column.
// Data rows are 0-indexed, the header is lgtable.HeaderRow.
func tableCellStyle(row, col int) (s lipgloss.Style) {
	if row == lgtable.HeaderRow {
		return headerRowStyle
	}
	if row%2 == 0 {
		s = oddRowStyle
	} else {
		s = evenRowStyle
	}
	if col == 0 {
		s = s.Align(lipgloss.Right)
	}
	return
}

func report(backend *backends.Backend, data, indices *tensors.Tensor, results []benchResult) {
	fmt.Println(titleStyle.Render("Setup"))
	table := newTable()
	table.Row("backend", backend.String())
	table.Row("data", data.Shape().String())
	table.Row("indices", indices.Shape().String())
	table.Row("data bytes", humanize.Bytes(uint64(data.Shape().Memory())))
	fmt.Println(table.Render())

	fmt.Println(titleStyle.Render("Timings"))
	table = newTable()
	table.Headers("Op", "Output", "Repeats", "Mean", "Min", "Throughput")
	for _, r := range results {
		mean := r.total / time.Duration(r.repeats)
		throughput := "-"
		if r.minRun > 0 {
			throughput = humanize.Bytes(uint64(float64(r.bytesMoved)/r.minRun.Seconds())) + "/s"
		}
		table.Row(r.opName, r.outputShape.String(), humanize.Comma(int64(r.repeats)),
			mean.String(), r.minRun.String(), throughput)
	}
	fmt.Println(table.Render())
}
