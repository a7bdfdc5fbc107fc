// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package gathernd

import (
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/gomlx/gathernd/backends"
	"github.com/gomlx/gathernd/pkg/core/dtypes"
	"github.com/gomlx/gathernd/pkg/core/shapes"
	"github.com/gomlx/gathernd/pkg/core/tensors"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
	"k8s.io/klog/v2"
)

func init() {
	klog.InitFlags(nil)
}

// testConfigs run every test sequentially and with small parallel chunks.
var testConfigs = []string{"parallelism=0", "parallelism=4,chunk=1", "parallelism=-1,chunk=3"}

func forEachBackend(t *testing.T, extraConfig string, testFn func(t *testing.T, backend *backends.Backend)) {
	for _, config := range testConfigs {
		if extraConfig != "" {
			config += "," + extraConfig
		}
		t.Run(config, func(t *testing.T) {
			backend := backends.MustNew(config)
			defer backend.Finalize()
			testFn(t, backend)
		})
	}
}

func TestGather(t *testing.T) {
	forEachBackend(t, "", func(t *testing.T, backend *backends.Backend) {
		data := tensors.MustFromValue([][]float32{{0, 1}, {2, 3}})

		// Full indexing: k == rank, the output is one element per index tuple.
		output, err := Gather(backend, data, tensors.MustFromValue([][]int64{{0, 0}, {1, 1}}), 0)
		require.NoError(t, err)
		assert.Equal(t, []float32{0, 3}, output.Value())

		// Partial indexing: whole rows.
		output, err = Gather(backend, data, tensors.MustFromValue([][]int64{{1}, {0}}), 0)
		require.NoError(t, err)
		assert.Equal(t, [][]float32{{2, 3}, {0, 1}}, output.Value())

		// Extra index axes are kept in the output.
		data3 := tensors.MustFromValue([][][]float32{{{0, 1}, {2, 3}}, {{4, 5}, {6, 7}}})
		output, err = Gather(backend, data3, tensors.MustFromValue([][][]int64{{{0, 1}}, {{1, 0}}}), 0)
		require.NoError(t, err)
		assert.Equal(t, [][][]float32{{{2, 3}}, {{4, 5}}}, output.Value())

		// Batch dimensions: each batch indexes into its own sub-tensor.
		output, err = Gather(backend, data3, tensors.MustFromValue([][]int64{{1}, {0}}), 1)
		require.NoError(t, err)
		assert.Equal(t, [][]float32{{2, 3}, {4, 5}}, output.Value())

		// Index depth 0 selects the whole (batch) sub-tensor.
		output, err = Gather(backend, tensors.MustFromValue([]float64{7, 8}), tensors.FromShape(shapes.Make(dtypes.Int64, 2, 0)), 0)
		require.NoError(t, err)
		assert.Equal(t, [][]float64{{7, 8}, {7, 8}}, output.Value())
	})
}

func TestGatherFloat16(t *testing.T) {
	forEachBackend(t, "", func(t *testing.T, backend *backends.Backend) {
		flat := make([]float16.Float16, 6)
		for i := range flat {
			flat[i] = float16.Fromfloat32(float32(i) + 0.5)
		}
		data := tensors.FromFlatDataAndDimensions(flat, 3, 2)
		output, err := Gather(backend, data, tensors.MustFromValue([][]int64{{2}, {2}, {0}}), 0)
		require.NoError(t, err)
		require.NoError(t, output.Shape().Check(dtypes.Float16, 3, 2))
		got := tensors.CopyFlatData[float16.Float16](output)
		want := []float32{4.5, 5.5, 4.5, 5.5, 0.5, 1.5}
		for i, v := range got {
			assert.Equal(t, want[i], v.Float32(), "element %d", i)
		}
	})
}

func TestGatherZeroSize(t *testing.T) {
	forEachBackend(t, "", func(t *testing.T, backend *backends.Backend) {
		data := tensors.MustFromValue([][]float32{{0, 1}, {2, 3}})

		// No index tuples.
		output, err := Gather(backend, data, tensors.FromShape(shapes.Make(dtypes.Int64, 0, 1)), 0)
		require.NoError(t, err)
		require.NoError(t, output.Shape().Check(dtypes.Float32, 0, 2))

		// Zero-size slices.
		output, err = Gather(backend, tensors.FromShape(shapes.Make(dtypes.Float32, 2, 0)), tensors.MustFromValue([][]int64{{1}}), 0)
		require.NoError(t, err)
		require.NoError(t, output.Shape().Check(dtypes.Float32, 1, 0))

		// Zero-size batch.
		output, err = Gather(backend, tensors.FromShape(shapes.Make(dtypes.Float64, 0, 3, 2)),
			tensors.FromShape(shapes.Make(dtypes.Int64, 0, 4, 1)), 1)
		require.NoError(t, err)
		require.NoError(t, output.Shape().Check(dtypes.Float64, 0, 4, 2))
	})
}

func TestGatherErrors(t *testing.T) {
	backend := backends.MustNew("")
	data := tensors.MustFromValue([][]float32{{0, 1}, {2, 3}})

	_, err := Gather(backend, data, tensors.MustFromValue(int64(0)), 0)
	require.ErrorIs(t, err, ErrEmptyIndices)

	_, err = Gather(backend, data, tensors.MustFromValue([][]int64{{0, 0, 0}}), 0)
	require.ErrorIs(t, err, ErrIndexDepthExceedsRank)

	_, err = Gather(backend, data, tensors.MustFromValue([][]int64{{0, 0}}), 1)
	require.ErrorIs(t, err, ErrIndexDepthExceedsRank)

	_, err = Gather(backend, tensors.FromShape(shapes.Make(dtypes.Float32, 2, 3, 4)), tensors.MustFromValue([]int64{0}), 2)
	require.ErrorIs(t, err, ErrRankTooSmall)

	_, err = Gather(backend, tensors.FromShape(shapes.Make(dtypes.Float32, 3, 2)), tensors.FromShape(shapes.Make(dtypes.Int64, 4, 1)), 1)
	require.ErrorIs(t, err, ErrBatchMismatch)
	var mismatch *BatchMismatchError
	require.True(t, errors.As(err, &mismatch))
	assert.Equal(t, 0, mismatch.Axis)
	assert.Equal(t, 3, mismatch.First)
	assert.Equal(t, 4, mismatch.Other)

	_, err = Gather(backend, tensors.MustFromValue([][]int32{{0, 1}}), tensors.MustFromValue([][]int64{{0}}), 0)
	require.ErrorIs(t, err, ErrUnsupportedElementType)

	_, err = Gather(backend, data, tensors.MustFromValue([][]int32{{0}}), 0)
	require.ErrorIs(t, err, ErrUnsupportedIndexType)

	_, err = Gather(backend, data, tensors.MustFromValue([][]int64{{0}}), -1)
	require.ErrorIs(t, err, ErrInvalidBatchDims)

	backend.Finalize()
	_, err = Gather(backend, data, tensors.MustFromValue([][]int64{{0}}), 0)
	require.ErrorIs(t, err, backends.ErrFinalized)
}

func TestGatherIndicesOutOfRange(t *testing.T) {
	data3 := tensors.MustFromValue([][][]float32{{{0, 1}, {2, 3}}, {{4, 5}, {6, 7}}})
	forEachBackend(t, "", func(t *testing.T, backend *backends.Backend) {
		// Unchecked components are signed offsets: -1 in batch 1 lands on the last row of batch 0.
		output, err := Gather(backend, data3, tensors.MustFromValue([][]int64{{0}, {-1}}), 1)
		require.NoError(t, err)
		assert.Equal(t, [][]float32{{0, 1}, {2, 3}}, output.Value())

		// Outside the data memory: the operation fails as a whole.
		_, err = Gather(backend, data3, tensors.MustFromValue([][]int64{{0}, {2}}), 1)
		require.ErrorIs(t, err, ErrKernelFault)
		_, err = Gather(backend, data3, tensors.MustFromValue([][]int64{{-1}, {0}}), 1)
		require.ErrorIs(t, err, ErrKernelFault)
	})
	forEachBackend(t, "checkbounds", func(t *testing.T, backend *backends.Backend) {
		output, err := Gather(backend, data3, tensors.MustFromValue([][]int64{{1}, {0}}), 1)
		require.NoError(t, err)
		assert.Equal(t, [][]float32{{2, 3}, {4, 5}}, output.Value())

		_, err = Gather(backend, data3, tensors.MustFromValue([][]int64{{0}, {-1}}), 1)
		require.ErrorIs(t, err, ErrIndexOutOfRange)
		_, err = Gather(backend, data3, tensors.MustFromValue([][]int64{{0}, {2}}), 1)
		require.ErrorIs(t, err, ErrIndexOutOfRange)
	})
}

func TestGatherEmptySlicesBoundsCheck(t *testing.T) {
	data := tensors.FromShape(shapes.Make(dtypes.Float32, 2, 0))
	indices := tensors.MustFromValue([][]int64{{7}})
	forEachBackend(t, "", func(t *testing.T, backend *backends.Backend) {
		output, err := Gather(backend, data, indices, 0)
		require.NoError(t, err)
		require.NoError(t, output.Shape().Check(dtypes.Float32, 1, 0))
	})
	forEachBackend(t, "checkbounds,training", func(t *testing.T, backend *backends.Backend) {
		_, err := Gather(backend, data, indices, 0)
		require.ErrorIs(t, err, ErrIndexOutOfRange)
		_, err = GatherGrad(backend, []int{2, 0}, indices, tensors.FromShape(shapes.Make(dtypes.Float32, 1, 0)), 0)
		require.ErrorIs(t, err, ErrIndexOutOfRange)

		output, err := Gather(backend, data, tensors.MustFromValue([][]int64{{1}}), 0)
		require.NoError(t, err)
		require.NoError(t, output.Shape().Check(dtypes.Float32, 1, 0))
	})
}

// referenceGather implements GatherND element by element, for float64 data.
func referenceGather(data []float64, dataDims []int, indices []int64, indicesDims []int, batchDims int) []float64 {
	numIndexAxes := len(indicesDims) - 1
	k := indicesDims[numIndexAxes]
	outputDims := append(slices.Clone(indicesDims[:numIndexAxes]), dataDims[batchDims+k:]...)
	outputShape := shapes.Make(dtypes.Float64, outputDims...)
	dataStrides := shapes.Make(dtypes.Float64, dataDims...).Strides()
	indicesStrides := shapes.Make(dtypes.Int64, indicesDims...).Strides()

	output := make([]float64, outputShape.Size())
	coords := make([]int, len(dataDims))
	for flatIdx, outputIdx := range outputShape.Iter() {
		tupleStart := 0
		for axis := range numIndexAxes {
			tupleStart += outputIdx[axis] * indicesStrides[axis]
		}
		copy(coords[:batchDims], outputIdx[:batchDims])
		for j := range k {
			coords[batchDims+j] = int(indices[tupleStart+j])
		}
		copy(coords[batchDims+k:], outputIdx[numIndexAxes:])
		dataIdx := 0
		for axis, coord := range coords {
			dataIdx += coord * dataStrides[axis]
		}
		output[flatIdx] = data[dataIdx]
	}
	return output
}

type gatherTestCase struct {
	dataDims       []int
	indexAxesDims  []int // Indices dimensions after the batch axes, excluding the last (k).
	batchDims, k   int
	expectedOutput []int
}

var gatherTestCases = []gatherTestCase{
	{dataDims: []int{5}, indexAxesDims: []int{7}, k: 1, expectedOutput: []int{7}},
	{dataDims: []int{4, 3}, indexAxesDims: []int{}, k: 2, expectedOutput: []int{}},
	{dataDims: []int{4, 3, 2}, indexAxesDims: []int{2, 5}, k: 1, expectedOutput: []int{2, 5, 3, 2}},
	{dataDims: []int{4, 3, 2}, indexAxesDims: []int{6}, k: 2, expectedOutput: []int{6, 2}},
	{dataDims: []int{3, 4, 5}, indexAxesDims: []int{2}, batchDims: 1, k: 1, expectedOutput: []int{3, 2, 5}},
	{dataDims: []int{2, 3, 4, 5}, indexAxesDims: []int{3}, batchDims: 2, k: 2, expectedOutput: []int{2, 3, 3}},
	{dataDims: []int{2, 3, 4, 5}, indexAxesDims: []int{}, batchDims: 2, k: 1, expectedOutput: []int{2, 3, 5}},
	{dataDims: []int{2, 6, 2}, indexAxesDims: []int{4, 3}, batchDims: 1, k: 0, expectedOutput: []int{2, 4, 3, 6, 2}},
}

// makeRandomGather creates random data and in-range indices for the test case.
func makeRandomGather(rng *rand.Rand, tc gatherTestCase) (data, indices *tensors.Tensor) {
	dataShape := shapes.Make(dtypes.Float64, tc.dataDims...)
	dataFlat := make([]float64, dataShape.Size())
	for i := range dataFlat {
		dataFlat[i] = float64(rng.IntN(100) - 50)
	}
	indicesDims := slices.Concat(tc.dataDims[:tc.batchDims], tc.indexAxesDims, []int{tc.k})
	indicesFlat := make([]int64, shapes.Make(dtypes.Int64, indicesDims...).Size())
	for i := range indicesFlat {
		indicesFlat[i] = int64(rng.IntN(tc.dataDims[tc.batchDims+i%tc.k]))
	}
	return tensors.FromFlatDataAndDimensions(dataFlat, tc.dataDims...),
		tensors.FromFlatDataAndDimensions(indicesFlat, indicesDims...)
}

func TestGatherAgainstReference(t *testing.T) {
	rng := rand.New(rand.NewPCG(42, 7))
	forEachBackend(t, "", func(t *testing.T, backend *backends.Backend) {
		for caseIdx, tc := range gatherTestCases {
			data, indices := makeRandomGather(rng, tc)
			output, err := Gather(backend, data, indices, tc.batchDims)
			require.NoError(t, err, "case #%d", caseIdx)
			require.NoError(t, output.Shape().Check(dtypes.Float64, tc.expectedOutput...), "case #%d", caseIdx)
			want := referenceGather(tensors.CopyFlatData[float64](data), tc.dataDims,
				tensors.CopyFlatData[int64](indices), indices.Shape().Dimensions, tc.batchDims)
			require.Equal(t, want, tensors.CopyFlatData[float64](output), "case #%d", caseIdx)
		}
	})
}

func TestGatherGrad(t *testing.T) {
	forEachBackend(t, "training", func(t *testing.T, backend *backends.Backend) {
		// Duplicate index tuples accumulate.
		updates := tensors.MustFromValue([][]float32{{1, 2}, {3, 4}, {5, 6}})
		grad, err := GatherGrad(backend, []int{3, 2}, tensors.MustFromValue([][]int64{{0}, {0}, {2}}), updates, 0)
		require.NoError(t, err)
		assert.Equal(t, [][]float32{{4, 6}, {0, 0}, {5, 6}}, grad.Value())

		// Full indexing.
		grad, err = GatherGrad(backend, []int{2, 2}, tensors.MustFromValue([][]int64{{0, 1}, {1, 0}, {0, 1}}),
			tensors.MustFromValue([]float64{1, 2, 3}), 0)
		require.NoError(t, err)
		assert.Equal(t, [][]float64{{0, 4}, {2, 0}}, grad.Value())

		// Batch dimensions.
		grad, err = GatherGrad(backend, []int{2, 2, 2}, tensors.MustFromValue([][]int64{{1}, {0}}),
			tensors.MustFromValue([][]float32{{1, 2}, {3, 4}}), 1)
		require.NoError(t, err)
		assert.Equal(t, [][][]float32{{{0, 0}, {1, 2}}, {{3, 4}, {0, 0}}}, grad.Value())

		// No slices: all zeros.
		grad, err = GatherGrad(backend, []int{2, 2}, tensors.FromShape(shapes.Make(dtypes.Int64, 0, 1)),
			tensors.FromShape(shapes.Make(dtypes.Float32, 0, 2)), 0)
		require.NoError(t, err)
		assert.Equal(t, [][]float32{{0, 0}, {0, 0}}, grad.Value())
	})
}

func TestGatherGradFloat16(t *testing.T) {
	forEachBackend(t, "training", func(t *testing.T, backend *backends.Backend) {
		const numSlices = 500
		indicesFlat := make([]int64, numSlices)
		updatesFlat := make([]float16.Float16, numSlices*2)
		for s := range numSlices {
			indicesFlat[s] = int64(s % 2)
			updatesFlat[2*s] = float16.Fromfloat32(1)
			updatesFlat[2*s+1] = float16.Fromfloat32(2)
		}
		grad, err := GatherGrad(backend, []int{3, 2},
			tensors.FromFlatDataAndDimensions(indicesFlat, numSlices, 1),
			tensors.FromFlatDataAndDimensions(updatesFlat, numSlices, 2), 0)
		require.NoError(t, err)
		got := tensors.CopyFlatData[float16.Float16](grad)
		want := []float32{250, 500, 250, 500, 0, 0}
		for i, v := range got {
			assert.Equal(t, want[i], v.Float32(), "element %d", i)
		}
	})
}

func TestGatherGradErrors(t *testing.T) {
	inference := backends.MustNew("")
	defer inference.Finalize()
	indices := tensors.MustFromValue([][]int64{{0}, {1}})
	updates := tensors.MustFromValue([][]float32{{1, 2}, {3, 4}})
	_, err := GatherGrad(inference, []int{2, 2}, indices, updates, 0)
	require.ErrorIs(t, err, ErrGradientUnsupported)

	backend := backends.MustNew("training")
	defer backend.Finalize()
	_, err = GatherGrad(backend, []int{2, 3}, indices, updates, 0)
	require.ErrorIs(t, err, ErrUpdatesShapeMismatch)

	_, err = GatherGrad(backend, []int{2, -2}, indices, updates, 0)
	require.ErrorIs(t, err, ErrInvalidTargetShape)

	_, err = GatherGrad(backend, []int{2}, tensors.MustFromValue([][]int64{{0, 0}}), tensors.MustFromValue([]float32{1}), 0)
	require.ErrorIs(t, err, ErrIndexDepthExceedsRank)

	_, err = GatherGrad(backend, []int{2, 2}, tensors.MustFromValue(int64(0)), updates, 0)
	require.ErrorIs(t, err, ErrEmptyIndices)

	// The updates take part in the batch dimensions check.
	_, err = GatherGrad(backend, []int{2, 3}, indices, tensors.MustFromValue([]float32{1, 2, 3}), 1)
	var mismatch *BatchMismatchError
	require.True(t, errors.As(err, &mismatch))
	assert.Equal(t, BatchMismatchError{Axis: 0, First: 2, Other: 3, ShapeIndex: 2}, *mismatch)

	_, err = GatherGrad(backend, []int{2, 2}, indices, tensors.MustFromValue([][]int64{{1, 2}, {3, 4}}), 0)
	require.ErrorIs(t, err, ErrUnsupportedElementType)

	_, err = GatherGrad(backend, []int{2, 2}, indices, tensors.MustFromValue([][]float32{{1, 2}, {3, 4}, {5, 6}}), 0)
	require.ErrorIs(t, err, ErrUpdatesShapeMismatch)
}

func TestGatherGradIndicesOutOfRange(t *testing.T) {
	updates := tensors.MustFromValue([][]float32{{1, 2}, {3, 4}})
	forEachBackend(t, "training", func(t *testing.T, backend *backends.Backend) {
		// Unchecked components are signed offsets: -1 in batch 1 accumulates into the last row of batch 0.
		grad, err := GatherGrad(backend, []int{2, 2, 2}, tensors.MustFromValue([][]int64{{0}, {-1}}), updates, 1)
		require.NoError(t, err)
		assert.Equal(t, [][][]float32{{{1, 2}, {3, 4}}, {{0, 0}, {0, 0}}}, grad.Value())

		// Outside the gradient memory: no partially accumulated output is returned.
		grad, err = GatherGrad(backend, []int{2, 2}, tensors.MustFromValue([][]int64{{0}, {5}}), updates, 0)
		require.ErrorIs(t, err, ErrKernelFault)
		assert.Nil(t, grad)
		grad, err = GatherGrad(backend, []int{2, 2}, tensors.MustFromValue([][]int64{{-3}, {0}}), updates, 0)
		require.ErrorIs(t, err, ErrKernelFault)
		assert.Nil(t, grad)
	})
	forEachBackend(t, "training,checkbounds", func(t *testing.T, backend *backends.Backend) {
		grad, err := GatherGrad(backend, []int{2, 2}, tensors.MustFromValue([][]int64{{1}, {1}}), updates, 0)
		require.NoError(t, err)
		assert.Equal(t, [][]float32{{0, 0}, {4, 6}}, grad.Value())

		grad, err = GatherGrad(backend, []int{2, 2}, tensors.MustFromValue([][]int64{{0}, {5}}), updates, 0)
		require.ErrorIs(t, err, ErrIndexOutOfRange)
		assert.Nil(t, grad)
		_, err = GatherGrad(backend, []int{2, 2, 2}, tensors.MustFromValue([][]int64{{0}, {-1}}), updates, 1)
		require.ErrorIs(t, err, ErrIndexOutOfRange)
	})
}

// TestGatherGradIsAdjoint checks <Gather(x), u> == <x, GatherGrad(u)> with integer values (exact sums).
func TestGatherGradIsAdjoint(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 5))
	forEachBackend(t, "training", func(t *testing.T, backend *backends.Backend) {
		for caseIdx, tc := range gatherTestCases {
			data, indices := makeRandomGather(rng, tc)
			gathered, err := Gather(backend, data, indices, tc.batchDims)
			require.NoError(t, err)
			updatesFlat := make([]float64, gathered.Size())
			for i := range updatesFlat {
				updatesFlat[i] = float64(rng.IntN(10))
			}
			updates := tensors.FromFlatDataAndDimensions(updatesFlat, gathered.Shape().Dimensions...)
			grad, err := GatherGrad(backend, tc.dataDims, indices, updates, tc.batchDims)
			require.NoError(t, err, "case #%d", caseIdx)
			require.NoError(t, grad.Shape().Check(dtypes.Float64, tc.dataDims...))

			var lhs, rhs float64
			for i, v := range tensors.CopyFlatData[float64](gathered) {
				lhs += v * updatesFlat[i]
			}
			gradFlat := tensors.CopyFlatData[float64](grad)
			for i, v := range tensors.CopyFlatData[float64](data) {
				rhs += v * gradFlat[i]
			}
			require.Equal(t, lhs, rhs, "case #%d", caseIdx)
		}
	})
}

// TestGatherGradRoundTrip checks that with distinct index tuples, GatherGrad(Gather(x)) recovers x on the
// gathered slices and is zero elsewhere.
func TestGatherGradRoundTrip(t *testing.T) {
	forEachBackend(t, "training", func(t *testing.T, backend *backends.Backend) {
		dataFlat := make([]float32, 3*4*5)
		for i := range dataFlat {
			dataFlat[i] = float32(i + 1)
		}
		data := tensors.FromFlatDataAndDimensions(dataFlat, 3, 4, 5)
		// For each batch, 2 distinct rows.
		indices := tensors.MustFromValue([][][]int64{{{3}, {0}}, {{1}, {2}}, {{2}, {3}}})
		gathered, err := Gather(backend, data, indices, 1)
		require.NoError(t, err)
		require.NoError(t, gathered.Shape().Check(dtypes.Float32, 3, 2, 5))

		grad, err := GatherGrad(backend, []int{3, 4, 5}, indices, gathered, 1)
		require.NoError(t, err)
		selected := map[[2]int]bool{{0, 3}: true, {0, 0}: true, {1, 1}: true, {1, 2}: true, {2, 2}: true, {2, 3}: true}
		gradFlat := tensors.CopyFlatData[float32](grad)
		for flatIdx, idx := range grad.Shape().Iter() {
			want := float32(0)
			if selected[[2]int{idx[0], idx[1]}] {
				want = dataFlat[flatIdx]
			}
			require.Equal(t, want, gradFlat[flatIdx], "at %v", idx)
		}
	})
}
