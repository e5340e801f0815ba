package dataset

import (
	"testing"

	"github.com/petar/GoMNIST"
	"gotest.tools/v3/assert"
)

func TestMNISTMatrixScalesPixels(t *testing.T) {
	set := &GoMNIST.Set{
		NRow:   2,
		NCol:   2,
		Images: []GoMNIST.RawImage{{0, 255, 51, 102}, {255, 255, 0, 0}},
		Labels: []GoMNIST.Label{7, 3},
	}
	inputs, labels := mnistMatrix(set)
	assert.DeepEqual(t, labels, []int{7, 3})
	assert.DeepEqual(t, inputs.RawRowView(0), []float64{0, 1, 0.2, 0.4})
	assert.DeepEqual(t, inputs.RawRowView(1), []float64{1, 1, 0, 0})
}

func TestLoadMNISTMissingDir(t *testing.T) {
	_, _, err := LoadMNIST(t.TempDir(), 8, 1)
	assert.ErrorContains(t, err, "load mnist")
}
