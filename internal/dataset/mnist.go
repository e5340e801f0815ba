package dataset

import (
	"github.com/petar/GoMNIST"
	"gonum.org/v1/gonum/mat"
	"golang.org/x/xerrors"
)

// MNISTClasses is the number of digit classes.
const MNISTClasses = 10

// LoadMNIST reads the gzipped IDX files in dir. The MNIST training set backs
// the train loader and the t10k set backs the validation loader.
func LoadMNIST(dir string, batchSize int, seed int64) (train, val *MemoryLoader, err error) {
	trainSet, testSet, err := GoMNIST.Load(dir)
	if err != nil {
		return nil, nil, xerrors.Errorf("dataset: load mnist from %s: %w", dir, err)
	}
	inputs, labels := mnistMatrix(trainSet)
	train, err = NewMemoryLoader(inputs, labels, batchSize, true, seed)
	if err != nil {
		return nil, nil, err
	}
	inputs, labels = mnistMatrix(testSet)
	val, err = NewMemoryLoader(inputs, labels, batchSize, false, seed)
	if err != nil {
		return nil, nil, err
	}
	return train, val, nil
}

// mnistMatrix flattens each image into a row of pixel values scaled to [0, 1].
func mnistMatrix(set *GoMNIST.Set) (*mat.Dense, []int) {
	n := set.Count()
	if n == 0 {
		return nil, nil
	}
	width := set.NRow * set.NCol
	inputs := mat.NewDense(n, width, nil)
	labels := make([]int, n)
	for i := 0; i < n; i++ {
		img, label := set.Get(i)
		row := inputs.RawRowView(i)
		for j := 0; j < width && j < len(img); j++ {
			row[j] = float64(img[j]) / 255
		}
		labels[i] = int(label)
	}
	return inputs, labels
}
