package loss

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Loss is a scalar criterion value and its gradient with respect to the
// predictions it was computed from.
type Loss struct {
	Value float64
	Grad  *mat.Dense
}

// Criterion scores predictions against labels.
type Criterion interface {
	Forward(predictions *mat.Dense, labels []int) (Loss, error)
}

// CrossEntropy is softmax cross-entropy averaged over the batch.
type CrossEntropy struct{}

func (CrossEntropy) Forward(predictions *mat.Dense, labels []int) (Loss, error) {
	rows, classes := predictions.Dims()
	if rows != len(labels) {
		return Loss{}, fmt.Errorf("loss: %d prediction rows for %d labels", rows, len(labels))
	}
	grad := mat.NewDense(rows, classes, nil)
	total := 0.0
	for i, label := range labels {
		if label < 0 || label >= classes {
			return Loss{}, fmt.Errorf("loss: label %d outside [0, %d)", label, classes)
		}
		probs := grad.RawRowView(i)
		softmax(probs, predictions.RawRowView(i))
		total += -math.Log(math.Max(probs[label], 1e-9))
		probs[label] -= 1
	}
	n := float64(rows)
	grad.Scale(1/n, grad)
	return Loss{Value: total / n, Grad: grad}, nil
}

func softmax(dst, logits []float64) {
	maxLogit := floats.Max(logits)
	sum := 0.0
	for i, v := range logits {
		dst[i] = math.Exp(v - maxLogit)
		sum += dst[i]
	}
	floats.Scale(1/sum, dst)
}
