package loss

import (
	"fmt"
	"math"

	"github.com/deepsight-lab/mirage/internal/models"
	"github.com/deepsight-lab/mirage/internal/report"
	"github.com/deepsight-lab/mirage/internal/tensor"
)

// klTemperature softens both distributions before comparison.
const klTemperature = 3.0

// MultiModelKL measures, for each student classifier, a symmetric
// Jensen-Shannon-like divergence from a frozen teacher's softened softmax
// output, clamped away from zero probabilities, summed across students.
type MultiModelKL struct {
	teacher  models.Classifier
	students []models.Classifier
}

// NewMultiModelKL builds the loss over one or more students.
func NewMultiModelKL(teacher models.Classifier, students ...models.Classifier) (*MultiModelKL, error) {
	if len(students) == 0 {
		return nil, fmt.Errorf("loss: multi-model KL requires at least one student")
	}
	return &MultiModelKL{teacher: teacher, students: students}, nil
}

// Forward computes the summed divergence.
func (l *MultiModelKL) Forward(images *tensor.Tensor, labels tensor.Labels) (float64, *report.Ordered, error) {
	teacherLogits, _, err := l.teacher.Predict(images)
	if err != nil {
		return 0, nil, fmt.Errorf("loss: teacher failed: %w", err)
	}
	q := teacherLogits.Softmax(klTemperature).Clamp(0.01, 0.99)

	total := 0.0
	for _, student := range l.students {
		studentLogits, _, err := student.Predict(images)
		if err != nil {
			return 0, nil, fmt.Errorf("loss: student failed: %w", err)
		}
		p := studentLogits.Softmax(klTemperature)

		m := tensor.New(p.Shape...)
		for i := range m.Data {
			m.Data[i] = 0.5 * (p.Data[i] + q.Data[i])
		}

		pc := p.Clamp(0.01, 0.99)
		mc := m.Clamp(0.01, 0.99)

		js := 0.5*klDiv(pc, mc) + 0.5*klDiv(q, mc)
		js = clampFloat(js, 0, 1)
		total += 1 - js
	}

	diag := report.NewOrdered()
	diag.Set("loss", total)
	return total, diag, nil
}

// klDiv is KL(m || p) with the mean-over-elements reduction:
// mean(m * (log m - log p)).
func klDiv(p, m *tensor.Tensor) float64 {
	sum := 0.0
	for i := range m.Data {
		mi := float64(m.Data[i])
		pi := float64(p.Data[i])
		sum += mi * (math.Log(mi) - math.Log(pi))
	}
	return sum / float64(len(m.Data))
}

func clampFloat(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
