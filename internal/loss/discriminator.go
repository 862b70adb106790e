package loss

import (
	"fmt"

	"github.com/deepsight-lab/mirage/internal/models"
	"github.com/deepsight-lab/mirage/internal/report"
	"github.com/deepsight-lab/mirage/internal/tensor"
)

// GMIDiscriminator minimizes the negative mean critic score, pushing
// reconstructions toward the discriminator's notion of realism.
type GMIDiscriminator struct {
	discriminator models.Discriminator
}

// NewGMIDiscriminator builds the GMI-style realism loss.
func NewGMIDiscriminator(d models.Discriminator) *GMIDiscriminator {
	return &GMIDiscriminator{discriminator: d}
}

// Forward returns -mean D(images).
func (l *GMIDiscriminator) Forward(images *tensor.Tensor, labels tensor.Labels) (float64, *report.Ordered, error) {
	scores, err := l.discriminator.Discriminate(images, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("loss: discriminator failed: %w", err)
	}
	loss := -scores.Mean()

	diag := report.NewOrdered()
	diag.Set("discriminator loss", loss)
	return loss, diag, nil
}

// KEDMIDiscriminator computes the log-sum-exp adversarial loss over the
// discriminator's per-class logits.
type KEDMIDiscriminator struct {
	discriminator models.Discriminator
}

// NewKEDMIDiscriminator builds the KEDMI-style adversarial loss.
func NewKEDMIDiscriminator(d models.Discriminator) *KEDMIDiscriminator {
	return &KEDMIDiscriminator{discriminator: d}
}

// Forward returns mean softplus(logsumexp(logits)) - mean logsumexp(logits).
func (l *KEDMIDiscriminator) Forward(images *tensor.Tensor, labels tensor.Labels) (float64, *report.Ordered, error) {
	logits, err := l.discriminator.Discriminate(images, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("loss: discriminator failed: %w", err)
	}

	var lse *tensor.Tensor
	if len(logits.Shape) == 1 {
		lse = logits
	} else {
		lse = logits.LogSumExpRows()
	}

	meanSoftplus := 0.0
	meanLse := 0.0
	for _, v := range lse.Data {
		meanSoftplus += softplus(float64(v))
		meanLse += float64(v)
	}
	n := float64(lse.Len())
	loss := meanSoftplus/n - meanLse/n

	diag := report.NewOrdered()
	diag.Set("discriminator loss", loss)
	return loss, diag, nil
}
