package models

import (
	"fmt"
	"math/rand"

	"github.com/openfluke/loom/nn"
)

// SPSAConfig tunes the simultaneous-perturbation updater.
type SPSAConfig struct {
	// LearningRate scales the estimated gradient step.
	LearningRate float32
	// Perturbation is the size of the two-sided probe.
	Perturbation float32
	// Seed makes the perturbation sequence reproducible.
	Seed int64
}

// DefaultSPSAConfig returns update parameters that behave for the small
// dense reference networks.
func DefaultSPSAConfig() SPSAConfig {
	return SPSAConfig{
		LearningRate: 0.01,
		Perturbation: 0.01,
		Seed:         42,
	}
}

// NewSPSAUpdater returns an update function that adjusts the network's
// parameters to reduce a scalar objective using simultaneous-perturbation
// stochastic approximation: both probes perturb every parameter at once
// with a shared Rademacher mask, and the two objective evaluations yield a
// gradient estimate for all parameters. The returned function satisfies
// the GAN trainer's update collaborator contract.
func NewSPSAUpdater(net *nn.Network, cfg SPSAConfig) func(objective func() (float64, error)) error {
	rng := rand.New(rand.NewSource(cfg.Seed))

	return func(objective func() (float64, error)) error {
		params := networkParams(net)
		if len(params) == 0 {
			return fmt.Errorf("models: network has no trainable parameters")
		}

		mask := make([][]float32, len(params))
		for i, p := range params {
			mask[i] = make([]float32, len(p))
			for j := range mask[i] {
				if rng.Intn(2) == 0 {
					mask[i][j] = 1
				} else {
					mask[i][j] = -1
				}
			}
		}

		perturb := func(sign float32) {
			for i, p := range params {
				for j := range p {
					p[j] += sign * cfg.Perturbation * mask[i][j]
				}
			}
		}

		perturb(+1)
		plus, err := objective()
		if err != nil {
			perturb(-1)
			return fmt.Errorf("models: objective at +c failed: %w", err)
		}
		perturb(-2)
		minus, err := objective()
		if err != nil {
			perturb(+1)
			return fmt.Errorf("models: objective at -c failed: %w", err)
		}
		perturb(+1)

		scale := float32(plus-minus) / (2 * cfg.Perturbation)
		for i, p := range params {
			for j := range p {
				p[j] -= cfg.LearningRate * scale * mask[i][j]
			}
		}
		return nil
	}
}

// networkParams collects every kernel and bias slice of the network's
// layers. The slices alias the live parameters, so writes update the model
// in place.
func networkParams(net *nn.Network) [][]float32 {
	var params [][]float32
	for l := 0; l < net.TotalLayers(); l++ {
		layer := net.GetLayer(0, 0, l)
		if layer == nil {
			continue
		}
		if len(layer.Kernel) > 0 {
			params = append(params, layer.Kernel)
		}
		if len(layer.Bias) > 0 {
			params = append(params, layer.Bias)
		}
	}
	return params
}
