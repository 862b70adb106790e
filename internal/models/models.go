// Package models defines the model collaborator contracts the attack
// pipeline is written against, plus reference backends (loom networks, ONNX
// sessions) that satisfy them.
package models

import "github.com/deepsight-lab/mirage/internal/tensor"

// HookNameFeature is the auxiliary-output key under which classifiers
// expose their penultimate feature activations.
const HookNameFeature = "feature"

// Aux carries named side-channel outputs produced alongside a prediction,
// e.g. the penultimate feature map under HookNameFeature.
type Aux map[string]*tensor.Tensor

// Classifier scores an image batch. Predict returns per-class logits
// [n, numClasses] and any auxiliary outputs the backend exposes.
type Classifier interface {
	Predict(images *tensor.Tensor) (*tensor.Tensor, Aux, error)
	NumClasses() int
}

// Generator maps latent vectors (conditioned on labels) to an image batch.
type Generator interface {
	Generate(latents *tensor.Tensor, labels tensor.Labels) (*tensor.Tensor, error)
	LatentDim() int
}

// Discriminator scores image realism. Labels condition the critic for
// projection-style discriminators; unconditional backends ignore them.
// The result is [n] for scalar critics or [n, k] for logit critics.
type Discriminator interface {
	Discriminate(images *tensor.Tensor, labels tensor.Labels) (*tensor.Tensor, error)
}

// BatchNormStats describes one normalization layer's discrepancy between
// its running statistics and the statistics of the last forward pass.
type BatchNormStats struct {
	// Discrepancy is the layer's feature-statistics penalty for the last
	// forward pass, already reduced to a scalar.
	Discrepancy float64
}

// BatchNormStatsProvider is implemented by classifier backends that can
// report per-normalization-layer statistics for the most recent Predict
// call. Used by the DeepInversion-style prior loss.
type BatchNormStatsProvider interface {
	BatchNormStats() []BatchNormStats
}
