package models

import (
	"fmt"

	"github.com/openfluke/loom/nn"

	"github.com/deepsight-lab/mirage/internal/tensor"
)

// LoomClassifier wraps a loom dense network as a Classifier. The image
// batch is flattened per sample; the activation after featureLayer is
// exposed under HookNameFeature.
type LoomClassifier struct {
	net          *nn.Network
	inputSize    int
	numClasses   int
	featureLayer int
}

// NewLoomClassifier builds an MLP classifier with the given hidden layer
// widths. The penultimate activation is the feature side channel.
func NewLoomClassifier(inputSize, numClasses int, hidden []int) *LoomClassifier {
	if len(hidden) == 0 {
		hidden = []int{128}
	}
	net := nn.NewNetwork(inputSize, 1, 1, len(hidden)+1)
	net.BatchSize = 1
	prev := inputSize
	for i, width := range hidden {
		net.SetLayer(0, 0, i, nn.InitDenseLayer(prev, width, nn.ActivationLeakyReLU))
		prev = width
	}
	net.SetLayer(0, 0, len(hidden), nn.InitDenseLayer(prev, numClasses, nn.ActivationSigmoid))
	net.InitializeWeights()

	return &LoomClassifier{
		net:          net,
		inputSize:    inputSize,
		numClasses:   numClasses,
		featureLayer: len(hidden) - 1,
	}
}

// NumClasses returns the classifier's label count.
func (c *LoomClassifier) NumClasses() int { return c.numClasses }

// Net exposes the underlying network for parameter updaters.
func (c *LoomClassifier) Net() *nn.Network { return c.net }

// Predict runs the network per sample, capturing the penultimate
// activation as the feature side channel.
func (c *LoomClassifier) Predict(images *tensor.Tensor) (*tensor.Tensor, Aux, error) {
	n := images.Len()
	if images.RowSize() != c.inputSize {
		return nil, nil, fmt.Errorf("models: classifier expects %d inputs per sample, got %d", c.inputSize, images.RowSize())
	}

	logits := tensor.New(n, c.numClasses)
	var features *tensor.Tensor

	for i := 0; i < n; i++ {
		st := c.net.InitStepState(c.inputSize)
		st.SetInput(images.Row(i))
		for l := 0; l < c.net.TotalLayers(); l++ {
			c.net.StepForward(st)
			if l == c.featureLayer {
				feat := st.GetOutput()
				if features == nil {
					features = tensor.New(n, len(feat))
				}
				copy(features.Row(i), feat)
			}
		}
		copy(logits.Row(i), st.GetOutput())
	}

	return logits, Aux{HookNameFeature: features}, nil
}

// Fit trains the classifier on (images, labels) with one-hot targets.
func (c *LoomClassifier) Fit(images *tensor.Tensor, labels tensor.Labels, epochs int, learningRate float32) error {
	if images.Len() != labels.Len() {
		return fmt.Errorf("models: %d images but %d labels", images.Len(), labels.Len())
	}
	batches := make([]nn.TrainingBatch, images.Len())
	for i := range batches {
		target := make([]float32, c.numClasses)
		target[labels[i]] = 1
		batches[i] = nn.TrainingBatch{Input: images.Row(i), Target: target}
	}
	if _, err := c.net.Train(batches, &nn.TrainingConfig{Epochs: epochs, LearningRate: learningRate}); err != nil {
		return fmt.Errorf("models: classifier training failed: %w", err)
	}
	return nil
}

// Save writes the classifier weights to a JSON checkpoint.
func (c *LoomClassifier) Save(path string) error {
	return c.net.SaveModel(path, "classifier")
}

// Load replaces the classifier weights from a JSON checkpoint. The
// checkpoint must match the architecture the classifier was built with.
func (c *LoomClassifier) Load(path string) error {
	net, err := nn.LoadModel(path, "classifier")
	if err != nil {
		return fmt.Errorf("models: failed to load classifier checkpoint: %w", err)
	}
	net.BatchSize = 1
	c.net = net
	return nil
}

// LoomGenerator is a class-conditional dense generator: the latent vector
// concatenated with a one-hot label is mapped to a flat image.
type LoomGenerator struct {
	net        *nn.Network
	latentDim  int
	numClasses int
	imageShape []int // [c, h, w]
}

// NewLoomGenerator builds a conditional generator producing images of the
// given [c, h, w] shape.
func NewLoomGenerator(latentDim, numClasses int, imageShape []int, hidden []int) *LoomGenerator {
	if len(hidden) == 0 {
		hidden = []int{256}
	}
	outSize := imageShape[0] * imageShape[1] * imageShape[2]
	inSize := latentDim + numClasses

	net := nn.NewNetwork(inSize, 1, 1, len(hidden)+1)
	net.BatchSize = 1
	prev := inSize
	for i, width := range hidden {
		net.SetLayer(0, 0, i, nn.InitDenseLayer(prev, width, nn.ActivationLeakyReLU))
		prev = width
	}
	net.SetLayer(0, 0, len(hidden), nn.InitDenseLayer(prev, outSize, nn.ActivationSigmoid))
	net.InitializeWeights()

	return &LoomGenerator{
		net:        net,
		latentDim:  latentDim,
		numClasses: numClasses,
		imageShape: imageShape,
	}
}

// LatentDim returns the latent vector size.
func (g *LoomGenerator) LatentDim() int { return g.latentDim }

// Net exposes the underlying network for parameter updaters.
func (g *LoomGenerator) Net() *nn.Network { return g.net }

// Generate maps latents to an image batch [n, c, h, w].
func (g *LoomGenerator) Generate(latents *tensor.Tensor, labels tensor.Labels) (*tensor.Tensor, error) {
	n := latents.Len()
	if labels.Len() != n {
		return nil, fmt.Errorf("models: %d latents but %d labels", n, labels.Len())
	}
	if latents.RowSize() != g.latentDim {
		return nil, fmt.Errorf("models: generator expects latent dim %d, got %d", g.latentDim, latents.RowSize())
	}

	out := tensor.New(n, g.imageShape[0], g.imageShape[1], g.imageShape[2])
	input := make([]float32, g.latentDim+g.numClasses)
	for i := 0; i < n; i++ {
		copy(input, latents.Row(i))
		oneHot(input[g.latentDim:], labels[i])
		flat, _ := g.net.ForwardCPU(input)
		copy(out.Row(i), flat)
	}
	return out, nil
}

// Save writes the generator weights to a JSON checkpoint.
func (g *LoomGenerator) Save(path string) error {
	return g.net.SaveModel(path, "generator")
}

// Load replaces the generator weights from a JSON checkpoint.
func (g *LoomGenerator) Load(path string) error {
	net, err := nn.LoadModel(path, "generator")
	if err != nil {
		return fmt.Errorf("models: failed to load generator checkpoint: %w", err)
	}
	net.BatchSize = 1
	g.net = net
	return nil
}

// LoomDiscriminator is a projection-style conditional critic mapping a
// flat image plus one-hot label to a single realism score.
type LoomDiscriminator struct {
	net        *nn.Network
	inputSize  int
	numClasses int
}

// NewLoomDiscriminator builds a conditional critic for flat images of
// inputSize elements.
func NewLoomDiscriminator(inputSize, numClasses int, hidden []int) *LoomDiscriminator {
	if len(hidden) == 0 {
		hidden = []int{128}
	}
	inSize := inputSize + numClasses
	net := nn.NewNetwork(inSize, 1, 1, len(hidden)+1)
	net.BatchSize = 1
	prev := inSize
	for i, width := range hidden {
		net.SetLayer(0, 0, i, nn.InitDenseLayer(prev, width, nn.ActivationLeakyReLU))
		prev = width
	}
	net.SetLayer(0, 0, len(hidden), nn.InitDenseLayer(prev, 1, nn.ActivationTanh))
	net.InitializeWeights()

	return &LoomDiscriminator{net: net, inputSize: inputSize, numClasses: numClasses}
}

// Net exposes the underlying network for parameter updaters.
func (d *LoomDiscriminator) Net() *nn.Network { return d.net }

// Discriminate scores each image, conditioned on its label. Passing nil
// labels scores unconditionally (zero label vector).
func (d *LoomDiscriminator) Discriminate(images *tensor.Tensor, labels tensor.Labels) (*tensor.Tensor, error) {
	n := images.Len()
	if images.RowSize() != d.inputSize {
		return nil, fmt.Errorf("models: discriminator expects %d inputs per sample, got %d", d.inputSize, images.RowSize())
	}

	out := tensor.New(n)
	input := make([]float32, d.inputSize+d.numClasses)
	for i := 0; i < n; i++ {
		copy(input, images.Row(i))
		lbl := make([]float32, d.numClasses)
		if labels != nil {
			oneHot(lbl, labels[i])
		}
		copy(input[d.inputSize:], lbl)
		score, _ := d.net.ForwardCPU(input)
		out.Data[i] = score[0]
	}
	return out, nil
}

// Save writes the discriminator weights to a JSON checkpoint.
func (d *LoomDiscriminator) Save(path string) error {
	return d.net.SaveModel(path, "discriminator")
}

// Load replaces the discriminator weights from a JSON checkpoint.
func (d *LoomDiscriminator) Load(path string) error {
	net, err := nn.LoadModel(path, "discriminator")
	if err != nil {
		return fmt.Errorf("models: failed to load discriminator checkpoint: %w", err)
	}
	net.BatchSize = 1
	d.net = net
	return nil
}

func oneHot(dst []float32, label int) {
	for i := range dst {
		dst[i] = 0
	}
	if label >= 0 && label < len(dst) {
		dst[label] = 1
	}
}
