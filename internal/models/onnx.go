package models

import (
	"fmt"
	"os"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/deepsight-lab/mirage/internal/tensor"
)

// ONNXClassifier runs an exported classifier through onnxruntime. The model
// must take one float32 input of shape [n, c, h, w] (or [n, d]) and return
// one float32 logit output of shape [n, numClasses].
type ONNXClassifier struct {
	session    *ort.DynamicAdvancedSession
	inputName  string
	outputName string
	numClasses int
}

// ortLibraryCandidates are the usual install locations of the onnxruntime
// shared library.
var ortLibraryCandidates = []string{
	"/usr/lib/libonnxruntime.so",
	"/usr/local/lib/libonnxruntime.so",
	"/usr/local/lib/libonnxruntime.dylib",
	"/opt/homebrew/lib/libonnxruntime.dylib",
}

// InitONNXRuntime locates the onnxruntime shared library and initializes
// the environment. Call once before constructing ONNX classifiers; pass an
// explicit library path to override the search.
func InitONNXRuntime(libraryPath string) error {
	if ort.IsInitialized() {
		return nil
	}
	if libraryPath == "" {
		for _, c := range ortLibraryCandidates {
			if _, err := os.Stat(c); err == nil {
				libraryPath = c
				break
			}
		}
	}
	if libraryPath == "" {
		return fmt.Errorf("models: libonnxruntime not found in default locations")
	}
	ort.SetSharedLibraryPath(libraryPath)
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("models: failed to initialize onnxruntime: %w", err)
	}
	return nil
}

// NewONNXClassifier opens an ONNX classifier session.
func NewONNXClassifier(modelPath, inputName, outputName string, numClasses int) (*ONNXClassifier, error) {
	session, err := ort.NewDynamicAdvancedSession(modelPath,
		[]string{inputName}, []string{outputName}, nil)
	if err != nil {
		return nil, fmt.Errorf("models: failed to open ONNX session %s: %w", modelPath, err)
	}
	return &ONNXClassifier{
		session:    session,
		inputName:  inputName,
		outputName: outputName,
		numClasses: numClasses,
	}, nil
}

// NumClasses returns the classifier's label count.
func (c *ONNXClassifier) NumClasses() int { return c.numClasses }

// Predict runs the batch through the session. ONNX classifiers expose no
// feature side channel; the auxiliary map is empty.
func (c *ONNXClassifier) Predict(images *tensor.Tensor) (*tensor.Tensor, Aux, error) {
	dims := make([]int64, len(images.Shape))
	for i, d := range images.Shape {
		dims[i] = int64(d)
	}
	input, err := ort.NewTensor(ort.NewShape(dims...), images.Data)
	if err != nil {
		return nil, nil, fmt.Errorf("models: failed to create input tensor: %w", err)
	}
	defer input.Destroy()

	outputs := []ort.Value{nil}
	if err := c.session.Run([]ort.Value{input}, outputs); err != nil {
		return nil, nil, fmt.Errorf("models: ONNX inference failed: %w", err)
	}
	out, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, nil, fmt.Errorf("models: unexpected ONNX output type %T", outputs[0])
	}
	defer out.Destroy()

	logits, err := tensor.FromSlice(append([]float32(nil), out.GetData()...),
		images.Len(), c.numClasses)
	if err != nil {
		return nil, nil, fmt.Errorf("models: unexpected ONNX output size: %w", err)
	}
	return logits, Aux{}, nil
}

// Close releases the session.
func (c *ONNXClassifier) Close() error {
	return c.session.Destroy()
}
