package main

import (
	"fmt"
	"log/slog"
	"math/rand"

	"github.com/spf13/cobra"

	"github.com/deepsight-lab/mirage/internal/attack"
	"github.com/deepsight-lab/mirage/internal/loss"
	"github.com/deepsight-lab/mirage/internal/metrics"
	"github.com/deepsight-lab/mirage/internal/models"
	"github.com/deepsight-lab/mirage/internal/optimize"
	"github.com/deepsight-lab/mirage/internal/tensor"
)

var (
	// target classifier
	onnxModel  string
	onnxLib    string
	onnxInput  string
	onnxOutput string
	clsPath    string
	clsHidden  []int
	classes    int
	imageSize  int
	channels   int

	// generator / discriminator
	genPath   string
	genHidden []int
	disPath   string
	disHidden []int
	latentDim int

	// pipeline
	attackLabels []int
	initialNum   int
	optimizeNum  int
	finalNum     int
	batchSize    int

	// latent search
	attackIters int
	attackPop   int
	attackSeed  int64
	latentBound float64

	// loss
	lossName  string
	disLoss   string
	disWeight float64
	flipViews bool

	// output
	saveDir       string
	saveOptimized bool
	saveFinal     bool
	evalOptimized bool
)

var attackCmd = &cobra.Command{
	Use:   "attack",
	Short: "Run a model inversion attack",
	Long: `Reconstructs images for the target labels by refining generator
latents against the target classifier, then selects and evaluates the
best candidates.`,
	RunE: runAttack,
}

func init() {
	attackCmd.Flags().StringVar(&onnxModel, "onnx-model", "", "Target classifier as an ONNX model")
	attackCmd.Flags().StringVar(&onnxLib, "onnx-lib", "", "Path to the onnxruntime shared library")
	attackCmd.Flags().StringVar(&onnxInput, "onnx-input", "input", "ONNX graph input name")
	attackCmd.Flags().StringVar(&onnxOutput, "onnx-output", "output", "ONNX graph output name")
	attackCmd.Flags().StringVar(&clsPath, "classifier", "", "Target classifier checkpoint (JSON)")
	attackCmd.Flags().IntSliceVar(&clsHidden, "cls-hidden", []int{128}, "Classifier hidden layer widths")
	attackCmd.Flags().IntVar(&classes, "classes", 0, "Number of target classes (required)")
	attackCmd.Flags().IntVar(&imageSize, "image-size", 64, "Image height and width")
	attackCmd.Flags().IntVar(&channels, "channels", 3, "Image channels")

	attackCmd.Flags().StringVar(&genPath, "generator", "", "Generator checkpoint (required)")
	attackCmd.Flags().IntSliceVar(&genHidden, "gen-hidden", []int{256}, "Generator hidden layer widths")
	attackCmd.Flags().StringVar(&disPath, "discriminator", "", "Discriminator checkpoint for realism losses")
	attackCmd.Flags().IntSliceVar(&disHidden, "dis-hidden", []int{128}, "Discriminator hidden layer widths")
	attackCmd.Flags().IntVar(&latentDim, "latent-dim", 100, "Generator latent dimension")

	attackCmd.Flags().IntSliceVar(&attackLabels, "labels", nil, "Target labels to invert (required)")
	attackCmd.Flags().IntVar(&initialNum, "initial-num", 0, "Latent candidates sampled per label")
	attackCmd.Flags().IntVar(&optimizeNum, "optimize-num", 0, "Candidates refined per label")
	attackCmd.Flags().IntVar(&finalNum, "final-num", 5, "Reconstructions kept per label")
	attackCmd.Flags().IntVar(&batchSize, "batch-size", 5, "Optimization batch size")

	attackCmd.Flags().IntVar(&attackIters, "iters", 100, "Latent search iterations")
	attackCmd.Flags().IntVar(&attackPop, "pop", 30, "Latent search population size")
	attackCmd.Flags().Int64Var(&attackSeed, "seed", 42, "Random seed")
	attackCmd.Flags().Float64Var(&latentBound, "latent-bound", 3, "Symmetric latent box bound")

	attackCmd.Flags().StringVar(&lossName, "loss", "cross_entropy", "Classification loss: cross_entropy, nll")
	attackCmd.Flags().StringVar(&disLoss, "disc-loss", "none", "Realism loss: none, gmi, kedmi")
	attackCmd.Flags().Float64Var(&disWeight, "disc-weight", 1, "Realism loss weight")
	attackCmd.Flags().BoolVar(&flipViews, "flip-views", false, "Score horizontally flipped views too")

	attackCmd.Flags().StringVar(&saveDir, "save-dir", "results", "Directory for reconstructed images")
	attackCmd.Flags().BoolVar(&saveOptimized, "save-optimized", false, "Save every optimized candidate")
	attackCmd.Flags().BoolVar(&saveFinal, "save-final", true, "Save the final reconstructions")
	attackCmd.Flags().BoolVar(&evalOptimized, "eval-optimized", false, "Evaluate pre-selection candidates too")

	attackCmd.MarkFlagRequired("generator")
	attackCmd.MarkFlagRequired("labels")
	attackCmd.MarkFlagRequired("classes")
	rootCmd.AddCommand(attackCmd)
}

// buildClassifier loads the target model from whichever backend was
// configured, preferring ONNX when both are set.
func buildClassifier() (models.Classifier, error) {
	inputSize := channels * imageSize * imageSize
	switch {
	case onnxModel != "":
		if err := models.InitONNXRuntime(onnxLib); err != nil {
			return nil, fmt.Errorf("failed to initialize onnxruntime: %w", err)
		}
		return models.NewONNXClassifier(onnxModel, onnxInput, onnxOutput, classes)
	case clsPath != "":
		classifier := models.NewLoomClassifier(inputSize, classes, clsHidden)
		if err := classifier.Load(clsPath); err != nil {
			return nil, err
		}
		return classifier, nil
	default:
		return nil, fmt.Errorf("either --onnx-model or --classifier is required")
	}
}

func buildAttackLoss(classifier models.Classifier) (loss.Loss, error) {
	var augment loss.AugmentFunc
	if flipViews {
		augment = loss.WithHorizontalFlip()
	}
	classification, err := loss.NewAugmentClassification(classifier, lossName, augment)
	if err != nil {
		return nil, err
	}
	if disLoss == "none" {
		return classification, nil
	}

	if disPath == "" {
		return nil, fmt.Errorf("--disc-loss %s needs --discriminator", disLoss)
	}
	inputSize := channels * imageSize * imageSize
	discriminator := models.NewLoomDiscriminator(inputSize, classes, disHidden)
	if err := discriminator.Load(disPath); err != nil {
		return nil, err
	}

	var realism loss.Loss
	switch disLoss {
	case "gmi":
		realism = loss.NewGMIDiscriminator(discriminator)
	case "kedmi":
		realism = loss.NewKEDMIDiscriminator(discriminator)
	default:
		return nil, fmt.Errorf("unknown realism loss: %s", disLoss)
	}
	return loss.NewCompose([]loss.Loss{classification, realism}, []float64{1, disWeight})
}

// confidenceScore ranks candidates by the classifier's softmax belief in
// their target label.
func confidenceScore(classifier models.Classifier) func(*tensor.Tensor, tensor.Labels) (*tensor.Tensor, error) {
	return func(images *tensor.Tensor, labels tensor.Labels) (*tensor.Tensor, error) {
		logits, _, err := classifier.Predict(images)
		if err != nil {
			return nil, err
		}
		probs := logits.Softmax(1)
		scores := tensor.New(images.Len())
		for i := 0; i < images.Len(); i++ {
			scores.Data[i] = probs.Row(i)[labels[i]]
		}
		return scores, nil
	}
}

func runAttack(cmd *cobra.Command, args []string) error {
	slog.Info("starting attack", "labels", attackLabels, "final_num", finalNum)

	classifier, err := buildClassifier()
	if err != nil {
		return err
	}
	generator := models.NewLoomGenerator(latentDim, classes, []int{channels, imageSize, imageSize}, genHidden)
	if err := generator.Load(genPath); err != nil {
		return err
	}

	attackLoss, err := buildAttackLoss(classifier)
	if err != nil {
		return err
	}
	refiner, err := optimize.NewRefiner(
		generator, attackLoss,
		optimize.NewMayfly(attackIters, attackPop, attackSeed),
		-latentBound, latentBound,
	)
	if err != nil {
		return err
	}

	imageScore := confidenceScore(classifier)
	latentScore := func(latents *tensor.Tensor, labels tensor.Labels) (*tensor.Tensor, error) {
		images, err := generator.Generate(latents, labels)
		if err != nil {
			return nil, err
		}
		return imageScore(images, labels)
	}

	rng := rand.New(rand.NewSource(attackSeed))
	sampler := func(n int) (*tensor.Tensor, error) {
		latents := tensor.New(n, latentDim)
		for i := range latents.Data {
			latents.Data[i] = float32(rng.NormFloat64())
		}
		return latents, nil
	}

	accuracy, err := metrics.NewAccuracy(classifier, batchSize, 1, 5)
	if err != nil {
		return err
	}
	attacker, err := attack.New(attack.Config{
		SampleLatents:       sampler,
		InitialNum:          initialNum,
		InitialScore:        latentScore,
		OptimizeNum:         optimizeNum,
		OptimizeBatchSize:   batchSize,
		Optimize:            refiner.Optimize,
		FinalNum:            finalNum,
		FinalScore:          imageScore,
		SaveDir:             saveDir,
		SaveOptimizedImages: saveOptimized,
		SaveFinalImages:     saveFinal,
		SaveNormalize:       true,
	}, []attack.Metric{
		accuracy,
		metrics.NewTargetConfidence(classifier, batchSize),
	})
	if err != nil {
		return err
	}

	return attacker.Attack(attackLabels, evalOptimized)
}
