package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/deepsight-lab/mirage/internal/gan"
	"github.com/deepsight-lab/mirage/internal/loss"
	"github.com/deepsight-lab/mirage/internal/models"
)

var (
	publicDir   string
	cacheDir    string
	datasetName string
	targetName  string

	trainEpochs    int
	trainBatch     int
	topN           int
	coefInvLoss    float64
	sampleInterval int
	trainSeed      int64

	spsaLR      float64
	spsaPerturb float64

	jitterViews    int
	jitterStrength float64

	genOut string
	disOut string
)

var trainGANCmd = &cobra.Command{
	Use:   "train-gan",
	Short: "Train the conditional generator for inversion",
	Long: `Selects a pseudo-labelled subset of the public dataset with the
target classifier, then trains a conditional generator and discriminator
on it with hinge and max-margin guidance losses.`,
	RunE: runTrainGAN,
}

func init() {
	trainGANCmd.Flags().StringVar(&publicDir, "public-dir", "", "Public image dataset root (required)")
	trainGANCmd.Flags().StringVar(&cacheDir, "cache-dir", "cache", "Cache root for the pseudo-labelled subset")
	trainGANCmd.Flags().StringVar(&datasetName, "dataset", "public", "Dataset name used in cache paths")
	trainGANCmd.Flags().StringVar(&targetName, "target", "target", "Target model name used in cache paths")

	trainGANCmd.Flags().StringVar(&onnxModel, "onnx-model", "", "Target classifier as an ONNX model")
	trainGANCmd.Flags().StringVar(&onnxLib, "onnx-lib", "", "Path to the onnxruntime shared library")
	trainGANCmd.Flags().StringVar(&onnxInput, "onnx-input", "input", "ONNX graph input name")
	trainGANCmd.Flags().StringVar(&onnxOutput, "onnx-output", "output", "ONNX graph output name")
	trainGANCmd.Flags().StringVar(&clsPath, "classifier", "", "Target classifier checkpoint (JSON)")
	trainGANCmd.Flags().IntSliceVar(&clsHidden, "cls-hidden", []int{128}, "Classifier hidden layer widths")
	trainGANCmd.Flags().IntVar(&classes, "classes", 0, "Number of target classes (required)")
	trainGANCmd.Flags().IntVar(&imageSize, "image-size", 64, "Image height and width")
	trainGANCmd.Flags().IntVar(&channels, "channels", 3, "Image channels")
	trainGANCmd.Flags().IntSliceVar(&genHidden, "gen-hidden", []int{256}, "Generator hidden layer widths")
	trainGANCmd.Flags().IntSliceVar(&disHidden, "dis-hidden", []int{128}, "Discriminator hidden layer widths")
	trainGANCmd.Flags().IntVar(&latentDim, "latent-dim", 100, "Generator latent dimension")

	trainGANCmd.Flags().IntVar(&trainEpochs, "epochs", 50, "Training epochs")
	trainGANCmd.Flags().IntVar(&trainBatch, "batch-size", 32, "Training batch size")
	trainGANCmd.Flags().IntVar(&topN, "top-n", 30, "Public images selected per class")
	trainGANCmd.Flags().Float64Var(&coefInvLoss, "coef-inv", 0.2, "Classifier guidance weight")
	trainGANCmd.Flags().IntVar(&sampleInterval, "sample-interval", 5, "Epochs between sample grids (0 disables)")
	trainGANCmd.Flags().Int64Var(&trainSeed, "seed", 42, "Random seed")

	trainGANCmd.Flags().Float64Var(&spsaLR, "lr", 0.01, "SPSA learning rate")
	trainGANCmd.Flags().Float64Var(&spsaPerturb, "perturbation", 0.01, "SPSA perturbation size")

	trainGANCmd.Flags().IntVar(&jitterViews, "jitter-views", 0, "Jittered guidance views (0 disables)")
	trainGANCmd.Flags().Float64Var(&jitterStrength, "jitter-strength", 0.1, "Jitter noise strength")

	trainGANCmd.Flags().StringVar(&genOut, "gen-out", "generator.json", "Generator checkpoint output path")
	trainGANCmd.Flags().StringVar(&disOut, "dis-out", "discriminator.json", "Discriminator checkpoint output path")

	trainGANCmd.MarkFlagRequired("public-dir")
	trainGANCmd.MarkFlagRequired("classes")
	rootCmd.AddCommand(trainGANCmd)
}

func runTrainGAN(cmd *cobra.Command, args []string) error {
	classifier, err := buildClassifier()
	if err != nil {
		return err
	}

	inputSize := channels * imageSize * imageSize
	generator := models.NewLoomGenerator(latentDim, classes, []int{channels, imageSize, imageSize}, genHidden)
	discriminator := models.NewLoomDiscriminator(inputSize, classes, disHidden)

	spsaConfig := models.SPSAConfig{
		LearningRate: float32(spsaLR),
		Perturbation: float32(spsaPerturb),
		Seed:         trainSeed,
	}
	updateGen := models.NewSPSAUpdater(generator.Net(), spsaConfig)
	updateDis := models.NewSPSAUpdater(discriminator.Net(), spsaConfig)

	var augment loss.AugmentFunc
	if jitterViews > 0 {
		augment = loss.WithJitter(float32(jitterStrength), jitterViews, trainSeed)
	}

	trainConfig := gan.TrainConfig{
		Epochs:         trainEpochs,
		BatchSize:      trainBatch,
		TopN:           topN,
		CoefInvLoss:    coefInvLoss,
		SampleInterval: sampleInterval,
		CacheDir:       cacheDir,
		DatasetName:    datasetName,
		TargetName:     targetName,
		Augment:        augment,
		Seed:           trainSeed,
	}
	trainer, err := gan.NewTrainer(trainConfig, generator, discriminator, classifier, updateGen, updateDis)
	if err != nil {
		return err
	}

	if err := trainer.Prepare(publicDir); err != nil {
		return err
	}
	dataset, err := gan.LoadImageFolder(trainConfig.PseudoLabelDir())
	if err != nil {
		return err
	}
	slog.Info("pseudo-labelled dataset ready", "images", dataset.Len(), "classes", dataset.NumClasses())

	if err := trainer.Train(dataset); err != nil {
		return err
	}

	if err := generator.Save(genOut); err != nil {
		return err
	}
	if err := discriminator.Save(disOut); err != nil {
		return err
	}
	slog.Info("checkpoints written", "generator", genOut, "discriminator", disOut)
	return nil
}
