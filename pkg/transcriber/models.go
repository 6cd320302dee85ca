package transcriber

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
)

const modelRepoBase = "https://huggingface.co/ggerganov/whisper.cpp/resolve/main"

// ModelFile maps a short model name to its ggml file name.
type ModelFile struct {
	FileName string
	Name     string
}

// KnownModels lists the downloadable whisper.cpp models.
var KnownModels = []ModelFile{
	{"ggml-tiny.en.bin", "tiny.en"},
	{"ggml-tiny.bin", "tiny"},
	{"ggml-base.en.bin", "base.en"},
	{"ggml-base.bin", "base"},
	{"ggml-small.en.bin", "small.en"},
	{"ggml-small.bin", "small"},
	{"ggml-medium.en.bin", "medium.en"},
	{"ggml-medium.bin", "medium"},
	{"ggml-large-v3.bin", "large-v3"},
}

// DownloadModel fetches a whisper model into modelsDir and returns the
// local path. An already-downloaded model is returned as-is.
func DownloadModel(ctx context.Context, modelsDir, modelName string) (string, error) {
	return downloadModelFrom(ctx, modelRepoBase, modelsDir, modelName)
}

func downloadModelFrom(ctx context.Context, repoBase, modelsDir, modelName string) (string, error) {
	var file *ModelFile
	for i := range KnownModels {
		if KnownModels[i].Name == modelName {
			file = &KnownModels[i]
			break
		}
	}
	if file == nil {
		names := make([]string, 0, len(KnownModels))
		for _, m := range KnownModels {
			names = append(names, m.Name)
		}
		return "", fmt.Errorf("unknown model %q, available: %v", modelName, names)
	}

	outputPath := filepath.Join(modelsDir, file.FileName)
	if _, err := os.Stat(outputPath); err == nil {
		return outputPath, nil
	}
	if err := os.MkdirAll(modelsDir, 0o750); err != nil {
		return "", fmt.Errorf("create models dir: %w", err)
	}

	url := repoBase + "/" + file.FileName
	logrus.WithFields(logrus.Fields{
		"model": modelName,
		"url":   url,
	}).Info("Downloading whisper model")

	resp, err := resty.New().R().
		SetContext(ctx).
		SetOutput(outputPath).
		Get(url)
	if err != nil {
		return "", fmt.Errorf("model download: %w", err)
	}
	if resp.IsError() {
		_ = os.Remove(outputPath)
		return "", fmt.Errorf("model download failed: %s", resp.Status())
	}
	return outputPath, nil
}
