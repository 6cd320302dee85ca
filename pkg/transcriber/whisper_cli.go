package transcriber

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/sirupsen/logrus"
)

// WhisperCLI invokes a whisper.cpp command-line binary per slice. Output
// goes through a text file (-otxt -of) rather than stdout, which some
// builds garble with progress output.
type WhisperCLI struct {
	binaryPath string
	modelPath  string
	language   string
}

// NewWhisperCLI creates the subprocess backend.
func NewWhisperCLI(binaryPath, modelPath, language string) *WhisperCLI {
	return &WhisperCLI{
		binaryPath: binaryPath,
		modelPath:  modelPath,
		language:   language,
	}
}

// Name implements Backend.
func (w *WhisperCLI) Name() string { return "whisper-cli" }

// IsReady implements Backend.
func (w *WhisperCLI) IsReady() bool {
	if _, err := os.Stat(w.modelPath); err != nil {
		return false
	}
	_, err := os.Stat(w.binaryPath)
	return err == nil
}

// TranscribeFile implements Backend.
func (w *WhisperCLI) TranscribeFile(ctx context.Context, wavPath string) (string, error) {
	base := strings.TrimSuffix(wavPath, ".wav")
	txtPath := base + ".txt"

	args := []string{"-m", w.modelPath, "-f", wavPath}
	if w.language != "" {
		args = append(args, "-l", w.language)
	}
	args = append(args, "-np", "-nt", "-otxt", "-of", base)

	logrus.WithFields(logrus.Fields{
		"slice": wavPath,
		"model": w.modelPath,
	}).Debug("Running whisper-cli")

	// #nosec G204 - binary and model paths come from configuration, not user input
	cmd := exec.CommandContext(ctx, w.binaryPath, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("whisper-cli failed: %w: %s", err, strings.TrimSpace(string(output)))
	}

	raw, err := os.ReadFile(txtPath)
	if err != nil {
		return "", fmt.Errorf("whisper-cli produced no output file: %w", err)
	}
	_ = os.Remove(txtPath)

	return parseWhisperOutput(string(raw)), nil
}

// parseWhisperOutput strips empty lines and "[.. --> ..]" timestamp
// prefixes from whisper's text output, joining what remains with single
// spaces.
func parseWhisperOutput(raw string) string {
	var parts []string
	for _, line := range strings.Split(raw, "\n") {
		t := strings.TrimSpace(line)
		if t == "" {
			continue
		}
		if strings.HasPrefix(t, "[") && strings.Contains(t, "-->") {
			if i := strings.Index(t, "]"); i >= 0 {
				t = strings.TrimSpace(t[i+1:])
			}
			if t == "" {
				continue
			}
		}
		parts = append(parts, t)
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}
