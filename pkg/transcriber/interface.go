// Package transcriber turns short WAV slices into text. Three backends
// share the interface: a whisper-cli subprocess, a remote
// OpenAI-compatible HTTP API, and a mock for tests.
package transcriber

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/sirupsen/logrus"
)

// Backend is the unified interface for all transcription backends.
type Backend interface {
	// Name identifies the backend in logs.
	Name() string

	// IsReady reports whether the backend can currently process slices.
	IsReady() bool

	// TranscribeFile transcribes one canonical-format WAV file.
	TranscribeFile(ctx context.Context, wavPath string) (string, error)
}

// Mode selects between the local subprocess and the remote API.
type Mode string

const (
	ModeLocal  Mode = "local"
	ModeRemote Mode = "remote"
)

// Config parameterizes backend resolution at dispatch time.
type Config struct {
	Mode Mode

	// Local backend: path to a ggml model file, optional language code.
	ModelPath string
	Language  string

	// Remote backend: full endpoint URL, model identifier, optional key.
	RemoteBaseURL string
	RemoteModel   string
	RemoteAPIKey  string
}

// ErrNoBackend is wrapped by Resolve when no backend is usable.
var ErrNoBackend = errors.New("no transcription backend available")

// Resolve picks a backend once per dispatch: the remote API in remote
// mode; otherwise a whisper-cli binary next to the current executable,
// then one on PATH. Local mode does not fall back to the remote API. The
// caller caches the result instead of probing per segment.
func Resolve(cfg Config) (Backend, error) {
	if cfg.Mode == ModeRemote {
		if cfg.RemoteBaseURL == "" || cfg.RemoteModel == "" {
			return nil, fmt.Errorf("%w: remote mode needs a base URL and a model", ErrNoBackend)
		}
		return NewRemote(cfg.RemoteBaseURL, cfg.RemoteModel, cfg.RemoteAPIKey), nil
	}

	if cfg.ModelPath == "" {
		return nil, fmt.Errorf("%w: no model path configured; download a model first", ErrNoBackend)
	}
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("model not found: %s", cfg.ModelPath)
	}
	binary := findWhisperBinary()
	if binary == "" {
		return nil, fmt.Errorf("%w: whisper-cli not found next to the executable or on PATH, and remote mode is not selected", ErrNoBackend)
	}
	logrus.WithFields(logrus.Fields{
		"binary": binary,
		"model":  cfg.ModelPath,
	}).Info("Whisper CLI backend selected")
	return NewWhisperCLI(binary, cfg.ModelPath, cfg.Language), nil
}

// findWhisperBinary looks for the whisper-cli executable adjacent to the
// running binary first, then on PATH.
func findWhisperBinary() string {
	if exe, err := os.Executable(); err == nil {
		dir := filepath.Dir(exe)
		for _, name := range whisperBinaryNames() {
			candidate := filepath.Join(dir, name)
			if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
				return candidate
			}
		}
	}
	if p, err := exec.LookPath("whisper-cli"); err == nil {
		return p
	}
	return ""
}

func whisperBinaryNames() []string {
	if runtime.GOOS == "windows" {
		return []string{"whisper-cli.exe", "whisper-cli-x86_64-pc-windows-msvc.exe"}
	}
	return []string{"whisper-cli"}
}
