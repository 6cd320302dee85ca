package transcriber

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
)

// Remote posts slices to an OpenAI-compatible transcription endpoint
// (Voxtral, open-asr-server, the OpenAI API itself). The caller supplies
// the full endpoint URL, e.g. http://localhost:8000/v1/audio/transcriptions.
type Remote struct {
	http    *resty.Client
	baseURL string
	model   string
	apiKey  string
}

// NewRemote creates the HTTP backend.
func NewRemote(baseURL, model, apiKey string) *Remote {
	return &Remote{
		http:    resty.New(),
		baseURL: strings.TrimSpace(baseURL),
		model:   model,
		apiKey:  apiKey,
	}
}

// Name implements Backend.
func (r *Remote) Name() string { return "remote" }

// IsReady implements Backend.
func (r *Remote) IsReady() bool { return r.baseURL != "" && r.model != "" }

type remoteTranscription struct {
	Text string `json:"text"`
}

// TranscribeFile implements Backend: multipart POST with the audio bytes
// as "file" and the model name as "model", Bearer auth when a key is set.
func (r *Remote) TranscribeFile(ctx context.Context, wavPath string) (string, error) {
	data, err := os.ReadFile(wavPath)
	if err != nil {
		return "", fmt.Errorf("read slice: %w", err)
	}

	var result remoteTranscription
	req := r.http.R().
		SetContext(ctx).
		SetFileReader("file", filepath.Base(wavPath), bytes.NewReader(data)).
		SetFormData(map[string]string{"model": r.model}).
		SetResult(&result)
	if r.apiKey != "" {
		req.SetAuthToken(r.apiKey)
	}

	resp, err := req.Post(r.baseURL)
	if err != nil {
		return "", fmt.Errorf("transcription request: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("API error %s: %s", resp.Status(), resp.String())
	}
	logrus.WithFields(logrus.Fields{
		"slice":    wavPath,
		"text_len": len(result.Text),
	}).Debug("Remote transcription complete")
	return result.Text, nil
}

type modelList struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

// ListRemoteModels fetches the model ids an OpenAI-compatible server
// advertises: GET {host}{modelsPath || /v1/models} with optional Bearer
// auth.
func ListRemoteModels(ctx context.Context, host, modelsPath, apiKey string) ([]string, error) {
	host = strings.TrimRight(strings.TrimSpace(host), "/")
	path := strings.TrimSpace(modelsPath)
	if path == "" {
		path = "/v1/models"
	} else if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	var result modelList
	req := resty.New().R().SetContext(ctx).SetResult(&result)
	if key := strings.TrimSpace(apiKey); key != "" {
		req.SetAuthToken(key)
	}
	resp, err := req.Get(host + path)
	if err != nil {
		return nil, fmt.Errorf("model list request: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("API error %s: %s", resp.Status(), resp.String())
	}

	ids := make([]string, 0, len(result.Data))
	for _, m := range result.Data {
		ids = append(ids, m.ID)
	}
	return ids, nil
}
