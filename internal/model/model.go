// Package model resolves the filesystem path to a whisper.cpp model file,
// downloading it from HuggingFace if it isn't already present locally.
package model

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/flowtype/dictation/internal/errors"
	"github.com/flowtype/dictation/internal/resilience"
)

const baseURL = "https://huggingface.co/ggerganov/whisper.cpp/resolve/main"

// Resolver locates (and lazily downloads) model files.
type Resolver struct {
	bundledDir   string // e.g. packaged resource directory; empty if none
	localDir     string
	autoDownload bool
	breaker      *resilience.Breaker
	httpClient   *http.Client
}

// NewResolver creates a resolver. bundledDir may be empty if the build
// carries no packaged resources. autoDownload gates whether Resolve may
// fetch a missing model over HTTPS or must fail instead.
func NewResolver(bundledDir, localDir string, autoDownload bool) *Resolver {
	return &Resolver{
		bundledDir:   bundledDir,
		localDir:     localDir,
		autoDownload: autoDownload,
		breaker:      resilience.New(resilience.DefaultConfig()),
		httpClient:   &http.Client{},
	}
}

// Resolve returns a filesystem path to the named model, in order:
// bundled resource dir -> local models dir -> HTTPS download.
func (r *Resolver) Resolve(ctx context.Context, name string) (string, error) {
	fileName := fmt.Sprintf("ggml-%s.bin", name)

	if r.bundledDir != "" {
		bundled := filepath.Join(r.bundledDir, "models", fileName)
		if fileExists(bundled) {
			slog.Info("using bundled model", "path", bundled)
			return bundled, nil
		}
	}

	if err := os.MkdirAll(r.localDir, 0o755); err != nil {
		return "", errors.Wrap(err, errors.CodeInit, "create models directory")
	}
	localPath := filepath.Join(r.localDir, fileName)
	if fileExists(localPath) {
		slog.Info("using local model", "path", localPath)
		return localPath, nil
	}

	if !r.autoDownload {
		return "", errors.Newf(errors.CodeInit, "model %q not found locally and auto-download is disabled", name)
	}

	slog.Info("model not found locally, downloading", "name", name)
	if err := r.download(ctx, name, localPath); err != nil {
		return "", err
	}
	return localPath, nil
}

func (r *Resolver) download(ctx context.Context, name, dest string) error {
	url := fmt.Sprintf("%s/ggml-%s.bin", baseURL, name)
	slog.Info("downloading model", "url", url)

	tmp := dest + ".part"
	retryErr := resilience.Retry(ctx, resilience.DefaultRetryConfig(), func() error {
		return r.breaker.Execute(func() error {
			return r.fetchTo(ctx, url, tmp)
		})
	})
	if retryErr != nil {
		_ = os.Remove(tmp)
		return errors.Wrap(retryErr, errors.CodeInit, "download model")
	}

	if err := os.Rename(tmp, dest); err != nil {
		return errors.Wrap(err, errors.CodeInit, "finalize downloaded model")
	}
	slog.Info("model download complete", "path", dest)
	return nil
}

func (r *Resolver) fetchTo(ctx context.Context, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &resilience.HTTPStatusError{StatusCode: resp.StatusCode}
	}

	f, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = io.Copy(f, resp.Body)
	return err
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
