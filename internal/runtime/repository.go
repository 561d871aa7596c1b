package runtime

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/ocr-dimt/ocrdemo/internal/utils/pathutil"

	"go.uber.org/zap"
)

const (
	modelVersion = "1"
	weightsFile  = "model.safetensors"
)

// Repository is the model directory the runtime serves from. Weights are
// published as <dir>/<model>/1/model.safetensors and then loaded through the
// repository API.
type Repository struct {
	dir    string
	client *Client
	logger *zap.Logger
}

func NewRepository(dir string, client *Client, logger *zap.Logger) *Repository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Repository{dir: dir, client: client, logger: logger}
}

func (r *Repository) WeightsPath(model string) string {
	return filepath.Join(r.dir, model, modelVersion, weightsFile)
}

// Publish writes the model's weights atomically and asks the runtime to
// reload it.
func (r *Repository) Publish(ctx context.Context, model string, write func(io.Writer) (int64, error)) error {
	dest := r.WeightsPath(model)
	if err := pathutil.EnsureDir(filepath.Dir(dest)); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), weightsFile+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create weights file: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := write(tmp)
	if err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write weights for %s: %w", model, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return fmt.Errorf("failed to move weights into place: %w", err)
	}

	r.logger.Info("published weights", zap.String("model", model), zap.String("path", dest), zap.Int64("bytes", n))

	if err := r.client.LoadModel(ctx, model, nil); err != nil {
		return fmt.Errorf("failed to load %s: %w", model, err)
	}
	return r.client.ModelReady(ctx, model)
}
