package vision

import (
	"fmt"
	"image"
)

// embedder turns a face crop into a unit-length descriptor.
type embedder struct {
	*tensorModel
}

func newEmbedder(path string, dim int) (*embedder, error) {
	m, err := loadTensorModel(path, dim)
	if err != nil {
		return nil, err
	}
	return &embedder{m}, nil
}

func (e *embedder) embed(faceCrop image.Image) ([]float32, error) {
	v, err := e.run(toCHW(faceCrop, e.inputW, e.inputH, embMean, embStd))
	if err != nil {
		return nil, fmt.Errorf("run embedding: %w", err)
	}
	normalize(v)
	return v, nil
}
