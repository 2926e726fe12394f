//go:build !cgo
// +build !cgo

package embedding

import (
	"context"
	"errors"
)

// ONNXEmbedder is unavailable without CGO; Open falls back to the hash embedder only when
// no model is configured, so a configured model fails loudly here.
type ONNXEmbedder struct{}

var errNoCGO = errors.New("ONNX embedder requires CGO; build with CGO_ENABLED=1 and onnxruntime")

// NewONNXEmbedder always fails in builds without CGO.
func NewONNXEmbedder(string, int, int) (*ONNXEmbedder, error) {
	return nil, errNoCGO
}

func (*ONNXEmbedder) Embed(context.Context, string) ([]float32, error)          { return nil, errNoCGO }
func (*ONNXEmbedder) EmbedBatch(context.Context, []string) ([][]float32, error) { return nil, errNoCGO }
func (*ONNXEmbedder) Dimensions() int                                           { return 0 }
func (*ONNXEmbedder) Close() error                                              { return nil }
