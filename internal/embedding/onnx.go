//go:build cgo
// +build cgo

package embedding

import (
	"context"
	"errors"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/hyperjump/hako/internal/vector"
)

var onnxInputs = []string{"input_ids", "attention_mask", "token_type_ids"}

// ONNXEmbedder runs a sentence embedding model through ONNX Runtime. It requires CGO and
// the onnxruntime shared library. The model must take the three BERT inputs and produce an
// "output" tensor of shape [1, dimensions].
type ONNXEmbedder struct {
	mu         sync.Mutex
	session    *ort.AdvancedSession
	tokenizer  Tokenizer
	dimensions int
	maxTokens  int

	// Tensors are bound to the session once; Embed rewrites their data in place.
	inputs [3]*ort.Tensor[int64]
	output *ort.Tensor[float32]
}

// NewONNXEmbedder loads the model at modelPath. Wrap it with NewCached to avoid re-running
// inference for repeated texts.
func NewONNXEmbedder(modelPath string, dimensions, maxTokens int) (*ONNXEmbedder, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("onnx embedder: dimensions must be positive, got %d", dimensions)
	}
	if maxTokens < 2 {
		maxTokens = 256
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("failed to initialize ONNX runtime: %w", err)
		}
	}

	e := &ONNXEmbedder{tokenizer: &HashTokenizer{}, dimensions: dimensions, maxTokens: maxTokens}
	shape := ort.NewShape(1, int64(maxTokens))
	ids, mask, types := e.tokenizer.Tokenize("", maxTokens)
	for i, data := range [][]int64{ids, mask, types} {
		t, err := ort.NewTensor(shape, data)
		if err != nil {
			_ = e.destroy()
			return nil, fmt.Errorf("failed to create %s tensor: %w", onnxInputs[i], err)
		}
		e.inputs[i] = t
	}
	out, err := ort.NewTensor(ort.NewShape(1, int64(dimensions)), make([]float32, dimensions))
	if err != nil {
		_ = e.destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}
	e.output = out

	session, err := ort.NewAdvancedSession(modelPath, onnxInputs, []string{"output"},
		[]ort.ArbitraryTensor{e.inputs[0], e.inputs[1], e.inputs[2]},
		[]ort.ArbitraryTensor{e.output},
		nil,
	)
	if err != nil {
		_ = e.destroy()
		return nil, fmt.Errorf("failed to create ONNX session for %s: %w", modelPath, err)
	}
	e.session = session
	return e, nil
}

// Embed runs one inference and returns a unit-length vector. Calls are serialized on the
// shared tensors.
func (e *ONNXEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil, errors.New("onnx embedder is closed")
	}

	ids, mask, types := e.tokenizer.Tokenize(text, e.maxTokens)
	for i, data := range [][]int64{ids, mask, types} {
		copy(e.inputs[i].GetData(), data)
	}
	if err := e.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	emb := make([]float32, e.dimensions)
	copy(emb, e.output.GetData())
	vector.Normalize(emb)
	return emb, nil
}

// EmbedBatch embeds texts one at a time, stopping at the first error or cancellation.
func (e *ONNXEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		emb, err := e.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("embed text %d: %w", i, err)
		}
		out[i] = emb
	}
	return out, nil
}

// Dimensions returns the embedding dimension.
func (e *ONNXEmbedder) Dimensions() int {
	return e.dimensions
}

// Close destroys the session and its tensors. Later Embed calls fail.
func (e *ONNXEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.destroy()
}

func (e *ONNXEmbedder) destroy() error {
	var errs []error
	if e.session != nil {
		errs = append(errs, e.session.Destroy())
		e.session = nil
	}
	for i, t := range e.inputs {
		if t != nil {
			errs = append(errs, t.Destroy())
			e.inputs[i] = nil
		}
	}
	if e.output != nil {
		errs = append(errs, e.output.Destroy())
		e.output = nil
	}
	return errors.Join(errs...)
}
