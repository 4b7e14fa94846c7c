package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"chatd/internal/config"
	"chatd/internal/llm"
	"chatd/internal/sampler"
	"chatd/internal/tokenizer"
	"chatd/internal/weights"
)

// LoadOptions configure how Load builds the runtime.
type LoadOptions struct {
	Backend llm.Backend
	// QuantNF4 quantizes every layer to NF4 instead of Int8.
	QuantNF4       bool
	Logger         zerolog.Logger
	SamplerOptions []sampler.Option
}

// Load reads the vocabulary and maps the weights concurrently, detects the
// architecture, and asks the backend for a runtime.
func Load(ctx context.Context, id string, cfg config.ModelConfig, opts LoadOptions) (*Session, error) {
	if opts.Backend == nil {
		return nil, errors.New("session: no backend configured")
	}
	log := opts.Logger.With().Str("model", id).Logger()
	start := time.Now()
	log.Info().Str("weights", cfg.Weights).Msg("loading model")

	var (
		tok *tokenizer.Tokenizer
		wf  *weights.File
	)
	var g errgroup.Group
	g.Go(func() error {
		t, err := tokenizer.Load(cfg.Vocab)
		if err != nil {
			return fmt.Errorf("load tokenizer: %w", err)
		}
		tok = t
		return nil
	})
	g.Go(func() error {
		f, err := weights.Open(cfg.Weights)
		if err != nil {
			return fmt.Errorf("open weights: %w", err)
		}
		wf = f
		return nil
	})
	if err := g.Wait(); err != nil {
		_ = wf.Close()
		return nil, err
	}

	info, err := wf.Info()
	if err != nil {
		_ = wf.Close()
		return nil, fmt.Errorf("inspect weights: %w", err)
	}
	if tok.Size() > info.NumVocab {
		log.Warn().Int("vocab", tok.Size()).Int("model_vocab", info.NumVocab).Msg("tokenizer larger than model vocabulary")
	}

	quant := llm.QuantInt8
	if opts.QuantNF4 {
		quant = llm.QuantNF4
	}
	log.Info().
		Stringer("version", info.Version).
		Int("layers", info.NumLayer).
		Stringer("quant", quant).
		Msg("building runtime")

	rt, err := opts.Backend.Build(ctx, llm.BuildRequest{
		Info:    info,
		Weights: wf.Data,
		Tensor:  wf.TensorData,
		Quant:   llm.QuantPlan(info, quant),
	})
	if err != nil {
		_ = wf.Close()
		return nil, fmt.Errorf("runtime backend: %w", err)
	}

	s, err := New(ctx, Params{
		ID:             id,
		Config:         cfg,
		Info:           info,
		Tokenizer:      tok,
		Runtime:        rt,
		Closer:         wf,
		Logger:         opts.Logger,
		SamplerOptions: opts.SamplerOptions,
	})
	if err != nil {
		_ = rt.Close()
		_ = wf.Close()
		return nil, err
	}
	log.Info().Dur("took", time.Since(start)).Msg("finished loading model")
	return s, nil
}
