// Package session drives one loaded model: it folds chat messages into the
// recurrent state and runs the token generation loop on top of it.
//
// A Session is not safe for concurrent use. The manager hands it out under
// an exclusive lock for the whole of a request.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"chatd/internal/config"
	"chatd/internal/llm"
	"chatd/internal/sampler"
	"chatd/pkg/types"
)

var ErrInvalidRole = errors.New("invalid role")

var tracer = otel.Tracer("chatd/internal/session")

// Tokenizer converts between text bytes and token ids.
type Tokenizer interface {
	Encode(b []byte) ([]uint16, error)
	Decode(tokens []uint16) ([]byte, error)
}

// Params assemble a session from already-built parts.
type Params struct {
	ID        string
	Config    config.ModelConfig
	Info      llm.ModelInfo
	Tokenizer Tokenizer
	Runtime   llm.Runtime
	// Closer is released after the runtime on Close (the weights mapping).
	Closer         io.Closer
	Logger         zerolog.Logger
	SamplerOptions []sampler.Option
}

type Session struct {
	id          string
	cfg         config.ModelConfig
	info        llm.ModelInfo
	tok         Tokenizer
	rt          llm.Runtime
	closer      io.Closer
	log         zerolog.Logger
	samplerOpts []sampler.Option

	initial llm.Tensor
}

// Result is the outcome of one generation.
type Result struct {
	Text             string
	CompletionTokens int
	// SeedTokens counts the assistant prefix tokens folded before sampling.
	SeedTokens   int
	FinishReason string
}

// New captures the runtime's current state as the initial state.
func New(ctx context.Context, p Params) (*Session, error) {
	if p.Runtime == nil || p.Tokenizer == nil {
		return nil, errors.New("session: runtime and tokenizer are required")
	}
	if len(p.Config.RoleAssistant.Prefix) == 0 {
		return nil, fmt.Errorf("session %s: assistant prefix is empty", p.ID)
	}
	initial, err := p.Runtime.Back(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("read initial state: %w", err)
	}
	return &Session{
		id:          p.ID,
		cfg:         p.Config,
		info:        p.Info,
		tok:         p.Tokenizer,
		rt:          p.Runtime,
		closer:      p.Closer,
		log:         p.Logger.With().Str("model", p.ID).Logger(),
		samplerOpts: p.SamplerOptions,
		initial:     initial.Clone(),
	}, nil
}

func (s *Session) ID() string { return s.id }

func (s *Session) Info() llm.ModelInfo { return s.info }

func (s *Session) Config() config.ModelConfig { return s.cfg }

// ResetState restores the state captured at load.
func (s *Session) ResetState() error {
	if err := s.rt.Load(s.initial.Clone(), 0); err != nil {
		return fmt.Errorf("reset state: %w", err)
	}
	return nil
}

// ExportState returns an independent snapshot of the live state.
func (s *Session) ExportState(ctx context.Context) (llm.Tensor, error) {
	st, err := s.rt.Back(ctx, 0)
	if err != nil {
		return llm.Tensor{}, fmt.Errorf("export state: %w", err)
	}
	return st, nil
}

// ImportState overwrites the live state with a snapshot.
func (s *Session) ImportState(state llm.Tensor) error {
	if err := s.rt.Load(state.Clone(), 0); err != nil {
		return fmt.Errorf("import state: %w", err)
	}
	return nil
}

// ProcessMessage folds one message, wrapped in its role's prompt format,
// into the live state. It returns the number of tokens folded.
func (s *Session) ProcessMessage(ctx context.Context, msg types.ChatMessage) (int, error) {
	role, ok := s.cfg.Role(msg.Role)
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrInvalidRole, msg.Role)
	}
	ctx, span := tracer.Start(ctx, "session.ProcessMessage")
	defer span.End()
	span.SetAttributes(attribute.String("chat.role", msg.Role), attribute.Int("chat.content_bytes", len(msg.Content)))

	s.log.Debug().Str("role", msg.Role).Int("len", len(msg.Content)).Msg("processing message")

	content, err := s.tok.Encode([]byte(msg.Content))
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("encode message: %w", err)
	}
	tokens := make([]uint16, 0, len(role.Prefix)+len(content)+len(role.Suffix))
	tokens = append(tokens, role.Prefix...)
	tokens = append(tokens, content...)
	tokens = append(tokens, role.Suffix...)

	if _, err := s.process(ctx, tokens); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, err
	}
	return len(tokens), nil
}

// GenerateMessage produces an assistant reply from the live state. It stops
// after maxTokens tokens or once the output ends with the stop sequence.
func (s *Session) GenerateMessage(ctx context.Context, maxTokens int, settings sampler.Settings) (Result, error) {
	ctx, span := tracer.Start(ctx, "session.GenerateMessage")
	defer span.End()
	span.SetAttributes(attribute.Int("chat.max_tokens", maxTokens), attribute.Float64("chat.temperature", float64(settings.Temperature)))

	s.log.Debug().Int("max_tokens", maxTokens).Msg("generating message")

	// The last prefix token becomes the first step input so that step
	// yields logits for the first answer token.
	prefix := s.cfg.RoleAssistant.Prefix
	next := prefix[len(prefix)-1]
	if _, err := s.process(ctx, prefix[:len(prefix)-1]); err != nil {
		span.RecordError(err)
		return Result{}, err
	}

	smp := sampler.New(s.samplerOpts...)
	var generated []uint16
	for !s.shouldStop(maxTokens, generated) {
		logits, err := s.process(ctx, []uint16{next})
		if err != nil {
			span.RecordError(err)
			return Result{}, err
		}
		penalized := smp.ApplyPenalties(settings, logits.Data)
		probs, err := s.rt.Softmax(ctx, llm.Tensor{Shape: logits.Shape, Data: penalized})
		if err != nil {
			span.RecordError(err)
			return Result{}, fmt.Errorf("softmax: %w", err)
		}
		next = smp.Sample(settings, probs.Data)
		generated = append(generated, next)
		smp.ConsumeToken(next)
	}

	res, err := s.finalize(generated)
	if err != nil {
		span.RecordError(err)
		return Result{}, err
	}
	res.SeedTokens = len(prefix)
	span.SetAttributes(attribute.Int("chat.completion_tokens", res.CompletionTokens), attribute.String("chat.finish_reason", res.FinishReason))
	return res, nil
}

func (s *Session) shouldStop(maxTokens int, tokens []uint16) bool {
	return len(tokens) >= maxTokens || s.endsWithStop(tokens)
}

func (s *Session) endsWithStop(tokens []uint16) bool {
	stop := s.cfg.StopSequence
	if len(stop) == 0 || len(tokens) < len(stop) {
		return false
	}
	tail := tokens[len(tokens)-len(stop):]
	for i := range stop {
		if tail[i] != stop[i] {
			return false
		}
	}
	return true
}

func (s *Session) finalize(tokens []uint16) (Result, error) {
	res := Result{CompletionTokens: len(tokens), FinishReason: types.FinishLength}
	if s.endsWithStop(tokens) {
		tokens = tokens[:len(tokens)-len(s.cfg.StopSequence)]
		res.FinishReason = types.FinishStop
	}
	raw, err := s.tok.Decode(tokens)
	if err != nil {
		return Result{}, fmt.Errorf("decode answer: %w", err)
	}
	// The first answer token usually carries a leading space.
	text := strings.ToValidUTF8(string(raw), "\uFFFD")
	res.Text = strings.TrimPrefix(text, " ")
	return res, nil
}

// process folds tokens into the live state, resubmitting the remainder until
// the runtime has consumed every token. It returns the logits emitted for the
// final token, if any.
func (s *Session) process(ctx context.Context, tokens []uint16) (llm.Tensor, error) {
	if len(tokens) == 0 {
		return llm.Tensor{}, nil
	}
	in := llm.SingleLast(tokens)
	var logits llm.Tensor
	for in.Pending() {
		rest, out, err := s.rt.Infer(ctx, in)
		if err != nil {
			return llm.Tensor{}, fmt.Errorf("infer: %w", err)
		}
		if len(out) > 0 && len(out[0].Data) > 0 {
			logits = out[0]
		}
		if remaining(rest) >= remaining(in) {
			return llm.Tensor{}, errors.New("infer: runtime consumed no tokens")
		}
		in = rest
	}
	return logits, nil
}

func remaining(in llm.Input) int {
	n := 0
	for _, b := range in.Batches {
		n += len(b.Tokens)
	}
	return n
}

// Close releases the runtime and then the weights.
func (s *Session) Close() error {
	err := s.rt.Close()
	if s.closer != nil {
		err = errors.Join(err, s.closer.Close())
	}
	return err
}
