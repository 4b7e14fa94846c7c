// Package chat answers chat completion requests on the active session,
// reusing cached recurrent state for the part of the conversation that was
// already processed.
package chat

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"chatd/internal/cache"
	"chatd/internal/registry"
	"chatd/internal/sampler"
	"chatd/internal/session"
	"chatd/pkg/types"
)

var tracer = otel.Tracer("chatd/internal/chat")

// Manager is the part of the activation manager the service needs.
type Manager interface {
	WithActive(ctx context.Context, fn func(s *session.Session) error) error
	ActiveModelID() (string, bool)
	ListModels() []registry.Model
}

type Options struct {
	// MaxTokens is the budget when a request sets none.
	MaxTokens int
	// MaxTokensLimit caps any requested budget.
	MaxTokensLimit int
	Sampler        sampler.Settings
	Logger         zerolog.Logger
	// OwnedBy fills ModelInfo.OwnedBy.
	OwnedBy string
	// Now and NewID are overridable for tests.
	Now   func() time.Time
	NewID func() string
}

type Service struct {
	mgr     Manager
	cache   *cache.Cache
	opts    Options
	log     zerolog.Logger
	created int64

	mu sync.Mutex
	// owner is the session whose states the cache holds.
	owner *session.Session
}

func NewService(mgr Manager, c *cache.Cache, opts Options) *Service {
	if c == nil {
		c = cache.New()
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 256
	}
	if opts.MaxTokensLimit < opts.MaxTokens {
		opts.MaxTokensLimit = opts.MaxTokens
	}
	if opts.Sampler == (sampler.Settings{}) {
		opts.Sampler = sampler.DefaultSettings()
	}
	if opts.OwnedBy == "" {
		opts.OwnedBy = "chatd"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = func() string { return "chatcmpl-" + uuid.NewString() }
	}
	return &Service{
		mgr:     mgr,
		cache:   c,
		opts:    opts,
		log:     opts.Logger.With().Str("component", "chat").Logger(),
		created: opts.Now().Unix(),
	}
}

// CachedPrefixLen reports how many messages the prefix cache covers.
func (s *Service) CachedPrefixLen() int { return s.cache.Len() }

// Models lists known models, marking availability and the active one.
func (s *Service) Models() types.ModelList {
	active, _ := s.mgr.ActiveModelID()
	list := types.ModelList{Object: "list", Data: []types.ModelInfo{}}
	for _, m := range s.mgr.ListModels() {
		list.Data = append(list.Data, types.ModelInfo{
			ID:        m.ID,
			Object:    "model",
			Created:   s.created,
			OwnedBy:   s.opts.OwnedBy,
			Available: m.Available,
			Active:    m.ID == active,
		})
	}
	return list
}

// Complete runs one chat completion on the active session.
func (s *Service) Complete(ctx context.Context, req types.ChatRequest) (types.ChatResponse, error) {
	maxTokens, settings, err := s.resolve(req)
	if err != nil {
		return types.ChatResponse{}, err
	}
	if req.Model != "" {
		if active, ok := s.mgr.ActiveModelID(); ok && active != req.Model {
			return types.ChatResponse{}, modelNotActiveError{requested: req.Model, active: active}
		}
	}

	ctx, span := tracer.Start(ctx, "chat.Complete")
	defer span.End()
	span.SetAttributes(attribute.Int("chat.messages", len(req.Messages)), attribute.Int("chat.max_tokens", maxTokens))

	var resp types.ChatResponse
	err = s.mgr.WithActive(ctx, func(sess *session.Session) error {
		if req.Model != "" && sess.ID() != req.Model {
			return modelNotActiveError{requested: req.Model, active: sess.ID()}
		}
		for _, m := range req.Messages {
			if _, ok := sess.Config().Role(m.Role); !ok {
				return fmt.Errorf("%w: %q", session.ErrInvalidRole, m.Role)
			}
		}
		start := time.Now()
		defer func() { generationSeconds.Observe(time.Since(start).Seconds()) }()

		promptTokens, err := s.prepare(ctx, sess, req.Messages)
		if err != nil {
			return err
		}
		res, err := sess.GenerateMessage(ctx, maxTokens, settings)
		if err != nil {
			return err
		}
		generatedTokensTotal.Add(float64(res.CompletionTokens))
		promptTokens += res.SeedTokens

		resp = types.ChatResponse{
			ID:      s.opts.NewID(),
			Object:  "chat.completion",
			Created: s.opts.Now().Unix(),
			Model:   sess.ID(),
			Choices: []types.ChatChoice{{
				Index:        0,
				Message:      types.ChatMessage{Role: types.RoleAssistant, Content: res.Text},
				FinishReason: res.FinishReason,
			}},
			Usage: types.Usage{
				PromptTokens:     promptTokens,
				CompletionTokens: res.CompletionTokens,
				TotalTokens:      promptTokens + res.CompletionTokens,
			},
		}
		s.log.Debug().
			Str("model", sess.ID()).
			Int("prompt_tokens", promptTokens).
			Int("completion_tokens", res.CompletionTokens).
			Str("finish_reason", res.FinishReason).
			Msg("completion done")
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return types.ChatResponse{}, err
	}
	return resp, nil
}

// prepare brings the session state up to date with messages: it resumes
// from the cached prefix when possible, folds the rest, and caches the
// result. It returns the number of tokens folded.
func (s *Service) prepare(ctx context.Context, sess *session.Session, messages []types.ChatMessage) (int, error) {
	s.adopt(sess)

	done, state, hit := s.cache.Query(messages)
	if hit {
		prefixCacheTotal.WithLabelValues("hit").Inc()
		if err := sess.ImportState(state); err != nil {
			return 0, err
		}
	} else {
		prefixCacheTotal.WithLabelValues("miss").Inc()
		done = 0
		if err := sess.ResetState(); err != nil {
			return 0, err
		}
	}
	s.log.Debug().Bool("hit", hit).Int("cached", done).Int("messages", len(messages)).Msg("prefix cache")

	folded := 0
	for _, m := range messages[done:] {
		n, err := sess.ProcessMessage(ctx, m)
		if err != nil {
			return 0, err
		}
		folded += n
	}

	snap, err := sess.ExportState(ctx)
	if err != nil {
		return 0, err
	}
	s.cache.Set(messages, snap)
	return folded, nil
}

// adopt empties the cache when it holds states of a different session.
func (s *Service) adopt(sess *session.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.owner == sess {
		return
	}
	if s.owner != nil {
		s.log.Debug().Str("model", sess.ID()).Msg("active session changed, clearing prefix cache")
	}
	s.cache.Clear()
	s.owner = sess
}

func (s *Service) resolve(req types.ChatRequest) (int, sampler.Settings, error) {
	if len(req.Messages) == 0 {
		return 0, sampler.Settings{}, invalidRequestError{msg: "messages must not be empty"}
	}
	maxTokens := s.opts.MaxTokens
	if req.MaxTokens != nil {
		if *req.MaxTokens < 1 {
			return 0, sampler.Settings{}, invalidRequestError{msg: "max_tokens must be at least 1"}
		}
		maxTokens = min(*req.MaxTokens, s.opts.MaxTokensLimit)
	}
	settings := s.opts.Sampler
	if req.Temperature != nil {
		settings.Temperature = *req.Temperature
	}
	if req.PresencePenalty != nil {
		settings.PresencePenalty = *req.PresencePenalty
	}
	if req.FrequencyPenalty != nil {
		settings.FrequencyPenalty = *req.FrequencyPenalty
	}
	if err := settings.Validate(); err != nil {
		return 0, sampler.Settings{}, invalidRequestError{msg: err.Error()}
	}
	return maxTokens, settings, nil
}
