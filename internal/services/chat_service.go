// Package services – ChatService
//
// This file implements one chat exchange: authenticate the caller, resolve
// the bot and (optionally) the conversation, persist the inbound user turn,
// stream a completion from the bot's provider and hand the finished
// assistant turn to the Recorder.
//
// An exchange moves through the stages
//
//	Authenticating → ResolvingBot → PersistingUserTurn → Streaming →
//	PersistingAssistantTurn → Done
//
// and ends in Unauthorized or NotFound when the first two stages fail, or in
// StreamFailed when the completion breaks. Persistence failures never fail the
// exchange; they are logged and counted.
package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-tutor-chat/internal/domain"
	"github.com/tbourn/go-tutor-chat/internal/llm"
	"github.com/tbourn/go-tutor-chat/internal/observability"
)

// Stage is a step of the chat exchange state machine.
type Stage int

const (
	StageAuthenticating Stage = iota
	StageResolvingBot
	StagePersistingUserTurn
	StageStreaming
	StagePersistingAssistantTurn
	StageDone
	StageUnauthorized
	StageNotFound
	StageStreamFailed
)

var stageNames = [...]string{
	StageAuthenticating:          "Authenticating",
	StageResolvingBot:            "ResolvingBot",
	StagePersistingUserTurn:      "PersistingUserTurn",
	StageStreaming:               "Streaming",
	StagePersistingAssistantTurn: "PersistingAssistantTurn",
	StageDone:                    "Done",
	StageUnauthorized:            "Unauthorized",
	StageNotFound:                "NotFound",
	StageStreamFailed:            "StreamFailed",
}

func (s Stage) String() string {
	if s >= 0 && int(s) < len(stageNames) {
		return stageNames[s]
	}
	return fmt.Sprintf("Stage(%d)", int(s))
}

// Part is one content segment of a client turn. Only "text" parts are kept.
type Part struct {
	Type string
	Text string
}

// Turn is a message as held by the client.
type Turn struct {
	Role    string
	Content string
	Parts   []Part
}

// Text flattens the turn to plain text. Parts win over Content when present;
// text parts are joined with a newline and all other parts are dropped.
func (t Turn) Text() string {
	if len(t.Parts) == 0 {
		return t.Content
	}
	texts := make([]string, 0, len(t.Parts))
	for _, p := range t.Parts {
		if p.Type == "text" && p.Text != "" {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, "\n")
}

// ChatRequest is the input of one exchange. Messages is the full history the
// client currently holds; ConversationID may be empty, in which case nothing
// is persisted.
type ChatRequest struct {
	UserID         string
	BotSlug        string
	ConversationID string
	Messages       []Turn
}

// ChatService runs chat exchanges.
type ChatService struct {
	Bots          *BotRegistry
	Conversations *ConversationService
	Providers     *llm.Registry
	// Recorder receives assistant turns. When nil they are written inline.
	Recorder *Recorder

	// Timeout is the hard wall-clock ceiling of a completion stream.
	Timeout time.Duration
	// MaxTurns and MaxRunes cap the history forwarded to the provider.
	MaxTurns int
	MaxRunes int
	// PersistTimeout bounds the synchronous user turn write.
	PersistTimeout time.Duration

	Metrics *observability.ChatMetrics
	Now     func() time.Time
}

// NewChatService returns a ChatService with default limits.
func NewChatService(bots *BotRegistry, convs *ConversationService, providers *llm.Registry, rec *Recorder) *ChatService {
	return &ChatService{
		Bots:           bots,
		Conversations:  convs,
		Providers:      providers,
		Recorder:       rec,
		Timeout:        30 * time.Second,
		MaxTurns:       50,
		MaxRunes:       32000,
		PersistTimeout: 5 * time.Second,
	}
}

// Exchange is a chat request that passed authentication and resolution and
// is ready to stream. It is not safe for concurrent use.
type Exchange struct {
	svc      *ChatService
	bot      *domain.Bot
	conv     *domain.Conversation
	provider llm.Provider
	req      llm.Request
	stage    Stage
}

// Bot returns the resolved bot.
func (x *Exchange) Bot() *domain.Bot { return x.bot }

// ConversationID returns the id of the persisted conversation, or "".
func (x *Exchange) ConversationID() string {
	if x.conv == nil {
		return ""
	}
	return x.conv.ID
}

// Stage returns the current stage.
func (x *Exchange) Stage() Stage { return x.stage }

// Begin runs Authenticating, ResolvingBot and PersistingUserTurn. It returns
// ErrUnauthorized, ErrBotNotFound, ErrConversationNotFound, a history
// validation error, or ErrProviderUnavailable; nothing is written in those
// cases.
func (s *ChatService) Begin(ctx context.Context, req ChatRequest) (*Exchange, error) {
	ctx, span := otel.Tracer("services/ChatService").Start(ctx, "Begin",
		trace.WithAttributes(
			attribute.String("user.id", req.UserID),
			attribute.String("bot.slug", req.BotSlug),
			attribute.String("conversation.id", req.ConversationID),
			attribute.Int("history.len", len(req.Messages)),
		),
	)
	defer span.End()

	if strings.TrimSpace(req.UserID) == "" {
		return nil, ErrUnauthorized
	}

	x := &Exchange{svc: s, stage: StageResolvingBot}
	bot, err := s.Bots.FindActiveBySlug(ctx, req.BotSlug)
	if err != nil {
		return nil, err
	}
	x.bot = bot

	if id := strings.TrimSpace(req.ConversationID); id != "" {
		conv, err := s.Conversations.Get(ctx, req.UserID, id)
		if err != nil {
			return nil, err
		}
		if conv.BotID != bot.ID {
			return nil, ErrConversationNotFound
		}
		x.conv = conv
	}

	turns, err := normalizeHistory(req.Messages, s.MaxTurns, s.MaxRunes)
	if err != nil {
		return nil, err
	}

	p, err := s.Providers.Resolve(bot.Provider)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	x.provider = p
	x.req = llm.Request{Model: bot.Model, SystemPrompt: bot.SystemPrompt, Turns: turns}

	x.stage = StagePersistingUserTurn
	if last := turns[len(turns)-1]; x.conv != nil && last.Role == llm.RoleUser {
		s.persistUserTurn(ctx, x.conv, last.Content)
	}

	x.stage = StageStreaming
	return x, nil
}

// persistUserTurn writes the inbound turn before streaming. The write is
// bounded by PersistTimeout and survives cancellation of ctx; failures are
// logged and counted.
func (s *ChatService) persistUserTurn(ctx context.Context, conv *domain.Conversation, text string) {
	log := zerolog.Ctx(ctx)
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.persistTimeout())
	defer cancel()

	if _, err := s.Conversations.AppendTurn(wctx, conv.ID, domain.RoleUser, text); err != nil {
		s.Metrics.PersistFailed(StagePersistingUserTurn.String())
		log.Error().Err(err).
			Str("stage", StagePersistingUserTurn.String()).
			Str("conversation_id", conv.ID).
			Str("role", domain.RoleUser).
			Msg("user turn not persisted")
		return
	}
	if _, err := s.Conversations.AutoTitle(wctx, conv, text); err != nil {
		log.Warn().Err(err).Str("conversation_id", conv.ID).Msg("auto-title failed")
	}
}

// Stream runs Streaming and, on natural completion, PersistingAssistantTurn.
// Every chunk is handed to emit as soon as it arrives; an emit error aborts
// the stream. The returned text is what was emitted, also on failure.
//
// Errors: ErrStreamTimeout when the ceiling is hit, ErrStreamFailed otherwise.
// No assistant turn is persisted on error.
func (x *Exchange) Stream(ctx context.Context, emit func(chunk string) error) (string, error) {
	s := x.svc
	ctx, span := otel.Tracer("services/ChatService").Start(ctx, "Stream",
		trace.WithAttributes(
			attribute.String("bot.slug", x.bot.Slug),
			attribute.String("llm.provider", x.provider.Name()),
			attribute.String("llm.model", x.req.Model),
		),
	)
	defer span.End()

	parent := ctx
	ctx, cancel := context.WithTimeout(ctx, s.timeout())
	defer cancel()

	start := s.now()
	var b strings.Builder

	fail := func(err error) (string, error) {
		x.stage = StageStreamFailed
		outcome, ferr := x.classify(parent, ctx, err)
		s.Metrics.StreamFinished(outcome)
		span.RecordError(ferr)
		span.SetStatus(codes.Error, outcome)
		zerolog.Ctx(parent).Warn().Err(err).
			Str("stage", StageStreaming.String()).
			Str("outcome", outcome).
			Int("partial_len", b.Len()).
			Msg("completion stream failed")
		return b.String(), ferr
	}

	stream, err := x.provider.StreamChat(ctx, x.req)
	if err != nil {
		return fail(err)
	}
	defer stream.Close()

	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fail(err)
		}
		if b.Len() == 0 {
			s.Metrics.FirstChunk(s.now().Sub(start))
		}
		b.WriteString(chunk)
		if err := emit(chunk); err != nil {
			return fail(err)
		}
	}

	// A stream can report a clean end right as the ceiling expires.
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fail(ctx.Err())
	}

	text := b.String()
	x.stage = StagePersistingAssistantTurn
	x.persistAssistantTurn(parent, text)
	x.stage = StageDone
	s.Metrics.StreamFinished(observability.OutcomeOK)
	return text, nil
}

func (x *Exchange) classify(parent, ctx context.Context, err error) (string, error) {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded) && parent.Err() == nil:
		return observability.OutcomeTimeout, fmt.Errorf("%w after %s", ErrStreamTimeout, x.svc.timeout())
	case parent.Err() != nil:
		return observability.OutcomeCanceled, fmt.Errorf("%w: %v", ErrStreamFailed, parent.Err())
	default:
		return observability.OutcomeError, fmt.Errorf("%w: %v", ErrStreamFailed, err)
	}
}

// FailureStage returns the terminal stage an exchange error ends in.
// Request validation errors stop the exchange while resolving.
func FailureStage(err error) Stage {
	switch {
	case err == nil:
		return StageDone
	case errors.Is(err, ErrUnauthorized):
		return StageUnauthorized
	case errors.Is(err, ErrBotNotFound), errors.Is(err, ErrConversationNotFound):
		return StageNotFound
	case errors.Is(err, ErrStreamFailed):
		return StageStreamFailed
	default:
		return StageResolvingBot
	}
}

func (x *Exchange) persistAssistantTurn(ctx context.Context, text string) {
	if x.conv == nil {
		return
	}
	s := x.svc
	convID := x.conv.ID
	job := Job{
		Stage:          StagePersistingAssistantTurn,
		ConversationID: convID,
		Run: func(ctx context.Context) error {
			if _, err := s.Conversations.AppendTurn(ctx, convID, domain.RoleAssistant, text); err != nil {
				return err
			}
			return s.Conversations.Touch(ctx, convID)
		},
	}
	if s.Recorder != nil {
		s.Recorder.Record(job)
		return
	}

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.persistTimeout())
	defer cancel()
	if err := job.Run(wctx); err != nil {
		s.Metrics.PersistFailed(job.Stage.String())
		zerolog.Ctx(ctx).Error().Err(err).
			Str("stage", job.Stage.String()).
			Str("conversation_id", convID).
			Str("role", domain.RoleAssistant).
			Msg("assistant turn not persisted")
	}
}

func (s *ChatService) timeout() time.Duration {
	if s.Timeout <= 0 {
		return 30 * time.Second
	}
	return s.Timeout
}

func (s *ChatService) persistTimeout() time.Duration {
	if s.PersistTimeout <= 0 {
		return 5 * time.Second
	}
	return s.PersistTimeout
}

func (s *ChatService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// normalizeHistory flattens client turns into provider turns. Client system
// turns and turns without text are dropped; the newest turns that fit within
// maxTurns and maxRunes are kept, starting at a user turn.
func normalizeHistory(msgs []Turn, maxTurns, maxRunes int) ([]llm.Turn, error) {
	out := make([]llm.Turn, 0, len(msgs))
	for _, m := range msgs {
		role := strings.ToLower(strings.TrimSpace(m.Role))
		switch role {
		case "system":
			continue
		case llm.RoleUser, llm.RoleAssistant:
		default:
			return nil, fmt.Errorf("%w: %q", ErrInvalidRole, m.Role)
		}
		text := m.Text()
		if strings.TrimSpace(text) == "" {
			continue
		}
		out = append(out, llm.Turn{Role: role, Content: text})
	}
	if len(out) == 0 {
		return nil, ErrEmptyHistory
	}

	if maxTurns <= 0 {
		maxTurns = len(out)
	}
	start, runes := len(out), 0
	for i := len(out) - 1; i >= 0 && len(out)-i <= maxTurns; i-- {
		n := utf8.RuneCountInString(out[i].Content)
		if maxRunes > 0 && runes+n > maxRunes {
			break
		}
		runes += n
		start = i
	}
	if start == len(out) {
		return nil, ErrTurnTooLong
	}
	kept := out[start:]
	for len(kept) > 0 && kept[0].Role == llm.RoleAssistant {
		kept = kept[1:]
	}
	if len(kept) == 0 {
		return nil, ErrEmptyHistory
	}
	return kept, nil
}
