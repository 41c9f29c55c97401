// Package services defines the business logic of the tutor chat bridge: bot
// resolution, the conversation log and the streaming chat exchange.
// This file centralizes service-level error values so that they can be
// consistently returned by service methods and checked by callers.
//
// Translation into user-facing messages or HTTP status codes is performed at
// the handler layer.
package services

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthorized is returned when no caller identity is present.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrBotNotFound covers unknown and deactivated bots alike.
	ErrBotNotFound = errors.New("bot unavailable")

	// ErrConversationNotFound indicates that the conversation does not exist,
	// belongs to another user, or belongs to another bot.
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrEmptyHistory is returned when a chat request carries no usable text turn.
	ErrEmptyHistory = errors.New("no text turns in history")

	// ErrTurnTooLong is returned when the newest turn alone exceeds the
	// accepted history size.
	ErrTurnTooLong = errors.New("message too long")

	// ErrInvalidRole is returned for turn roles other than user, assistant or system.
	ErrInvalidRole = errors.New("invalid turn role")

	// ErrProviderUnavailable is returned when a bot names a completion
	// provider that is not configured.
	ErrProviderUnavailable = errors.New("completion provider unavailable")

	// ErrPersistence wraps failed writes to the conversation log. It is
	// logged and counted, never surfaced to the chat caller.
	ErrPersistence = errors.New("persistence failed")

	// ErrStreamFailed is returned when the completion stream breaks after it
	// was opened: upstream error, network fault or client disconnect.
	ErrStreamFailed = errors.New("stream failed")

	// ErrStreamTimeout is the stream failure caused by the wall-clock ceiling.
	// errors.Is(ErrStreamTimeout, ErrStreamFailed) holds.
	ErrStreamTimeout = fmt.Errorf("%w: timeout", ErrStreamFailed)
)
