// Package llm adapts hosted completion APIs to a single streaming contract.
//
// A Provider turns a model id, a system prompt and an ordered list of turns
// into a Stream of text chunks. Streams end with io.EOF on natural completion
// and are aborted by Close or by cancelling the context passed to StreamChat.
package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
)

// Turn roles understood by providers.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

var (
	// ErrUnknownProvider is returned by Registry.Resolve for unregistered ids.
	ErrUnknownProvider = errors.New("llm: unknown provider")
	// ErrNoTurns is returned when a request carries no history at all.
	ErrNoTurns = errors.New("llm: request has no turns")
)

// Turn is one plain-text message of the history sent to a provider.
type Turn struct {
	Role    string
	Content string
}

// Request parameterizes a streaming completion.
type Request struct {
	Model        string
	SystemPrompt string
	Turns        []Turn
}

// Stream yields completion text incrementally.
type Stream interface {
	// Recv returns the next non-empty chunk, io.EOF at natural end, or the
	// transport error that interrupted the stream.
	Recv() (string, error)
	// Close aborts the stream and releases the upstream connection.
	Close() error
}

// Provider opens streaming completions against one backend.
type Provider interface {
	Name() string
	StreamChat(ctx context.Context, req Request) (Stream, error)
}

// Registry maps provider ids to providers, with a default for bots that do
// not name one. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	def       string
}

// NewRegistry returns an empty registry whose default provider id is def.
func NewRegistry(def string) *Registry {
	return &Registry{providers: map[string]Provider{}, def: normalizeID(def)}
}

// Register adds or replaces p under p.Name().
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[normalizeID(p.Name())] = p
}

// Resolve returns the provider for id, or the default provider when id is blank.
func (r *Registry) Resolve(id string) (Provider, error) {
	id = normalizeID(id)
	if id == "" {
		id = r.def
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, id)
	}
	return p, nil
}

// Names lists registered provider ids in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.providers))
	for k := range r.providers {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Close releases providers that hold resources.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for _, p := range r.providers {
		if c, ok := p.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// Collect drains s and returns the concatenated text. The stream is closed.
func Collect(s Stream) (string, error) {
	defer s.Close()
	var b strings.Builder
	for {
		chunk, err := s.Recv()
		if errors.Is(err, io.EOF) {
			return b.String(), nil
		}
		if err != nil {
			return b.String(), err
		}
		b.WriteString(chunk)
	}
}

func normalizeID(id string) string { return strings.ToLower(strings.TrimSpace(id)) }
