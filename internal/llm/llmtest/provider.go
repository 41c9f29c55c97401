// Package llmtest provides a scripted llm.Provider for tests.
package llmtest

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/tbourn/go-tutor-chat/internal/llm"
)

// Provider replays Chunks as a stream. Delay is waited before every chunk
// (honouring context cancellation). When FailAfter >= 0, the stream returns
// Err after that many chunks. OpenErr fails StreamChat itself.
type Provider struct {
	ID        string
	Chunks    []string
	Delay     time.Duration
	FailAfter int
	Err       error
	OpenErr   error

	mu       sync.Mutex
	requests []llm.Request
	closed   int
}

// New returns a provider named "fake" that streams chunks successfully.
func New(chunks ...string) *Provider {
	return &Provider{ID: "fake", Chunks: chunks, FailAfter: -1}
}

// Name implements llm.Provider.
func (p *Provider) Name() string {
	if p.ID == "" {
		return "fake"
	}
	return p.ID
}

// StreamChat implements llm.Provider.
func (p *Provider) StreamChat(ctx context.Context, req llm.Request) (llm.Stream, error) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	p.mu.Unlock()
	if p.OpenErr != nil {
		return nil, p.OpenErr
	}
	return &stream{p: p, ctx: ctx}, nil
}

// Requests returns a copy of every request received.
func (p *Provider) Requests() []llm.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]llm.Request(nil), p.requests...)
}

// Closed reports how many streams were closed.
func (p *Provider) Closed() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

type stream struct {
	p    *Provider
	ctx  context.Context
	next int
}

func (s *stream) Recv() (string, error) {
	if s.p.FailAfter >= 0 && s.next >= s.p.FailAfter {
		return "", s.p.Err
	}
	if s.next >= len(s.p.Chunks) {
		return "", io.EOF
	}
	if s.p.Delay > 0 {
		t := time.NewTimer(s.p.Delay)
		defer t.Stop()
		select {
		case <-s.ctx.Done():
			return "", s.ctx.Err()
		case <-t.C:
		}
	} else if err := s.ctx.Err(); err != nil {
		return "", err
	}
	c := s.p.Chunks[s.next]
	s.next++
	return c, nil
}

func (s *stream) Close() error {
	s.p.mu.Lock()
	s.p.closed++
	s.p.mu.Unlock()
	return nil
}
