package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tbourn/go-tutor-chat/internal/chatclient"
)

func frame(w http.ResponseWriter, typ, content string) {
	b, _ := json.Marshal(map[string]string{"type": typ, "content": content})
	fmt.Fprintf(w, "event:%s\ndata:%s\n\n", typ, b)
	w.(http.Flusher).Flush()
}

type testServer struct {
	*httptest.Server
	created atomic.Int32
	lastMsg atomic.Pointer[string]
}

func newTestServer(t *testing.T, chat http.HandlerFunc) *testServer {
	t.Helper()
	ts := &testServer{}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/bots", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"bots":[{"slug":"metin","name":"Metin","avatar_emoji":"🧮","description":"Math tutor","suggestions":["What is 2+2?","Explain fractions"]}]}`)
	})
	mux.HandleFunc("POST /api/v1/conversations", func(w http.ResponseWriter, _ *http.Request) {
		ts.created.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"conversation":{"id":"c-9","title":"New chat"}}`)
	})
	mux.HandleFunc("GET /api/v1/conversations/{id}/messages", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"messages":[{"role":"user","content":"hi"},{"role":"assistant","content":"hello"}]}`)
	})
	mux.HandleFunc("POST /api/chat", func(w http.ResponseWriter, r *http.Request) {
		var req chatclient.ChatRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if n := len(req.Messages); n > 0 {
			last := req.Messages[n-1].Content
			ts.lastMsg.Store(&last)
		}
		chat(w, r)
	})
	ts.Server = httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func answer(w http.ResponseWriter, _ *http.Request) {
	for _, c := range []string{"2+2 ", "is ", "4."} {
		frame(w, "delta", c)
	}
	frame(w, "done", "")
}

func metin() chatclient.Bot {
	return chatclient.Bot{Slug: "metin", Name: "Metin", Suggestions: []string{"What is 2+2?", "Explain fractions"}}
}

func TestRunChat_SuggestionPick(t *testing.T) {
	ts := newTestServer(t, answer)
	s := chatclient.NewSession(chatclient.New(ts.URL), metin(), "")

	var out bytes.Buffer
	err := runChat(context.Background(), s, strings.NewReader("1\n/quit\n"), &out, make(chan os.Signal))
	if err != nil {
		t.Fatalf("runChat: %v", err)
	}
	got := out.String()
	for _, want := range []string{"1) What is 2+2?", "2) Explain fractions", "bot> 2+2 is 4.\n"} {
		if !strings.Contains(got, want) {
			t.Fatalf("output missing %q:\n%s", want, got)
		}
	}
	if p := ts.lastMsg.Load(); p == nil || *p != "What is 2+2?" {
		t.Fatalf("suggestion was not sent")
	}
}

func TestRunChat_FailedReplyInvitesResend(t *testing.T) {
	ts := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		frame(w, "delta", "2+2 ")
		frame(w, "error", "stream failed")
	})
	s := chatclient.NewSession(chatclient.New(ts.URL), metin(), "")

	var out bytes.Buffer
	if err := runChat(context.Background(), s, strings.NewReader("What is 2+2?\n"), &out, make(chan os.Signal)); err != nil {
		t.Fatalf("runChat: %v", err)
	}
	if !strings.Contains(out.String(), "bot> 2+2 \n[reply failed:") {
		t.Fatalf("unexpected output:\n%s", out.String())
	}
	if msgs := s.Messages(); len(msgs) != 2 || msgs[1].Content != "2+2 " {
		t.Fatalf("partial reply should stay in the session: %+v", msgs)
	}
}

func TestRunChat_InterruptStopsReply(t *testing.T) {
	streaming := make(chan struct{})
	ts := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		frame(w, "delta", "Let me think")
		close(streaming)
		<-r.Context().Done()
	})
	s := chatclient.NewSession(chatclient.New(ts.URL), metin(), "")

	interrupts := make(chan os.Signal, 1)
	go func() {
		select {
		case <-streaming:
			interrupts <- os.Interrupt
		case <-time.After(5 * time.Second):
		}
	}()

	var out bytes.Buffer
	if err := runChat(context.Background(), s, strings.NewReader("hard question\n/quit\n"), &out, interrupts); err != nil {
		t.Fatalf("runChat: %v", err)
	}
	if !strings.Contains(out.String(), "bot> Let me think [stopped]") {
		t.Fatalf("unexpected output:\n%s", out.String())
	}
}

func TestRunChat_InterruptAtPromptExits(t *testing.T) {
	ts := newTestServer(t, answer)
	s := chatclient.NewSession(chatclient.New(ts.URL), metin(), "")

	in, w := io.Pipe()
	defer w.Close()
	interrupts := make(chan os.Signal, 1)
	interrupts <- os.Interrupt

	done := make(chan error, 1)
	go func() { done <- runChat(context.Background(), s, in, io.Discard, interrupts) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("runChat: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("interrupt at the prompt did not exit")
	}
}

func TestReadLines_StopsWhenDone(t *testing.T) {
	done := make(chan struct{})
	lines := readLines(strings.NewReader("a\nb\nc\nd\n"), done)
	if got := <-lines; got != "a" {
		t.Fatalf("first line = %q", got)
	}
	close(done)

	// At most the line already being handed over may still arrive.
	extra := 0
	timeout := time.After(5 * time.Second)
	for {
		select {
		case _, ok := <-lines:
			if !ok {
				if extra > 1 {
					t.Fatalf("reader kept sending after done: %d extra lines", extra)
				}
				return
			}
			extra++
		case <-timeout:
			t.Fatal("reader did not stop")
		}
	}
}

func TestOpenSession(t *testing.T) {
	ts := newTestServer(t, answer)
	c := chatclient.New(ts.URL)
	ctx := context.Background()

	if _, err := openSession(ctx, c, &ChatFlags{Bot: "ghost"}); err == nil || !strings.Contains(err.Error(), "unavailable") {
		t.Fatalf("unknown bot err = %v", err)
	}

	s, err := openSession(ctx, c, &ChatFlags{Bot: "metin"})
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if s.ConversationID() != "c-9" || ts.created.Load() != 1 {
		t.Fatalf("new chat should create a conversation, id=%q created=%d", s.ConversationID(), ts.created.Load())
	}

	s, err = openSession(ctx, c, &ChatFlags{Bot: "metin", NoSave: true})
	if err != nil || s.ConversationID() != "" || ts.created.Load() != 1 {
		t.Fatalf("--no-save should not create a conversation")
	}

	s, err = openSession(ctx, c, &ChatFlags{Bot: "metin", Conversation: "c-1"})
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if len(s.Messages()) != 2 || s.Suggestions() != nil {
		t.Fatalf("resumed session should hold history and no suggestions")
	}
}

func TestPrintBots(t *testing.T) {
	bots := []chatclient.Bot{{Slug: "metin", Name: "Metin", Description: "Math tutor"}}

	var table bytes.Buffer
	if err := printBots(&table, bots, ""); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(table.String(), "SLUG") || !strings.Contains(table.String(), "metin") {
		t.Fatalf("table:\n%s", table.String())
	}

	var js bytes.Buffer
	if err := printBots(&js, bots, "json"); err != nil {
		t.Fatal(err)
	}
	var decoded []chatclient.Bot
	if err := json.Unmarshal(js.Bytes(), &decoded); err != nil || decoded[0].Slug != "metin" {
		t.Fatalf("json output %q: %v", js.String(), err)
	}

	var y bytes.Buffer
	if err := printBots(&y, bots, "yaml"); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(y.String(), "slug: metin") {
		t.Fatalf("yaml:\n%s", y.String())
	}

	if err := printBots(io.Discard, bots, "xml"); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestRootCommand_Wiring(t *testing.T) {
	root := newRootCommand()
	for _, name := range []string{"bots", "chat", "history"} {
		if _, _, err := root.Find([]string{name}); err != nil {
			t.Fatalf("subcommand %s missing: %v", name, err)
		}
	}
	if root.PersistentFlags().Lookup("server") == nil {
		t.Fatal("--server flag missing")
	}
}

func TestHistoryCommand(t *testing.T) {
	ts := newTestServer(t, answer)
	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"history", "c-1", "--server", ts.URL})
	if err := root.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("history: %v", err)
	}
	if out.String() != "user> hi\nassistant> hello\n" {
		t.Fatalf("history output %q", out.String())
	}
}
