package speech

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/grid/explainer/internal/engine"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestChunk(t *testing.T) {
	tests := []struct {
		name string
		text string
		max  int
		want []string
	}{
		{"empty", "   ", 10, nil},
		{"short", "Hello there.", 100, []string{"Hello there."}},
		{"sentence boundaries", "One. Two! Three?", 100, []string{"One.", "Two!", "Three?"}},
		{"word boundaries", "alpha beta gamma delta", 11, []string{"alpha beta", "gamma delta"}},
		{"long word", "abcdefghij k", 4, []string{"abcd", "efgh", "ij k"}},
		{"collapses whitespace", "a\n\n  b", 10, []string{"a b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Chunk(tt.text, tt.max)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Chunk() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestChunk_RespectsLimit(t *testing.T) {
	text := strings.Repeat("The hypotenuse is the longest side of a right triangle, opposite the right angle ", 8)
	for _, c := range Chunk(text, maxChunkLen) {
		if n := utf8.RuneCountInString(c); n > maxChunkLen || n == 0 {
			t.Errorf("chunk length %d out of range: %q", n, c)
		}
	}
}

func TestGTTS_Synthesize(t *testing.T) {
	var mu sync.Mutex
	var queries []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		queries = append(queries, r.URL.Query().Get("q"))
		mu.Unlock()
		if r.URL.Query().Get("client") != "tw-ob" || r.URL.Query().Get("tl") != "de" {
			http.Error(w, "bad query", http.StatusBadRequest)
			return
		}
		fmt.Fprintf(w, "MP3[%s]", r.URL.Query().Get("idx"))
	}))
	defer srv.Close()

	g := NewGTTS("de", testLogger(), WithGTTSBaseURL(srv.URL))
	out := filepath.Join(t.TempDir(), "voiceover.mp3")

	if err := g.Synthesize(context.Background(), "Erster Satz. Zweiter Satz.", out); err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "MP3[0]MP3[1]" {
		t.Errorf("audio = %q, want chunks concatenated in order", data)
	}
	if len(queries) != 2 || queries[0] != "Erster Satz." {
		t.Errorf("queries = %q", queries)
	}
	if g.Ext() != "mp3" {
		t.Errorf("Ext() = %q", g.Ext())
	}
}

func TestGTTS_ServiceErrorRemovesFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("idx") == "1" {
			http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
			return
		}
		w.Write([]byte("MP3"))
	}))
	defer srv.Close()

	g := NewGTTS("en", testLogger(), WithGTTSBaseURL(srv.URL))
	out := filepath.Join(t.TempDir(), "voiceover.mp3")

	err := g.Synthesize(context.Background(), "First. Second.", out)
	if !errors.Is(err, ErrSynthesisFailed) {
		t.Fatalf("Synthesize() error = %v, want ErrSynthesisFailed", err)
	}
	var se *SynthesisError
	if !errors.As(err, &se) || se.Status != http.StatusTooManyRequests {
		t.Errorf("error = %#v, want status 429", err)
	}
	if _, statErr := os.Stat(out); !os.IsNotExist(statErr) {
		t.Error("partial audio file left behind")
	}
}

func TestGTTS_EmptyBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	g := NewGTTS("en", testLogger(), WithGTTSBaseURL(srv.URL))
	err := g.Synthesize(context.Background(), "Hello.", filepath.Join(t.TempDir(), "a.mp3"))
	if !errors.Is(err, ErrSynthesisFailed) {
		t.Fatalf("Synthesize() error = %v, want ErrSynthesisFailed", err)
	}
}

func TestGTTS_EmptyText(t *testing.T) {
	g := NewGTTS("en", testLogger())
	if err := g.Synthesize(context.Background(), " \n", filepath.Join(t.TempDir(), "a.mp3")); !errors.Is(err, ErrEmptyText) {
		t.Fatalf("Synthesize() error = %v, want ErrEmptyText", err)
	}
}

type captureRunner struct {
	got   engine.Command
	stdin string
	err   error
}

func (c *captureRunner) Run(ctx context.Context, cmd engine.Command) (engine.Result, error) {
	c.got = cmd
	if cmd.Stdin != nil {
		b, _ := io.ReadAll(cmd.Stdin)
		c.stdin = string(b)
	}
	return engine.Result{}, c.err
}

func (c *captureRunner) LookPath(tool string) (string, error) { return tool, nil }

func TestCommand_Args(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want []string
	}{
		{"placeholder", []string{"--stdin", "-w", "{out}"}, []string{"--stdin", "-w", "/ws/voiceover.wav"}},
		{"embedded placeholder", []string{"--output={out}"}, []string{"--output=/ws/voiceover.wav"}},
		{"appended", []string{"--stdin"}, []string{"--stdin", "/ws/voiceover.wav"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewCommand(&captureRunner{}, "espeak-ng", tt.args, "", testLogger())
			if got := c.Args("/ws/voiceover.wav"); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Args() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCommand_Synthesize(t *testing.T) {
	r := &captureRunner{}
	c := NewCommand(r, "espeak-ng", []string{"--stdin", "-w", "{out}"}, "wav", testLogger())

	if err := c.Synthesize(context.Background(), "Hello world.", "/ws/voiceover.wav"); err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	if r.stdin != "Hello world." {
		t.Errorf("stdin = %q", r.stdin)
	}
	if r.got.Dir != "/ws" {
		t.Errorf("Dir = %q", r.got.Dir)
	}
}

func TestCommand_NotAvailable(t *testing.T) {
	r := &captureRunner{err: fmt.Errorf("%w: espeak-ng", engine.ErrNotAvailable)}
	c := NewCommand(r, "espeak-ng", nil, "", testLogger())

	err := c.Synthesize(context.Background(), "Hello.", "/ws/voiceover.wav")
	if !errors.Is(err, engine.ErrNotAvailable) {
		t.Fatalf("Synthesize() error = %v, want ErrNotAvailable", err)
	}
}
