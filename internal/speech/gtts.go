package speech

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
	"unicode"
)

const (
	// DefaultGTTSURL is the Google Translate speech endpoint.
	DefaultGTTSURL = "https://translate.google.com/translate_tts"

	// maxChunkLen is the longest text the endpoint accepts per request.
	maxChunkLen = 100

	defaultGTTSTimeout = 30 * time.Second
	gttsUserAgent      = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"
)

// GTTS synthesizes speech through Google Translate's TTS endpoint. Each
// chunk comes back as an MP3 stream; the streams are concatenated in order,
// which MP3 decoders accept as one file.
type GTTS struct {
	baseURL string
	lang    string
	client  *http.Client
	logger  *slog.Logger
}

// GTTSOption configures GTTS.
type GTTSOption func(*GTTS)

// WithGTTSBaseURL sets a custom endpoint (for testing or proxies).
func WithGTTSBaseURL(u string) GTTSOption {
	return func(g *GTTS) {
		if u != "" {
			g.baseURL = u
		}
	}
}

// WithGTTSClient sets a custom HTTP client.
func WithGTTSClient(c *http.Client) GTTSOption {
	return func(g *GTTS) { g.client = c }
}

// NewGTTS creates a GTTS engine speaking lang.
func NewGTTS(lang string, logger *slog.Logger, opts ...GTTSOption) *GTTS {
	if lang == "" {
		lang = "en"
	}
	g := &GTTS{
		baseURL: DefaultGTTSURL,
		lang:    lang,
		client:  &http.Client{Timeout: defaultGTTSTimeout},
		logger:  logger,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *GTTS) Name() string { return EngineGTTS }
func (g *GTTS) Ext() string  { return "mp3" }

// Synthesize fetches every chunk of text and writes them to outPath. A
// partially written file is removed on failure.
func (g *GTTS) Synthesize(ctx context.Context, text, outPath string) (err error) {
	chunks := Chunk(text, maxChunkLen)
	if len(chunks) == 0 {
		return ErrEmptyText
	}

	f, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("creating audio file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("closing audio file: %w", cerr)
		}
		if err != nil {
			os.Remove(outPath)
		}
	}()

	for i, chunk := range chunks {
		if err := g.fetch(ctx, chunk, i, len(chunks), f); err != nil {
			return err
		}
	}
	g.logger.Debug("gtts synthesis finished", "chunks", len(chunks), "chars", len(text))
	return nil
}

func (g *GTTS) fetch(ctx context.Context, chunk string, idx, total int, w io.Writer) error {
	q := url.Values{}
	q.Set("ie", "UTF-8")
	q.Set("q", chunk)
	q.Set("tl", g.lang)
	q.Set("client", "tw-ob")
	q.Set("total", strconv.Itoa(total))
	q.Set("idx", strconv.Itoa(idx))
	q.Set("textlen", strconv.Itoa(len([]rune(chunk))))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", gttsUserAgent)
	req.Header.Set("Referer", "https://translate.google.com/")

	resp, err := g.client.Do(req)
	if err != nil {
		return &SynthesisError{Engine: EngineGTTS, Message: "request failed", Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &SynthesisError{
			Engine:  EngineGTTS,
			Status:  resp.StatusCode,
			Message: fmt.Sprintf("chunk %d/%d rejected: %s", idx+1, total, strings.TrimSpace(string(body))),
		}
	}

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return &SynthesisError{Engine: EngineGTTS, Message: "reading audio", Cause: err}
	}
	if n == 0 {
		return &SynthesisError{Engine: EngineGTTS, Message: fmt.Sprintf("chunk %d/%d returned no audio", idx+1, total)}
	}
	return nil
}

// Chunk splits text into pieces of at most maxLen runes. It prefers to cut
// after sentence punctuation, then at whitespace, and only cuts inside a
// word when a single word is longer than maxLen.
func Chunk(text string, maxLen int) []string {
	words := strings.Fields(text)
	var chunks []string
	var cur []rune

	flush := func() {
		if s := strings.TrimSpace(string(cur)); s != "" {
			chunks = append(chunks, s)
		}
		cur = cur[:0]
	}

	for _, word := range words {
		w := []rune(word)
		for len(w) > maxLen {
			flush()
			chunks = append(chunks, string(w[:maxLen]))
			w = w[maxLen:]
		}
		need := len(w)
		if len(cur) > 0 {
			need++
		}
		if len(cur)+need > maxLen {
			flush()
		}
		if len(cur) > 0 {
			cur = append(cur, ' ')
		}
		cur = append(cur, w...)
		if endsSentence(w) {
			flush()
		}
	}
	flush()
	return chunks
}

func endsSentence(w []rune) bool {
	if len(w) == 0 {
		return false
	}
	r := w[len(w)-1]
	return r == '.' || r == '!' || r == '?' || r == ';' || r == ':' || unicode.Is(unicode.Sentence_Terminal, r)
}
