package synthesis

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hyperjump/kotae/internal/vector"
)

// fakeChat is a scriptable ChatClient: it fails the first failures calls,
// then answers.
type fakeChat struct {
	failures int
	calls    int
	answer   string
	err      error
	lastUser string
}

func (f *fakeChat) Complete(ctx context.Context, system, user string) (string, error) {
	f.calls++
	f.lastUser = user
	if f.calls <= f.failures {
		if f.err != nil {
			return "", f.err
		}
		return "", errors.New("upstream unavailable")
	}
	return f.answer, nil
}

func (f *fakeChat) Name() string { return "fake" }

func testHits() []vector.Result {
	return []vector.Result{
		{ChunkID: "a_0", Score: 0.92, Meta: vector.Metadata{
			DocumentID: "a", Title: "policy.pdf",
			ChunkText: "Refunds are accepted within 30 days of purchase with a valid receipt.",
		}},
		{ChunkID: "b_0", Score: 0.81, Meta: vector.Metadata{
			DocumentID: "b", Title: "faq.pdf",
			ChunkText: "Contact support to initiate a return.",
		}},
	}
}

func TestSynthesizeReturnsModelAnswer(t *testing.T) {
	chat := &fakeChat{answer: "Refunds are accepted within 30 days."}
	s := NewSynthesizer(chat, time.Second, 2, WithRetryDelay(time.Millisecond))

	ans, err := s.Synthesize(context.Background(), "what is the refund policy?", "Refunds are accepted within 30 days of purchase with a valid receipt.", testHits())
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if ans.Text != "Refunds are accepted within 30 days." {
		t.Errorf("answer = %q", ans.Text)
	}
	if ans.Degraded {
		t.Error("answer should not be degraded")
	}
	if len(ans.Sources) != 2 {
		t.Fatalf("sources = %d, want 2", len(ans.Sources))
	}
	if ans.Sources[0].DocumentTitle != "policy.pdf" || ans.Sources[0].Score != 0.92 {
		t.Errorf("top source: %+v", ans.Sources[0])
	}
	if !strings.Contains(chat.lastUser, "what is the refund policy?") {
		t.Errorf("prompt missing question: %q", chat.lastUser)
	}
	if !strings.Contains(chat.lastUser, "policy.pdf") {
		t.Errorf("prompt missing source title: %q", chat.lastUser)
	}
}

func TestSynthesizeEmptyRetrieval(t *testing.T) {
	chat := &fakeChat{answer: "should not be called"}
	s := NewSynthesizer(chat, time.Second, 2)

	ans, err := s.Synthesize(context.Background(), "anything", "", nil)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if ans.Text != noInformationAnswer {
		t.Errorf("answer = %q", ans.Text)
	}
	if len(ans.Sources) != 0 {
		t.Errorf("sources should be empty: %+v", ans.Sources)
	}
	if chat.calls != 0 {
		t.Errorf("model was called %d times for empty retrieval", chat.calls)
	}
}

func TestSynthesizeRetriesThenSucceeds(t *testing.T) {
	chat := &fakeChat{failures: 2, answer: "recovered"}
	s := NewSynthesizer(chat, time.Second, 2, WithRetryDelay(time.Millisecond))

	ans, err := s.Synthesize(context.Background(), "q", "ctx", testHits())
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if ans.Text != "recovered" || ans.Degraded {
		t.Errorf("got %+v", ans)
	}
	if chat.calls != 3 {
		t.Errorf("calls = %d, want 3", chat.calls)
	}
}

func TestSynthesizeDegradesToExtractiveAnswer(t *testing.T) {
	chat := &fakeChat{failures: 10}
	s := NewSynthesizer(chat, time.Second, 2, WithRetryDelay(time.Millisecond))

	ans, err := s.Synthesize(context.Background(), "q", "ctx", testHits())
	if err != nil {
		t.Fatalf("degraded synthesis should not error: %v", err)
	}
	if !ans.Degraded {
		t.Error("answer should be flagged degraded")
	}
	if !strings.Contains(ans.Text, "relevant excerpts") {
		t.Errorf("answer = %q", ans.Text)
	}
	if !strings.Contains(ans.Text, "Refunds are accepted within 30 days") {
		t.Errorf("extractive answer missing top chunk: %q", ans.Text)
	}
	if len(ans.Sources) != 2 {
		t.Errorf("degraded answer should keep sources: %+v", ans.Sources)
	}
	// First attempt plus two retries.
	if chat.calls != 3 {
		t.Errorf("calls = %d, want 3", chat.calls)
	}
}

func TestSynthesizeRespectsCallerCancellation(t *testing.T) {
	chat := &fakeChat{failures: 10}
	s := NewSynthesizer(chat, time.Second, 5, WithRetryDelay(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := s.Synthesize(ctx, "q", "ctx", testHits())
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestExtractiveAnswerCapsChunks(t *testing.T) {
	hits := make([]vector.Result, 5)
	for i := range hits {
		hits[i] = vector.Result{Meta: vector.Metadata{ChunkText: strings.Repeat("x", 10)}}
	}
	got := extractiveAnswer(hits)
	if strings.Count(got, strings.Repeat("x", 10)) != extractiveChunkLimit {
		t.Errorf("extractive answer should quote %d chunks: %q", extractiveChunkLimit, got)
	}
}

func TestBuildSourcesTruncatesChunkText(t *testing.T) {
	long := strings.Repeat("a", 500)
	sources := buildSources([]vector.Result{{Meta: vector.Metadata{Title: "t", ChunkText: long}}})
	if len(sources[0].ChunkText) > sourceTextLimit+3 {
		t.Errorf("chunk text not truncated: %d chars", len(sources[0].ChunkText))
	}
	if !strings.HasSuffix(sources[0].ChunkText, "...") {
		t.Errorf("truncated text should end with ellipsis: %q", sources[0].ChunkText[len(sources[0].ChunkText)-10:])
	}
}
