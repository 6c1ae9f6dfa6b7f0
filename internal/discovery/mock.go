// Package discovery adapts upstream tool producers to orchestrator.Producer.
// The mock adapter serves a fixed sample for local runs; the HTTP adapter
// talks to a JSON discovery service behind a token-bucket limiter.
package discovery

import (
	"context"
	"sync"

	"github.com/toolscout/catalogd/internal/domain"
)

// MockProducer returns a fixed candidate list and news count.
type MockProducer struct {
	mu         sync.Mutex
	candidates []domain.Candidate
	news       int
	err        error
}

// NewMockProducer serves candidates, or the built-in sample when none are given.
func NewMockProducer(candidates ...domain.Candidate) *MockProducer {
	if len(candidates) == 0 {
		candidates = SampleCandidates()
	}
	return &MockProducer{candidates: candidates, news: 12}
}

// FailWith makes the next calls return err. Pass nil to recover.
func (m *MockProducer) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *MockProducer) DiscoverTools(ctx context.Context) ([]domain.Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	return append([]domain.Candidate(nil), m.candidates...), nil
}

func (m *MockProducer) RefreshNews(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	return m.news, nil
}

// SampleCandidates is the built-in mock catalog. Two entries carry the
// generator defaults the quality engine fingerprints.
func SampleCandidates() []domain.Candidate {
	return []domain.Candidate{
		{Name: "Cursor", Description: "AI-first code editor", Category: "coding", Website: "https://cursor.com", Source: "producthunt", Rating: 4.7, ReviewCount: 2140, WeeklyUsers: 48000, Growth: "+35%"},
		{Name: "Perplexity", Description: "Answer engine with citations", Category: "search", Website: "https://perplexity.ai", Source: "producthunt", Rating: 4.6, ReviewCount: 3890, WeeklyUsers: 120000, Growth: "+22%"},
		{Name: "Midjourney", Description: "Image generation from prompts", Category: "design", Website: "https://midjourney.com", Source: "github", Rating: 4.5, ReviewCount: 5120, WeeklyUsers: 210000, Growth: "+8%"},
		{Name: "ElevenLabs", Description: "Synthetic voice and dubbing", Category: "audio", Website: "https://elevenlabs.io", Source: "hackernews", Rating: 4.4, ReviewCount: 960, WeeklyUsers: 31000, Growth: "+41%"},
		{Name: "Notion AI", Description: "Writing assistant inside Notion", Category: "productivity", Website: "https://notion.so/product/ai", Source: "producthunt", Rating: 4.3, ReviewCount: 1780, WeeklyUsers: 95000, Growth: "+12%"},
		{Name: "Runway", Description: "Video generation and editing", Category: "video", Website: "https://runwayml.com", Source: "github", Rating: 4.2, ReviewCount: 189, WeeklyUsers: 150000, Growth: "+28%"},
		{Name: "Gamma", Description: "Presentations from a prompt", Category: "productivity", Website: "https://gamma.app", Source: "hackernews", Rating: 4.1, ReviewCount: 640, WeeklyUsers: 150000, Growth: "+19%"},
		{Name: "Phind", Description: "Search engine for developers", Category: "coding", Website: "https://phind.com", Source: "hackernews", Rating: 4.0, ReviewCount: 410, WeeklyUsers: 12500, Growth: "+6%"},
	}
}
