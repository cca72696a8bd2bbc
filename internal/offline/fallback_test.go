package offline

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResourceKind(t *testing.T) {
	tests := []struct {
		path, dest string
		want       ResourceKind
	}{
		{"/src/main.js", "", KindScript},
		{"/src/main.js", "image", KindScript},
		{"/a.CSS", "", KindStylesheet},
		{"/icon.ico", "", KindImage},
		{"/pic.webp", "", KindImage},
		{"/fonts", "style", KindStylesheet},
		{"/worker", "worker", KindScript},
		{"/", "document", KindOther},
		{"/manifest.json", "", KindOther},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, resourceKind(tt.path, tt.dest), "%s dest=%q", tt.path, tt.dest)
	}
}

func TestFallbackEntry(t *testing.T) {
	for _, kind := range []ResourceKind{KindScript, KindStylesheet, KindImage, KindOther, "unknown"} {
		ent := fallbackEntry(kind)
		assert.Equal(t, http.StatusOK, ent.Status, kind)
		assert.NotEmpty(t, ent.Body, kind)
		assert.Equal(t, "no-store", ent.Header.Get("Cache-Control"), kind)
	}
	assert.Equal(t, "text/plain; charset=utf-8", fallbackEntry("unknown").Header.Get("Content-Type"))
	assert.Contains(t, string(fallbackEntry(KindImage).Body), "<svg")
}

func TestStatsSnapshot(t *testing.T) {
	s := newStatsCollector()
	assert.Equal(t, uint64(0), s.Snapshot().TotalResponses)

	s.Observe(10)
	s.Observe(30)
	s.Outcome(OutcomeHit)
	s.Outcome(OutcomeHit)
	s.Outcome(OutcomeFallback)

	ss := s.Snapshot()
	assert.Equal(t, uint64(2), ss.TotalResponses)
	assert.Equal(t, uint64(10), ss.MinRespBytes)
	assert.Equal(t, uint64(30), ss.MaxRespBytes)
	assert.Equal(t, uint64(20), ss.AvgRespBytes)
	assert.Equal(t, "fallback=1 hit=2", ss.outcomeSummary())
}
