package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/aphchrisc/PolicyPulse-sub000/pkg/modelclient"
	"github.com/aphchrisc/PolicyPulse-sub000/pkg/models"
	"github.com/aphchrisc/PolicyPulse-sub000/pkg/store"
	"github.com/aphchrisc/PolicyPulse-sub000/pkg/tokens"
)

type fakeModel struct {
	mu       sync.Mutex
	calls    int
	pdfCalls int
	vision   bool
	fn       func(call int) (map[string]any, error)
	pdfFn    func() (map[string]any, error)
}

func (f *fakeModel) StructuredCompletion(_ context.Context, _ []modelclient.Message, _ json.RawMessage, _ *modelclient.Options) (map[string]any, error) {
	f.mu.Lock()
	f.calls++
	n := f.calls
	f.mu.Unlock()
	return f.fn(n)
}

func (f *fakeModel) StructuredCompletionWithPDF(_ context.Context, _ []byte, _ string, _ json.RawMessage, _ *modelclient.Options) (map[string]any, error) {
	f.mu.Lock()
	f.pdfCalls++
	f.mu.Unlock()
	return f.pdfFn()
}

func (f *fakeModel) SupportsVision() bool { return f.vision }
func (f *fakeModel) Model() string        { return "fake-model" }

func (f *fakeModel) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func validObj(summary, level string) map[string]any {
	return map[string]any{
		"summary": summary,
		"impact_summary": map[string]any{
			"primary_category":   "public_health",
			"impact_level":       level,
			"relevance_to_texas": "high",
		},
	}
}

func newEngineStore(t *testing.T) *store.Store {
	t.Helper()
	dsn := fmt.Sprintf("file:analysis_%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	s := store.New(db, nil)
	require.NoError(t, s.Migrate())
	return s
}

func seedBill(t *testing.T, s *store.Store, externalID string, text []byte, isBinary bool, contentType string) *models.Bill {
	t.Helper()
	in := &store.BillInput{
		DataSource:     "legiscan",
		ExternalID:     externalID,
		GovernmentType: models.GovState,
		BillNumber:     "HB " + externalID,
		Title:          "Relating to county health services",
		Description:    "A bill concerning county health services",
		StatusCode:     1,
	}
	if text != nil {
		in.Texts = []store.TextInput{{
			VersionNumber: 1,
			IsBinary:      isBinary,
			ContentType:   contentType,
			Content:       text,
		}}
	}
	bill, _, err := s.UpsertBill(context.Background(), in)
	require.NoError(t, err)
	return bill
}

// longText builds roughly n heuristic tokens of paragraph-separated prose.
func longText(n int) string {
	para := strings.Repeat("The county shall provide public health services to residents. ", 10)
	var sb strings.Builder
	for sb.Len() < n*4 {
		sb.WriteString(para)
		sb.WriteString("\n\n")
	}
	return sb.String()
}

func TestAnalyzeShortTextSkipsModel(t *testing.T) {
	s := newEngineStore(t)
	model := &fakeModel{fn: func(int) (map[string]any, error) {
		return nil, errors.New("model must not be called")
	}}
	bill := seedBill(t, s, "1", []byte("too short"), false, "text/plain")

	e := NewEngine(s, model, tokens.NewHeuristicCounter(), nil, Options{})
	rec, err := e.Analyze(context.Background(), bill.ID)
	require.NoError(t, err)
	require.True(t, rec.InsufficientText)
	require.Equal(t, models.ImpactLow, rec.ImpactLevel)
	require.Equal(t, 1, rec.Version)
	require.Zero(t, model.callCount())
}

func TestAnalyzeSingleCallAndCache(t *testing.T) {
	s := newEngineStore(t)
	model := &fakeModel{fn: func(int) (map[string]any, error) {
		return validObj("This bill expands rural hospital funding substantially.", "high"), nil
	}}
	bill := seedBill(t, s, "2", []byte(longText(500)), false, "text/plain")

	e := NewEngine(s, model, tokens.NewHeuristicCounter(), nil, Options{})
	rec, err := e.Analyze(context.Background(), bill.ID)
	require.NoError(t, err)
	require.False(t, rec.InsufficientText)
	require.Equal(t, models.ImpactHigh, rec.ImpactLevel)
	require.Equal(t, "public_health", rec.ImpactCategory)
	require.Equal(t, 1, model.callCount())

	var payload Result
	require.NoError(t, json.Unmarshal(rec.RawPayload, &payload))
	require.Equal(t, "high", payload.ImpactSummary.ImpactLevel)

	again, err := e.Analyze(context.Background(), bill.ID)
	require.NoError(t, err)
	require.Equal(t, rec.ID, again.ID)
	require.Equal(t, 1, model.callCount(), "second call served from cache")
}

func TestAnalyzeMarkerSummaryBecomesInsufficient(t *testing.T) {
	s := newEngineStore(t)
	model := &fakeModel{fn: func(int) (map[string]any, error) {
		return validObj(InsufficientTextMarker, "high"), nil
	}}
	bill := seedBill(t, s, "3", []byte(longText(500)), false, "text/plain")

	e := NewEngine(s, model, tokens.NewHeuristicCounter(), nil, Options{})
	rec, err := e.Analyze(context.Background(), bill.ID)
	require.NoError(t, err)
	require.True(t, rec.InsufficientText)
	require.Equal(t, models.ImpactLow, rec.ImpactLevel, "template replaces model payload")
}

func TestAnalyzeChunkedMerge(t *testing.T) {
	s := newEngineStore(t)
	levels := []string{"moderate", "critical", "low", "low", "low", "low"}
	model := &fakeModel{fn: func(call int) (map[string]any, error) {
		level := "low"
		if call <= len(levels) {
			level = levels[call-1]
		}
		return validObj(fmt.Sprintf("Findings from reviewing portion %d of the bill.", call), level), nil
	}}
	bill := seedBill(t, s, "4", []byte(longText(900)), false, "text/plain")

	e := NewEngine(s, model, tokens.NewHeuristicCounter(), nil, Options{
		MaxContextTokens: 500,
		SafetyBuffer:     100,
	})
	rec, err := e.Analyze(context.Background(), bill.ID)
	require.NoError(t, err)
	require.False(t, rec.InsufficientText)
	require.GreaterOrEqual(t, model.callCount(), 2, "oversized document is chunked")
	require.Equal(t, models.ImpactCritical, rec.ImpactLevel,
		"merged severity is the max across chunks")
}

func TestAnalyzeChunkedAllFailures(t *testing.T) {
	s := newEngineStore(t)
	model := &fakeModel{fn: func(int) (map[string]any, error) {
		return nil, errors.New("model down")
	}}
	bill := seedBill(t, s, "5", []byte(longText(900)), false, "text/plain")

	e := NewEngine(s, model, tokens.NewHeuristicCounter(), nil, Options{
		MaxContextTokens: 500,
		SafetyBuffer:     100,
	})
	_, err := e.Analyze(context.Background(), bill.ID)
	var cpe *ContentProcessingError
	require.ErrorAs(t, err, &cpe)
	require.Equal(t, bill.ID, cpe.BillID)
}

func TestAnalyzePDFVisionPath(t *testing.T) {
	s := newEngineStore(t)
	model := &fakeModel{
		vision: true,
		pdfFn: func() (map[string]any, error) {
			return validObj("This bill reorganizes hospital district governance.", "moderate"), nil
		},
	}
	bill := seedBill(t, s, "6", []byte("%PDF-1.7 binary"), true, "application/pdf")

	e := NewEngine(s, model, tokens.NewHeuristicCounter(), nil, Options{})
	rec, err := e.Analyze(context.Background(), bill.ID)
	require.NoError(t, err)
	require.False(t, rec.InsufficientText)
	require.Equal(t, 1, model.pdfCalls)
	require.Zero(t, model.callCount())
}

func TestAnalyzePDFFailureRecordsInsufficient(t *testing.T) {
	s := newEngineStore(t)
	model := &fakeModel{
		vision: true,
		pdfFn: func() (map[string]any, error) {
			return nil, errors.New("file rejected")
		},
	}
	bill := seedBill(t, s, "7", []byte("%PDF-1.7 binary"), true, "application/pdf")

	e := NewEngine(s, model, tokens.NewHeuristicCounter(), nil, Options{})
	rec, err := e.Analyze(context.Background(), bill.ID)
	require.NoError(t, err)
	require.True(t, rec.InsufficientText)
	require.Equal(t, models.ImpactLow, rec.ImpactLevel)
}

func TestAnalyzeMissingBill(t *testing.T) {
	s := newEngineStore(t)
	model := &fakeModel{fn: func(int) (map[string]any, error) {
		return validObj("unused summary text here", "low"), nil
	}}
	e := NewEngine(s, model, tokens.NewHeuristicCounter(), nil, Options{})
	_, err := e.Analyze(context.Background(), 9999)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestAnalyzeBatchIsolation(t *testing.T) {
	s := newEngineStore(t)
	model := &fakeModel{fn: func(int) (map[string]any, error) {
		return validObj("This bill funds immunization outreach programs.", "moderate"), nil
	}}

	var ids []uint
	for i := 0; i < 3; i++ {
		bill := seedBill(t, s, fmt.Sprintf("b%d", i), []byte(longText(500)), false, "text/plain")
		ids = append(ids, bill.ID)
	}
	ids = append(ids, 9999) // missing bill must not sink the batch

	e := NewEngine(s, model, tokens.NewHeuristicCounter(), nil, Options{MaxConcurrent: 2})
	summary := e.AnalyzeBatch(context.Background(), ids)

	require.Equal(t, 3, summary.SuccessCount)
	require.Equal(t, 1, summary.FailureCount)
	require.Equal(t, len(ids), summary.SuccessCount+summary.FailureCount)
	require.Len(t, summary.Failures, 1)
	require.Equal(t, uint(9999), summary.Failures[0].BillID)
	require.ErrorIs(t, summary.Failures[0].Err, ErrNotFound)
}

func TestAnalyzeBatchCancelledContext(t *testing.T) {
	s := newEngineStore(t)
	model := &fakeModel{fn: func(int) (map[string]any, error) {
		return validObj("unused", "low"), nil
	}}
	bill := seedBill(t, s, "c1", []byte(longText(500)), false, "text/plain")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e := NewEngine(s, model, tokens.NewHeuristicCounter(), nil, Options{})
	summary := e.AnalyzeBatch(ctx, []uint{bill.ID})
	require.Equal(t, 1, summary.FailureCount+summary.SuccessCount)
}

func TestEvictForcesReanalysis(t *testing.T) {
	s := newEngineStore(t)
	model := &fakeModel{fn: func(int) (map[string]any, error) {
		return validObj("This bill adjusts clinic licensing requirements.", "low"), nil
	}}
	bill := seedBill(t, s, "8", []byte(longText(500)), false, "text/plain")

	e := NewEngine(s, model, tokens.NewHeuristicCounter(), nil, Options{})
	first, err := e.Analyze(context.Background(), bill.ID)
	require.NoError(t, err)

	e.Evict(bill.ID)
	second, err := e.Analyze(context.Background(), bill.ID)
	require.NoError(t, err)
	require.Equal(t, 2, model.callCount())
	require.Equal(t, first.Version+1, second.Version)
}
