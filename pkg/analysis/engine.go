package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"

	"github.com/aphchrisc/PolicyPulse-sub000/pkg/chunker"
	"github.com/aphchrisc/PolicyPulse-sub000/pkg/modelclient"
	"github.com/aphchrisc/PolicyPulse-sub000/pkg/models"
	"github.com/aphchrisc/PolicyPulse-sub000/pkg/pdfextract"
	"github.com/aphchrisc/PolicyPulse-sub000/pkg/store"
	"github.com/aphchrisc/PolicyPulse-sub000/pkg/textutil"
)

// minAnalyzableTokens is the floor under which a document goes straight to
// the insufficient-text template without a model call.
const minAnalyzableTokens = 300

// ErrNotFound reports an analyze request for a bill id that does not exist.
var ErrNotFound = errors.New("analysis: bill not found")

// ContentProcessingError reports a document none of whose chunks produced a
// valid analysis.
type ContentProcessingError struct {
	BillID uint
	Reason string
}

func (e *ContentProcessingError) Error() string {
	return fmt.Sprintf("analysis: bill %d: %s", e.BillID, e.Reason)
}

// ModelCaller is the slice of the model client the engine uses.
type ModelCaller interface {
	StructuredCompletion(ctx context.Context, msgs []modelclient.Message, schema json.RawMessage, opts *modelclient.Options) (map[string]any, error)
	StructuredCompletionWithPDF(ctx context.Context, pdf []byte, prompt string, schema json.RawMessage, opts *modelclient.Options) (map[string]any, error)
	SupportsVision() bool
	Model() string
}

// TokenCounter counts tokens and reports whether counts are estimates.
type TokenCounter interface {
	Count(text string) int
	Approximate() bool
}

// Options configures the engine.
type Options struct {
	MaxContextTokens int
	SafetyBuffer     int
	CacheTTL         time.Duration
	MaxConcurrent    int
}

// Engine runs the full analysis pipeline for a bill: content selection,
// preprocessing, chunking, model calls, merge, and versioned persistence.
type Engine struct {
	store     *store.Store
	model     ModelCaller
	counter   TokenCounter
	splitter  *chunker.Splitter
	extractor *pdfextract.Extractor
	cache     *cache
	logger    *zap.Logger

	maxContextTokens int
	safetyBuffer     int
	maxConcurrent    int

	group singleflight.Group
}

// NewEngine wires the pipeline. Zero option fields fall back to defaults.
func NewEngine(st *store.Store, model ModelCaller, counter TokenCounter, logger *zap.Logger, opts Options) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxContextTokens <= 0 {
		opts.MaxContextTokens = 120000
	}
	if opts.SafetyBuffer <= 0 {
		opts.SafetyBuffer = 20000
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 30 * time.Minute
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 5
	}
	return &Engine{
		store:            st,
		model:            model,
		counter:          counter,
		splitter:         chunker.NewSplitter(counter),
		extractor:        pdfextract.NewExtractor(logger),
		cache:            newCache(opts.CacheTTL),
		logger:           logger,
		maxContextTokens: opts.MaxContextTokens,
		safetyBuffer:     opts.SafetyBuffer,
		maxConcurrent:    opts.MaxConcurrent,
	}
}

// Evict drops the cached analysis for a bill; the sync engine calls this
// when new text lands.
func (e *Engine) Evict(billID uint) { e.cache.evict(billID) }

// Analyze produces (or returns the cached) current analysis for a bill.
// Concurrent calls for the same bill are coalesced into one model run.
func (e *Engine) Analyze(ctx context.Context, billID uint) (*models.Analysis, error) {
	if rec, ok := e.cache.get(billID); ok {
		return rec, nil
	}

	v, err, _ := e.group.Do(strconv.FormatUint(uint64(billID), 10), func() (any, error) {
		return e.analyzeOne(ctx, billID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.Analysis), nil
}

func (e *Engine) analyzeOne(ctx context.Context, billID uint) (*models.Analysis, error) {
	if rec, ok := e.cache.get(billID); ok {
		return rec, nil
	}

	bill, err := e.store.GetBill(ctx, billID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: id %d", ErrNotFound, billID)
		}
		return nil, err
	}
	latest, err := e.store.LatestText(ctx, billID)
	if err != nil {
		return nil, err
	}

	var result *Result
	insufficient := false

	if latest != nil && latest.IsBinary &&
		latest.ContentType == "application/pdf" && e.model.SupportsVision() {
		result, insufficient = e.analyzePDF(ctx, bill, latest)
	} else {
		text := e.selectText(bill, latest)
		result, insufficient, err = e.analyzeText(ctx, bill, text)
		if err != nil {
			return nil, err
		}
	}

	// A summary at or under the marker threshold means the model judged the
	// content too sparse even if it returned a full object.
	if !insufficient {
		s := strings.TrimSpace(result.Summary)
		if s == InsufficientTextMarker || len(s) < 20 {
			result = InsufficientResult(bill.BillNumber)
			insufficient = true
		}
	}

	rec, err := e.persist(ctx, bill, result, insufficient)
	if err != nil {
		return nil, err
	}
	e.cache.put(billID, rec)
	return rec, nil
}

// analyzePDF sends the document bytes straight to the model. Any failure on
// this path degrades to the insufficient-text template; the text-extraction
// fallback runs earlier, in content selection, when vision is unavailable.
func (e *Engine) analyzePDF(ctx context.Context, bill *models.Bill, latest *models.BillText) (*Result, bool) {
	obj, err := e.model.StructuredCompletionWithPDF(ctx, latest.Content,
		pdfPrompt(bill.BillNumber, bill.Title), json.RawMessage(SchemaJSON), nil)
	if err == nil {
		if res, perr := ParseResult(obj); perr == nil {
			return res, false
		} else {
			err = perr
		}
	}
	e.logger.Warn("pdf analysis failed, recording insufficient-text analysis",
		zap.Uint("bill_id", bill.ID), zap.Error(err))
	return InsufficientResult(bill.BillNumber), true
}

// selectText resolves the text to analyze: stored text first (extracting
// from PDF bytes when the model cannot take the file), then the bill
// description as a last resort.
func (e *Engine) selectText(bill *models.Bill, latest *models.BillText) string {
	if latest != nil {
		if latest.IsBinary {
			if latest.ContentType == "application/pdf" {
				text, err := e.extractor.Extract(latest.Content)
				if err == nil && text != pdfextract.NoTextMarker {
					stripped, _ := textutil.StripHTML(text)
					return stripped
				}
				e.logger.Debug("pdf extraction yielded no text",
					zap.Uint("bill_id", bill.ID), zap.Error(err))
			}
		} else if len(latest.Content) > 0 {
			stripped, _ := textutil.StripHTML(textutil.EnsurePlainString(latest.Content))
			return stripped
		}
	}
	return bill.Description
}

func (e *Engine) analyzeText(ctx context.Context, bill *models.Bill, text string) (*Result, bool, error) {
	total := e.counter.Count(text)
	if total < minAnalyzableTokens {
		return InsufficientResult(bill.BillNumber), true, nil
	}

	if total <= e.maxContextTokens {
		res, err := e.callModel(ctx, billPrompt(bill.BillNumber, bill.Title, text))
		if err != nil {
			return nil, false, err
		}
		return res, false, nil
	}

	budget := e.maxContextTokens - e.safetyBuffer
	chunks, hasStructure := e.splitter.Split(text, budget)
	e.logger.Info("analyzing oversized document in chunks",
		zap.Uint("bill_id", bill.ID),
		zap.Int("tokens", total),
		zap.Int("chunks", len(chunks)),
		zap.Bool("structured", hasStructure))

	if len(chunks) == 1 {
		res, err := e.callModel(ctx, billPrompt(bill.BillNumber, bill.Title, chunks[0]))
		if err != nil {
			return nil, false, err
		}
		return res, false, nil
	}

	parts := make([]*Result, 0, len(chunks))
	for i, chunk := range chunks {
		res, err := e.callModel(ctx, chunkPrompt(bill.BillNumber, bill.Title, chunk, i, len(chunks)))
		if err != nil {
			if ctx.Err() != nil {
				return nil, false, ctx.Err()
			}
			e.logger.Warn("chunk analysis failed",
				zap.Uint("bill_id", bill.ID),
				zap.Int("chunk", i),
				zap.Error(err))
			continue
		}
		parts = append(parts, res)
	}

	merged := Merge(parts, MergeMeta{
		Title:          bill.Title,
		BillNumber:     bill.BillNumber,
		ChunksAnalyzed: len(chunks),
	})
	if merged == nil {
		return nil, false, &ContentProcessingError{
			BillID: bill.ID,
			Reason: fmt.Sprintf("no valid analysis from %d chunks", len(chunks)),
		}
	}
	return merged, false, nil
}

func (e *Engine) callModel(ctx context.Context, prompt string) (*Result, error) {
	obj, err := e.model.StructuredCompletion(ctx, []modelclient.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: prompt},
	}, json.RawMessage(SchemaJSON), nil)
	if err != nil {
		return nil, err
	}
	return ParseResult(obj)
}

func (e *Engine) persist(ctx context.Context, bill *models.Bill, result *Result, insufficient bool) (*models.Analysis, error) {
	payload, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("analysis: encode payload: %w", err)
	}
	return e.store.InsertAnalysis(ctx, bill.ID, &store.AnalysisInput{
		ModelVersion:     e.model.Model(),
		Summary:          result.Summary,
		ImpactCategory:   result.ImpactSummary.PrimaryCategory,
		ImpactLevel:      models.ImpactLevel(result.ImpactSummary.ImpactLevel),
		InsufficientText: insufficient,
		RawPayload:       payload,
	})
}

// ItemError is one failed bill in a batch.
type ItemError struct {
	BillID uint
	Err    error
}

// BatchSummary reports the outcome of AnalyzeBatch. SuccessCount plus
// FailureCount always equals the number of requested bills.
type BatchSummary struct {
	SuccessCount    int
	FailureCount    int
	DurationSeconds float64
	AvgPerItem      float64
	Failures        []ItemError
}

// AnalyzeBatch analyzes the bills with bounded concurrency. A failed item
// never cancels its siblings; cancellation of ctx stops admission of new
// items while in-flight ones finish.
func (e *Engine) AnalyzeBatch(ctx context.Context, billIDs []uint) BatchSummary {
	start := time.Now()
	sem := semaphore.NewWeighted(int64(e.maxConcurrent))

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		summary BatchSummary
	)

	fail := func(id uint, err error) {
		mu.Lock()
		defer mu.Unlock()
		summary.FailureCount++
		summary.Failures = append(summary.Failures, ItemError{BillID: id, Err: err})
	}

	for _, id := range billIDs {
		if err := sem.Acquire(ctx, 1); err != nil {
			fail(id, err)
			continue
		}
		wg.Add(1)
		go func(id uint) {
			defer wg.Done()
			defer sem.Release(1)
			if _, err := e.Analyze(ctx, id); err != nil {
				fail(id, err)
				return
			}
			mu.Lock()
			summary.SuccessCount++
			mu.Unlock()
		}(id)
	}
	wg.Wait()

	summary.DurationSeconds = time.Since(start).Seconds()
	if n := len(billIDs); n > 0 {
		summary.AvgPerItem = summary.DurationSeconds / float64(n)
	}
	return summary
}
