// Package syncer reconciles upstream legislative state with local storage
// using the per-session change-hash index.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/aphchrisc/PolicyPulse-sub000/pkg/legiscan"
	"github.com/aphchrisc/PolicyPulse-sub000/pkg/models"
	"github.com/aphchrisc/PolicyPulse-sub000/pkg/relevance"
	"github.com/aphchrisc/PolicyPulse-sub000/pkg/store"
)

// DataSource tags every synced bill with its provider.
const DataSource = "legiscan"

// ErrSyncInProgress rejects a run while another is active in this process.
var ErrSyncInProgress = errors.New("syncer: sync already in progress")

// Upstream is the slice of the provider client the engine consumes.
type Upstream interface {
	GetSessionList(ctx context.Context, state string) ([]legiscan.Session, error)
	GetMasterListRaw(ctx context.Context, sessionID int) (*legiscan.MasterList, error)
	GetBill(ctx context.Context, billID int) (*legiscan.BillDetail, error)
	GetBillText(ctx context.Context, docID int) (*legiscan.BillTextDoc, error)
	FetchURL(ctx context.Context, link string) ([]byte, string, error)
}

// Summary is the outcome of one sync run.
type Summary struct {
	RunID             string
	Status            models.SyncStatus
	NewBills          int
	UpdatedBills      int
	AmendmentsTracked int
	ErrorCount        int
}

// Engine drives change-hash reconciliation. Runs are single-writer: a
// second RunSync while one is active fails with ErrSyncInProgress.
type Engine struct {
	store         *store.Store
	upstream      Upstream
	scorer        *relevance.Scorer
	logger        *zap.Logger
	jurisdictions []string

	// onBillUpdated fires after a changed bill commits, letting the
	// analysis layer drop its cached analysis.
	onBillUpdated func(billID uint)

	running atomic.Bool
	now     func() time.Time
}

// Option configures the Engine.
type Option func(*Engine)

// WithJurisdictions overrides the monitored jurisdiction list.
func WithJurisdictions(states []string) Option {
	return func(e *Engine) {
		if len(states) > 0 {
			e.jurisdictions = states
		}
	}
}

// WithBillUpdatedHook registers a callback fired after each committed bill.
func WithBillUpdatedHook(fn func(billID uint)) Option {
	return func(e *Engine) { e.onBillUpdated = fn }
}

// WithLogger sets the engine logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewEngine builds a sync engine over the store and upstream client.
func NewEngine(st *store.Store, up Upstream, opts ...Option) *Engine {
	e := &Engine{
		store:         st,
		upstream:      up,
		scorer:        relevance.NewScorer(),
		logger:        zap.NewNop(),
		jurisdictions: []string{"US", "TX"},
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RunSync executes one full reconciliation pass. Per-bill failures are
// recorded and skipped; the run finishes completed when error-free,
// partial when any item failed, and failed only when run metadata itself
// cannot be persisted.
func (e *Engine) RunSync(ctx context.Context, runType models.SyncType) (*Summary, error) {
	if !e.running.CompareAndSwap(false, true) {
		return nil, ErrSyncInProgress
	}
	defer e.running.Store(false)

	run, err := e.store.StartSyncRun(ctx, runType)
	if err != nil {
		return nil, err
	}
	e.logger.Info("sync run started",
		zap.String("run_id", run.RunID),
		zap.String("type", string(runType)))

	summary := &Summary{RunID: run.RunID}

	known, err := e.store.FindChangeHashes(ctx, DataSource)
	if err != nil {
		_ = e.store.FinishSyncRun(ctx, run.ID, models.SyncFailed, 0, 0, 0)
		return nil, err
	}

	for _, state := range e.jurisdictions {
		e.syncJurisdiction(ctx, run.ID, state, known, summary)
		if ctx.Err() != nil {
			break
		}
	}

	status := models.SyncCompleted
	switch {
	case ctx.Err() != nil:
		status = models.SyncFailed
	case summary.ErrorCount > 0:
		status = models.SyncPartial
	}
	summary.Status = status

	if err := e.store.FinishSyncRun(ctx, run.ID, status,
		summary.NewBills, summary.UpdatedBills, summary.AmendmentsTracked); err != nil {
		return summary, err
	}

	e.logger.Info("sync run finished",
		zap.String("run_id", run.RunID),
		zap.String("status", string(status)),
		zap.Int("new", summary.NewBills),
		zap.Int("updated", summary.UpdatedBills),
		zap.Int("amendments", summary.AmendmentsTracked),
		zap.Int("errors", summary.ErrorCount))

	if ctx.Err() != nil {
		return summary, ctx.Err()
	}
	return summary, nil
}

func (e *Engine) syncJurisdiction(ctx context.Context, runID uint, state string, known map[string]string, summary *Summary) {
	sessions, err := e.upstream.GetSessionList(ctx, state)
	if err != nil {
		e.recordError(ctx, runID, summary, state, err)
		return
	}

	currentYear := e.now().UTC().Year()
	for _, session := range sessions {
		if session.YearEnd < currentYear && session.SineDie != 0 {
			continue
		}
		ml, err := e.upstream.GetMasterListRaw(ctx, session.SessionID)
		if err != nil {
			e.recordError(ctx, runID, summary,
				fmt.Sprintf("%s/session-%d", state, session.SessionID), err)
			continue
		}
		for _, entry := range ml.Entries {
			if ctx.Err() != nil {
				return
			}
			externalID := strconv.Itoa(entry.BillID)
			if hash, ok := known[externalID]; ok && hash == entry.ChangeHash {
				continue
			}
			e.syncBill(ctx, runID, entry.BillID, summary)
		}
	}
}

func (e *Engine) syncBill(ctx context.Context, runID uint, billID int, summary *Summary) {
	externalID := strconv.Itoa(billID)

	detail, err := e.upstream.GetBill(ctx, billID)
	if err != nil {
		e.recordError(ctx, runID, summary, externalID, err)
		return
	}
	if !e.monitored(detail.State) {
		e.logger.Debug("skipping bill outside monitored jurisdictions",
			zap.String("external_id", externalID),
			zap.String("state", detail.State))
		return
	}

	in := e.convertBill(ctx, detail)
	bill, created, err := e.store.UpsertBill(ctx, in)
	if err != nil {
		e.recordError(ctx, runID, summary, externalID, err)
		return
	}

	if created {
		summary.NewBills++
	} else {
		summary.UpdatedBills++
	}
	summary.AmendmentsTracked += len(detail.Amendments)

	if e.onBillUpdated != nil {
		e.onBillUpdated(bill.ID)
	}
}

func (e *Engine) monitored(state string) bool {
	for _, s := range e.jurisdictions {
		if s == state {
			return true
		}
	}
	return false
}

// recordError captures a per-item failure and keeps the run going. The
// write itself failing is only logged; losing one error row must not
// abort reconciliation.
func (e *Engine) recordError(ctx context.Context, runID uint, summary *Summary, externalID string, err error) {
	summary.ErrorCount++
	e.logger.Warn("sync item failed",
		zap.String("external_id", externalID),
		zap.Error(err))
	if werr := e.store.RecordSyncError(ctx, runID, externalID,
		classifyError(err), err.Error(), errorStack(err)); werr != nil {
		e.logger.Error("failed to record sync error", zap.Error(werr))
	}
}

// errorStack renders the unwrap chain as a stack excerpt, outermost first,
// one typed frame per line.
func errorStack(err error) string {
	var b strings.Builder
	for depth := 0; err != nil && depth < 8; depth++ {
		if depth > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%T: %v", err, err)
		err = errors.Unwrap(err)
	}
	return b.String()
}

func classifyError(err error) string {
	var pe *store.PersistenceError
	var ae *legiscan.APIError
	switch {
	case errors.Is(err, legiscan.ErrRateLimited):
		return "RateLimitError"
	case errors.As(err, &ae):
		return "ApiError"
	case errors.As(err, &pe):
		return "BillPersistenceError"
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		return "CancelledError"
	default:
		return "SyncError"
	}
}
