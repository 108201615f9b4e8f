package syncer

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/aphchrisc/PolicyPulse-sub000/pkg/legiscan"
	"github.com/aphchrisc/PolicyPulse-sub000/pkg/models"
	"github.com/aphchrisc/PolicyPulse-sub000/pkg/store"
)

type fetched struct {
	body []byte
	mime string
}

type fakeUpstream struct {
	sessions   map[string][]legiscan.Session
	master     map[int]*legiscan.MasterList
	bills      map[int]*legiscan.BillDetail
	texts      map[int]*legiscan.BillTextDoc
	urls       map[string]fetched
	billErr    map[int]error
	sessionErr map[string]error

	getBillCalls int
}

func (f *fakeUpstream) GetSessionList(_ context.Context, state string) ([]legiscan.Session, error) {
	if err := f.sessionErr[state]; err != nil {
		return nil, err
	}
	return f.sessions[state], nil
}

func (f *fakeUpstream) GetMasterListRaw(_ context.Context, sessionID int) (*legiscan.MasterList, error) {
	ml, ok := f.master[sessionID]
	if !ok {
		return nil, fmt.Errorf("no masterlist for session %d", sessionID)
	}
	return ml, nil
}

func (f *fakeUpstream) GetBill(_ context.Context, billID int) (*legiscan.BillDetail, error) {
	f.getBillCalls++
	if err := f.billErr[billID]; err != nil {
		return nil, err
	}
	bill, ok := f.bills[billID]
	if !ok {
		return nil, &legiscan.APIError{Op: "getBill", HTTPStatus: 404, Message: "unknown bill"}
	}
	return bill, nil
}

func (f *fakeUpstream) GetBillText(_ context.Context, docID int) (*legiscan.BillTextDoc, error) {
	doc, ok := f.texts[docID]
	if !ok {
		return nil, &legiscan.APIError{Op: "getBillText", HTTPStatus: 404, Message: "unknown doc"}
	}
	return doc, nil
}

func (f *fakeUpstream) FetchURL(_ context.Context, link string) ([]byte, string, error) {
	got, ok := f.urls[link]
	if !ok {
		return nil, "", fmt.Errorf("fetch %s: unreachable", link)
	}
	return got.body, got.mime, nil
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	dsn := fmt.Sprintf("file:syncer_%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	s := store.New(db, nil)
	require.NoError(t, s.Migrate())
	return s
}

func texasSession() legiscan.Session {
	return legiscan.Session{
		SessionID:   2172,
		SessionName: "89th Legislature",
		YearStart:   2025,
		YearEnd:     2026,
		SineDie:     0,
	}
}

func texasBill(id int, changeHash string) *legiscan.BillDetail {
	b := &legiscan.BillDetail{
		BillID:         id,
		State:          "TX",
		BillNumber:     fmt.Sprintf("HB %d", id),
		Title:          "Relating to hospital district funding",
		Description:    "County hospital and public health clinic funding",
		Status:         1,
		IntroducedDate: "2025-03-04",
		Sponsors: []legiscan.Sponsor{
			{PeopleID: 9, Name: "Doe", Party: "D"},
		},
		Texts: []legiscan.TextVersion{
			{DocID: id * 10, Version: 1, Type: "Introduced", MimeID: 1,
				StateLink: fmt.Sprintf("http://state.example/%d", id)},
		},
		Amendments: []legiscan.Amendment{
			{AmendmentID: id*100 + 1, Adopted: 1, Title: "Committee substitute"},
		},
		ChangeHash: changeHash,
	}
	b.Session.SessionName = "89th Legislature"
	return b
}

func newFakeUpstream(bills ...*legiscan.BillDetail) *fakeUpstream {
	f := &fakeUpstream{
		sessions:   map[string][]legiscan.Session{"TX": {texasSession()}},
		master:     map[int]*legiscan.MasterList{2172: {SessionID: 2172, SessionName: "89th Legislature"}},
		bills:      map[int]*legiscan.BillDetail{},
		texts:      map[int]*legiscan.BillTextDoc{},
		urls:       map[string]fetched{},
		billErr:    map[int]error{},
		sessionErr: map[string]error{},
	}
	for _, b := range bills {
		f.bills[b.BillID] = b
		f.master[2172].Entries = append(f.master[2172].Entries, legiscan.MasterEntry{
			BillID: b.BillID, Number: b.BillNumber, ChangeHash: b.ChangeHash,
		})
		for _, tv := range b.Texts {
			if tv.StateLink != "" {
				f.urls[tv.StateLink] = fetched{
					body: []byte("<html><body>Section 1. Hospital funding text.</body></html>"),
					mime: "text/html",
				}
			}
		}
	}
	return f
}

func TestRunSyncPersistsNewBills(t *testing.T) {
	s := newTestStore(t)
	up := newFakeUpstream(texasBill(42, "aaa"), texasBill(43, "bbb"))
	e := NewEngine(s, up, WithJurisdictions([]string{"TX"}))

	summary, err := e.RunSync(context.Background(), models.SyncManual)
	require.NoError(t, err)
	require.Equal(t, models.SyncCompleted, summary.Status)
	require.Equal(t, 2, summary.NewBills)
	require.Zero(t, summary.UpdatedBills)
	require.Equal(t, 2, summary.AmendmentsTracked)
	require.Zero(t, summary.ErrorCount)

	hashes, err := s.FindChangeHashes(context.Background(), DataSource)
	require.NoError(t, err)
	require.Equal(t, map[string]string{"42": "aaa", "43": "bbb"}, hashes)
}

func TestRunSyncSkipsUnchangedBills(t *testing.T) {
	s := newTestStore(t)
	up := newFakeUpstream(texasBill(42, "aaa"))
	e := NewEngine(s, up, WithJurisdictions([]string{"TX"}))

	_, err := e.RunSync(context.Background(), models.SyncManual)
	require.NoError(t, err)
	firstCalls := up.getBillCalls

	summary, err := e.RunSync(context.Background(), models.SyncDaily)
	require.NoError(t, err)
	require.Zero(t, summary.NewBills)
	require.Zero(t, summary.UpdatedBills)
	require.Equal(t, firstCalls, up.getBillCalls, "unchanged hash fetches nothing")
}

func TestRunSyncUpdatesChangedBill(t *testing.T) {
	s := newTestStore(t)
	up := newFakeUpstream(texasBill(42, "aaa"))
	e := NewEngine(s, up, WithJurisdictions([]string{"TX"}))

	_, err := e.RunSync(context.Background(), models.SyncManual)
	require.NoError(t, err)

	changed := texasBill(42, "bbb")
	changed.Status = 4
	up.bills[42] = changed
	up.master[2172].Entries[0].ChangeHash = "bbb"

	var evicted []uint
	e2 := NewEngine(s, up,
		WithJurisdictions([]string{"TX"}),
		WithBillUpdatedHook(func(id uint) { evicted = append(evicted, id) }))

	summary, err := e2.RunSync(context.Background(), models.SyncManual)
	require.NoError(t, err)
	require.Zero(t, summary.NewBills)
	require.Equal(t, 1, summary.UpdatedBills)
	require.Len(t, evicted, 1)

	hashes, err := s.FindChangeHashes(context.Background(), DataSource)
	require.NoError(t, err)
	require.Equal(t, "bbb", hashes["42"])
}

func TestRunSyncPerBillErrorIsolation(t *testing.T) {
	s := newTestStore(t)
	up := newFakeUpstream(texasBill(42, "aaa"), texasBill(43, "bbb"))
	up.billErr[42] = &legiscan.APIError{Op: "getBill", HTTPStatus: 500, Message: "boom"}
	e := NewEngine(s, up, WithJurisdictions([]string{"TX"}))

	summary, err := e.RunSync(context.Background(), models.SyncManual)
	require.NoError(t, err)
	require.Equal(t, models.SyncPartial, summary.Status)
	require.Equal(t, 1, summary.NewBills, "healthy sibling still committed")
	require.Equal(t, 1, summary.ErrorCount)

	var errRows []models.SyncError
	require.NoError(t, s.DB().Find(&errRows).Error)
	require.Len(t, errRows, 1)
	require.Equal(t, "42", errRows[0].ExternalID)
	require.Equal(t, "ApiError", errRows[0].ErrorType)
	require.Contains(t, errRows[0].Stack, "*legiscan.APIError")
}

func TestRunSyncSkipsClosedSessions(t *testing.T) {
	s := newTestStore(t)
	up := newFakeUpstream(texasBill(42, "aaa"))
	up.sessions["TX"] = []legiscan.Session{{
		SessionID: 1500, SessionName: "77th Legislature",
		YearStart: 2001, YearEnd: 2002, SineDie: 1,
	}}
	e := NewEngine(s, up, WithJurisdictions([]string{"TX"}))

	summary, err := e.RunSync(context.Background(), models.SyncManual)
	require.NoError(t, err)
	require.Equal(t, models.SyncCompleted, summary.Status)
	require.Zero(t, summary.NewBills)
	require.Zero(t, up.getBillCalls)
}

func TestRunSyncSessionFailureIsPartial(t *testing.T) {
	s := newTestStore(t)
	up := newFakeUpstream(texasBill(42, "aaa"))
	up.sessionErr["TX"] = &legiscan.APIError{Op: "getSessionList", HTTPStatus: 500, Message: "down"}
	e := NewEngine(s, up, WithJurisdictions([]string{"TX"}))

	summary, err := e.RunSync(context.Background(), models.SyncManual)
	require.NoError(t, err)
	require.Equal(t, models.SyncPartial, summary.Status)
	require.Equal(t, 1, summary.ErrorCount)
}

func TestRunSyncSkipsForeignJurisdiction(t *testing.T) {
	s := newTestStore(t)
	foreign := texasBill(42, "aaa")
	foreign.State = "CA"
	up := newFakeUpstream(foreign)
	e := NewEngine(s, up, WithJurisdictions([]string{"TX"}))

	summary, err := e.RunSync(context.Background(), models.SyncManual)
	require.NoError(t, err)
	require.Equal(t, models.SyncCompleted, summary.Status)
	require.Zero(t, summary.NewBills)
	require.Zero(t, summary.ErrorCount)
}

func TestRunSyncStoresBinaryText(t *testing.T) {
	s := newTestStore(t)
	bill := texasBill(42, "aaa")
	up := newFakeUpstream(bill)
	up.urls[bill.Texts[0].StateLink] = fetched{
		body: []byte("%PDF-1.7 binary body"),
		mime: "application/pdf",
	}
	e := NewEngine(s, up, WithJurisdictions([]string{"TX"}))

	_, err := e.RunSync(context.Background(), models.SyncManual)
	require.NoError(t, err)

	var text models.BillText
	require.NoError(t, s.DB().First(&text).Error)
	require.True(t, text.IsBinary)
	require.Equal(t, "application/pdf", text.ContentType)
	require.Equal(t, []byte("%PDF-1.7 binary body"), text.Content)
}

func TestRunSyncFallsBackToDocPayload(t *testing.T) {
	s := newTestStore(t)
	bill := texasBill(42, "aaa")
	bill.Texts[0].StateLink = "http://state.example/unreachable"
	up := newFakeUpstream(bill)
	delete(up.urls, "http://state.example/unreachable")
	up.texts[bill.Texts[0].DocID] = &legiscan.BillTextDoc{
		DocID:   bill.Texts[0].DocID,
		Content: []byte("Section 1. Plain text from document payload."),
	}
	e := NewEngine(s, up, WithJurisdictions([]string{"TX"}))

	summary, err := e.RunSync(context.Background(), models.SyncManual)
	require.NoError(t, err)
	require.Equal(t, models.SyncCompleted, summary.Status)

	var text models.BillText
	require.NoError(t, s.DB().First(&text).Error)
	require.False(t, text.IsBinary)
	require.Contains(t, string(text.Content), "document payload")
}

func TestRunSyncRejectsConcurrentRuns(t *testing.T) {
	s := newTestStore(t)
	up := newFakeUpstream(texasBill(42, "aaa"))

	var e *Engine
	var reentrant error
	e = NewEngine(s, up,
		WithJurisdictions([]string{"TX"}),
		WithBillUpdatedHook(func(uint) {
			_, reentrant = e.RunSync(context.Background(), models.SyncManual)
		}))

	_, err := e.RunSync(context.Background(), models.SyncManual)
	require.NoError(t, err)
	require.ErrorIs(t, reentrant, ErrSyncInProgress)
}

func TestRunSyncRecordsPriorities(t *testing.T) {
	s := newTestStore(t)
	up := newFakeUpstream(texasBill(42, "aaa"))
	e := NewEngine(s, up, WithJurisdictions([]string{"TX"}))

	_, err := e.RunSync(context.Background(), models.SyncManual)
	require.NoError(t, err)

	var pr models.Priority
	require.NoError(t, s.DB().First(&pr).Error)
	require.Greater(t, pr.PublicHealthRelevance, 0,
		"hospital and clinic keywords score health relevance")
}

func TestParseDate(t *testing.T) {
	d := parseDate("2025-03-04")
	require.NotNil(t, d)
	require.Equal(t, time.Date(2025, 3, 4, 0, 0, 0, 0, time.UTC), *d)

	require.Nil(t, parseDate(""))
	require.Nil(t, parseDate("0000-00-00"))
	require.Nil(t, parseDate("not a date"))
}
