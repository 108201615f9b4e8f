package syncer

import (
	"context"
	"encoding/base64"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/aphchrisc/PolicyPulse-sub000/pkg/legiscan"
	"github.com/aphchrisc/PolicyPulse-sub000/pkg/models"
	"github.com/aphchrisc/PolicyPulse-sub000/pkg/store"
	"github.com/aphchrisc/PolicyPulse-sub000/pkg/textutil"
)

// docFallbackTypes are the text types whose base64 payload is worth
// decoding even beyond version 1.
var docFallbackTypes = map[string]bool{
	"Enrolled":  true,
	"Chaptered": true,
}

// convertBill maps an upstream bill record onto a store input, resolving
// text content and scoring relevance along the way.
func (e *Engine) convertBill(ctx context.Context, detail *legiscan.BillDetail) *store.BillInput {
	in := &store.BillInput{
		DataSource:       DataSource,
		ExternalID:       strconv.Itoa(detail.BillID),
		GovernmentType:   governmentType(detail.State),
		GovernmentSource: detail.Session.SessionName,
		BillNumber:       detail.BillNumber,
		BillType:         detail.BillType,
		Title:            textutil.StripControl(detail.Title),
		Description:      textutil.StripControl(detail.Description),
		StatusCode:       detail.Status,
		URL:              detail.URL,
		StateLink:        detail.StateLink,
		ChangeHash:       detail.ChangeHash,
		IntroducedDate:   parseDate(detail.IntroducedDate),
		LastActionDate:   parseDate(detail.LastActionDate),
		StatusDate:       parseDate(detail.StatusDate),
	}

	for i, sp := range detail.Sponsors {
		in.Sponsors = append(in.Sponsors, store.SponsorInput{
			PeopleID:    sp.PeopleID,
			Name:        sp.Name,
			Role:        sp.Role,
			District:    sp.District,
			Party:       sp.Party,
			SponsorType: strconv.Itoa(sp.SponsorType),
			Position:    i + 1,
		})
	}

	for _, tv := range detail.Texts {
		if text, ok := e.acquireText(ctx, detail, tv); ok {
			in.Texts = append(in.Texts, text)
		}
	}

	for _, am := range detail.Amendments {
		in.Amendments = append(in.Amendments, store.AmendmentInput{
			ExternalID:  strconv.Itoa(am.AmendmentID),
			Adopted:     am.Adopted == 1,
			Date:        parseDate(am.Date),
			Title:       am.Title,
			Description: am.Description,
			Hash:        am.AmendmentHash,
			StateLink:   am.StateLink,
		})
	}

	score := e.scorer.Score(detail.Title, detail.Description)
	in.HealthRelevance = score.PublicHealth
	in.LocalGovRelevance = score.LocalGov
	return in
}

// acquireText resolves one text version's content. The state link is the
// preferred source; the base64 payload (inline or via a text fetch) covers
// version 1 and final texts when the link is missing or unreachable.
func (e *Engine) acquireText(ctx context.Context, detail *legiscan.BillDetail, tv legiscan.TextVersion) (store.TextInput, bool) {
	out := store.TextInput{
		VersionNumber: tv.Version,
		TextType:      tv.Type,
		TextDate:      parseDate(tv.Date),
		TextHash:      tv.TextHash,
	}

	if tv.StateLink != "" {
		body, mimeType, err := e.upstream.FetchURL(ctx, tv.StateLink)
		if err == nil && len(body) > 0 {
			e.fillContent(&out, body, mimeType)
			return out, true
		}
		e.logger.Debug("state link fetch failed, falling back to document payload",
			zap.Int("bill_id", detail.BillID),
			zap.Int("doc_id", tv.DocID),
			zap.Error(err))
	}

	if tv.Version != 1 && !docFallbackTypes[tv.Type] {
		return store.TextInput{}, false
	}

	raw := []byte(nil)
	if tv.Doc != "" {
		if decoded, err := decodeBase64(tv.Doc); err == nil {
			raw = decoded
		}
	}
	if raw == nil && tv.DocID != 0 {
		doc, err := e.upstream.GetBillText(ctx, tv.DocID)
		if err != nil {
			e.logger.Debug("text fetch failed",
				zap.Int("doc_id", tv.DocID), zap.Error(err))
			return store.TextInput{}, false
		}
		raw = doc.Content
	}
	if len(raw) == 0 {
		return store.TextInput{}, false
	}

	e.fillContent(&out, raw, legiscan.MIMEType(tv.MimeID))
	return out, true
}

// fillContent coerces raw bytes into a consistent binary or text
// representation. Signature detection overrides the declared MIME type;
// non-binary content is sanitized and stored as UTF-8.
func (e *Engine) fillContent(out *store.TextInput, raw []byte, mimeType string) {
	if detected, binary := textutil.DetectBinarySignature(raw); binary {
		out.IsBinary = true
		out.ContentType = detected
		out.Content = raw
		return
	}
	if strings.HasPrefix(mimeType, "application/pdf") {
		// Declared PDF without a PDF signature; trust the bytes.
		mimeType = "text/plain"
	}

	text := textutil.EnsurePlainString(raw)
	if strings.Contains(mimeType, "html") {
		text, _ = textutil.StripHTML(text)
	}
	out.IsBinary = false
	out.ContentType = "text/plain"
	out.Content = []byte(text)
}

func governmentType(state string) models.GovernmentType {
	if state == "US" {
		return models.GovFederal
	}
	return models.GovState
}

func decodeBase64(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(strings.TrimSpace(s))
}

// parseDate interprets an upstream YYYY-MM-DD date as UTC midnight.
// Blank and zero dates yield nil.
func parseDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" || s == "0000-00-00" {
		return nil
	}
	t, err := time.ParseInLocation("2006-01-02", s, time.UTC)
	if err != nil {
		return nil
	}
	return &t
}
