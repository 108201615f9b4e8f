package legiscan

import "encoding/json"

// Session is one legislative session for a state.
type Session struct {
	SessionID   int    `json:"session_id"`
	SessionName string `json:"session_name"`
	YearStart   int    `json:"year_start"`
	YearEnd     int    `json:"year_end"`
	SineDie     int    `json:"sine_die"`
}

// MasterEntry is one row of the change-hash index for a session.
type MasterEntry struct {
	BillID     int    `json:"bill_id"`
	Number     string `json:"number"`
	ChangeHash string `json:"change_hash"`
}

// MasterList is the decoded master list for a session. The upstream payload
// is a dict keyed by string position whose "0" entry carries session
// metadata; that entry is split out here.
type MasterList struct {
	SessionID   int
	SessionName string
	Entries     []MasterEntry
}

// Sponsor is a bill sponsor as reported upstream.
type Sponsor struct {
	PeopleID    int    `json:"people_id"`
	Name        string `json:"name"`
	Role        string `json:"role"`
	District    string `json:"district"`
	Party       string `json:"party"`
	SponsorType int    `json:"sponsor_type_id"`
}

// TextVersion describes one text document attached to a bill. Doc, when
// present, is the base64-encoded document payload.
type TextVersion struct {
	DocID     int    `json:"doc_id"`
	Version   int    `json:"version"`
	Type      string `json:"type"`
	Date      string `json:"date"`
	MimeID    int    `json:"mime_id"`
	TextHash  string `json:"text_hash"`
	StateLink string `json:"state_link"`
	Doc       string `json:"doc,omitempty"`
}

// Amendment is an amendment record attached to a bill.
type Amendment struct {
	AmendmentID   int    `json:"amendment_id"`
	Date          string `json:"date"`
	Adopted       int    `json:"adopted"`
	Title         string `json:"title"`
	Description   string `json:"description"`
	AmendmentHash string `json:"amendment_hash"`
	StateLink     string `json:"state_link"`
}

// BillDetail is the full upstream bill record.
type BillDetail struct {
	BillID         int    `json:"bill_id"`
	State          string `json:"state"`
	BillNumber     string `json:"bill_number"`
	BillType       string `json:"bill_type"`
	Title          string `json:"title"`
	Description    string `json:"description"`
	Status         int    `json:"status"`
	StatusDate     string `json:"status_date"`
	IntroducedDate string `json:"introduced_date"`
	LastActionDate string `json:"last_action_date"`
	Session        struct {
		SessionName string `json:"session_name"`
	} `json:"session"`
	Sponsors   []Sponsor     `json:"sponsors"`
	Texts      []TextVersion `json:"texts"`
	Amendments []Amendment   `json:"amendments"`
	URL        string        `json:"url"`
	StateLink  string        `json:"state_link"`
	ChangeHash string        `json:"change_hash"`
}

// BillTextDoc is the response of a getBillText call; Content holds the
// base64-decoded document bytes.
type BillTextDoc struct {
	DocID    int    `json:"doc_id"`
	MimeID   int    `json:"mime_id"`
	TextHash string `json:"text_hash"`
	Base64   string `json:"doc"`
	Content  []byte `json:"-"`
}

// SearchResult is the raw result set of a search query.
type SearchResult struct {
	Summary json.RawMessage            `json:"summary"`
	Results map[string]json.RawMessage `json:"results"`
}

// MIMEType maps an upstream mime_id to a content type. mime_id 2 is PDF;
// everything else defaults to HTML.
func MIMEType(mimeID int) string {
	switch mimeID {
	case 1:
		return "text/html"
	case 2:
		return "application/pdf"
	case 3:
		return "application/rtf"
	case 4:
		return "application/msword"
	default:
		return "text/html"
	}
}
