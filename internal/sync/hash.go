package sync

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"

	"github.com/openfondos/grantmirror/internal/clients/bdns"
)

// Content hashing gates reprocessing, so it must be a pure function of the
// remote field values: the input is projected onto fixed-order structs and
// every slice is sorted before marshaling. JSON key order in the remote
// payload never reaches the digest.

type detailProjection struct {
	ID               int64    `json:"id"`
	Code             string   `json:"code"`
	Title            string   `json:"title"`
	RegulationText   string   `json:"regulation_text"`
	RegulationURL    string   `json:"regulation_url"`
	ElectronicOffice string   `json:"electronic_office"`
	ReceivedAt       string   `json:"received_at"`
	OpensAt          string   `json:"opens_at"`
	ClosesAt         string   `json:"closes_at"`
	Open             bool     `json:"open"`
	BudgetTotal      *float64 `json:"budget_total"`
	RecoveryFunded   bool     `json:"recovery_funded"`
	OrganLevel1      string   `json:"organ_level1"`
	OrganLevel2      string   `json:"organ_level2"`
	OrganLevel3      string   `json:"organ_level3"`
	Purpose          string   `json:"purpose"`

	BeneficiaryTypes []string `json:"beneficiary_types"`
	Instruments      []string `json:"instruments"`
	Regions          []string `json:"regions"`
	Funds            []string `json:"funds"`
	Sectors          []string `json:"sectors"`

	Documents     []documentProjection     `json:"documents"`
	Announcements []announcementProjection `json:"announcements"`
	Objectives    []string                 `json:"objectives"`
}

type documentProjection struct {
	ID          int64  `json:"id"`
	Description string `json:"description"`
	FileName    string `json:"file_name"`
	SizeBytes   int64  `json:"size_bytes"`
	ModifiedAt  string `json:"modified_at"`
	PublishedAt string `json:"published_at"`
}

type announcementProjection struct {
	Number      int64  `json:"number"`
	Title       string `json:"title"`
	TitleLang   string `json:"title_lang"`
	Text        string `json:"text"`
	URL         string `json:"url"`
	Gazette     string `json:"gazette"`
	PublishedAt string `json:"published_at"`
}

// ContentHash digests the full detail payload. Equal payloads always digest
// equal; any single field difference changes the digest.
func ContentHash(d *bdns.CallDetail) string {
	p := detailProjection{
		ID:               d.ID,
		Code:             d.Code,
		Title:            d.Title,
		RegulationText:   d.RegulationText,
		RegulationURL:    d.RegulationURL,
		ElectronicOffice: d.ElectronicOffice,
		ReceivedAt:       d.ReceivedAt,
		OpensAt:          d.ApplicationOpensAt,
		ClosesAt:         d.ApplicationClosesAt,
		Open:             d.Open,
		BudgetTotal:      d.BudgetTotal,
		RecoveryFunded:   d.RecoveryFunded,
		OrganLevel1:      d.Organ.Level1,
		OrganLevel2:      d.Organ.Level2,
		OrganLevel3:      d.Organ.Level3,

		BeneficiaryTypes: refKeys(d.BeneficiaryTypes),
		Instruments:      refKeys(d.Instruments),
		Regions:          refKeys(d.Regions),
		Funds:            refKeys(d.Funds),
		Sectors:          refKeys(d.Sectors),
	}
	if d.Purpose != nil {
		p.Purpose = d.Purpose.ResolutionKey()
	}

	p.Documents = make([]documentProjection, 0, len(d.Documents))
	for _, doc := range d.Documents {
		p.Documents = append(p.Documents, documentProjection{
			ID:          doc.ID,
			Description: doc.Description,
			FileName:    doc.FileName,
			SizeBytes:   doc.SizeBytes,
			ModifiedAt:  doc.ModifiedAt,
			PublishedAt: doc.PublishedAt,
		})
	}
	sort.Slice(p.Documents, func(i, j int) bool { return p.Documents[i].ID < p.Documents[j].ID })

	p.Announcements = make([]announcementProjection, 0, len(d.Announcements))
	for _, a := range d.Announcements {
		p.Announcements = append(p.Announcements, announcementProjection{
			Number:      a.Number,
			Title:       a.Title,
			TitleLang:   a.TitleLang,
			Text:        a.Text,
			URL:         a.URL,
			Gazette:     a.Gazette,
			PublishedAt: a.PublishedAt,
		})
	}
	sort.Slice(p.Announcements, func(i, j int) bool {
		if p.Announcements[i].Number != p.Announcements[j].Number {
			return p.Announcements[i].Number < p.Announcements[j].Number
		}
		return p.Announcements[i].Title < p.Announcements[j].Title
	})

	p.Objectives = make([]string, 0, len(d.Objectives))
	for _, o := range d.Objectives {
		p.Objectives = append(p.Objectives, o.Description)
	}
	sort.Strings(p.Objectives)

	return digest(p)
}

type summaryProjection struct {
	ID          int64  `json:"id"`
	Code        string `json:"code"`
	Description string `json:"description"`
	ReceivedAt  string `json:"received_at"`
	OrganLevel1 string `json:"organ_level1"`
	OrganLevel2 string `json:"organ_level2"`
	OrganLevel3 string `json:"organ_level3"`
	Recovery    bool   `json:"recovery"`
}

// SummaryHash digests the fields visible on a search page. It is a pre-filter
// only: summary and detail payloads can drift, so a summary mismatch is just
// a hint to fetch the detail, and the detail-level ContentHash decides.
func SummaryHash(it *bdns.SearchItem) string {
	return digest(summaryProjection{
		ID:          it.ID,
		Code:        it.Code,
		Description: it.Description,
		ReceivedAt:  it.ReceivedAt,
		OrganLevel1: it.OrganLevel1,
		OrganLevel2: it.OrganLevel2,
		OrganLevel3: it.OrganLevel3,
		Recovery:    it.Recovery,
	})
}

// SummaryHashFromDetail computes the summary digest a future search page
// would produce for this call, so the stored pre-filter state stays aligned
// with the just-committed detail.
func SummaryHashFromDetail(d *bdns.CallDetail) string {
	return SummaryHash(&bdns.SearchItem{
		ID:          d.ID,
		Code:        d.Code,
		Description: d.Title,
		ReceivedAt:  d.ReceivedAt,
		OrganLevel1: d.Organ.Level1,
		OrganLevel2: d.Organ.Level2,
		OrganLevel3: d.Organ.Level3,
		Recovery:    d.RecoveryFunded,
	})
}

func refKeys(refs []bdns.RefValue) []string {
	out := make([]string, 0, len(refs))
	for _, r := range refs {
		out = append(out, r.ResolutionKey())
	}
	sort.Strings(out)
	return out
}

func digest(v interface{}) string {
	raw, err := json.Marshal(v)
	if err != nil {
		// Projections are plain data; Marshal cannot fail on them.
		return ""
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
