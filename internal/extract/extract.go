// File: internal/extract/extract.go

// Package extract turns a snapshot of the results table into typed candidate
// records. Parsing happens outside the browser, against static HTML, so it
// is deterministic and testable without a session.
package extract

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// DocumentKind classifies a linked binary artifact on a results row.
type DocumentKind string

const (
	KindPhoto     DocumentKind = "photo"
	KindAffidavit DocumentKind = "affidavit"
)

// DocumentRef points at one downloadable artifact belonging to a record. A
// ref with an empty URL is never emitted; absence of a link simply produces
// no ref.
type DocumentRef struct {
	URL  string
	Kind DocumentKind
}

// CandidateRecord is one parsed data row, stamped with the combination it
// was found under. It is written once to the sink and never mutated after.
type CandidateRecord struct {
	District string
	Post     string

	// Name is the candidate name, used to derive local document filenames.
	Name string

	// Fields holds the text columns in schema order, after District and
	// Post. For the minimal variant the trailing field is the raw PDF URL.
	Fields []string

	// Docs lists the artifacts to fetch for this record, in schema order.
	Docs []DocumentRef
}

// Rows parses every data row of the given table snapshot. Rows with fewer
// cells than the variant's minimum are skipped silently; this guards against
// header, footer and malformed rows. All text is whitespace-trimmed.
func Rows(tableHTML, district, post string, v Variant) ([]CandidateRecord, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(tableHTML))
	if err != nil {
		return nil, fmt.Errorf("failed to parse table snapshot: %w", err)
	}

	var records []CandidateRecord
	doc.Find("tbody tr").Each(func(_ int, tr *goquery.Selection) {
		cells := tr.Find("td")
		if cells.Length() < v.MinCells() {
			return
		}
		if v == VariantExtended {
			records = append(records, parseExtended(cells, district, post))
			return
		}
		records = append(records, parseMinimal(cells, district, post))
	})
	return records, nil
}

// parseMinimal reads the post-wise layout: Name | Party | Ward | PDF link.
func parseMinimal(cells *goquery.Selection, district, post string) CandidateRecord {
	name := text(cells, 0)
	pdfURL := href(cells, 3)

	rec := CandidateRecord{
		District: district,
		Post:     post,
		Name:     name,
		Fields:   []string{name, text(cells, 1), text(cells, 2), pdfURL},
	}
	if pdfURL != "" {
		rec.Docs = append(rec.Docs, DocumentRef{URL: pdfURL, Kind: KindAffidavit})
	}
	return rec
}

// parseExtended reads the detail layout: ten text columns followed by the
// photo and affidavit cells.
func parseExtended(cells *goquery.Selection, district, post string) CandidateRecord {
	fields := make([]string, 0, 10)
	for i := 0; i < 10; i++ {
		fields = append(fields, text(cells, i))
	}

	rec := CandidateRecord{
		District: district,
		Post:     post,
		Name:     text(cells, 3),
		Fields:   fields,
	}
	if photoURL := imgSrc(cells, 10); photoURL != "" {
		rec.Docs = append(rec.Docs, DocumentRef{URL: photoURL, Kind: KindPhoto})
	}
	if affidavitURL := href(cells, 11); affidavitURL != "" {
		rec.Docs = append(rec.Docs, DocumentRef{URL: affidavitURL, Kind: KindAffidavit})
	}
	return rec
}

// Doc returns the record's ref of the given kind, if present.
func (r CandidateRecord) Doc(kind DocumentKind) (DocumentRef, bool) {
	for _, d := range r.Docs {
		if d.Kind == kind {
			return d, true
		}
	}
	return DocumentRef{}, false
}

func text(cells *goquery.Selection, i int) string {
	return strings.TrimSpace(cells.Eq(i).Text())
}

func href(cells *goquery.Selection, i int) string {
	link := cells.Eq(i).Find("a").First()
	return strings.TrimSpace(link.AttrOr("href", ""))
}

func imgSrc(cells *goquery.Selection, i int) string {
	img := cells.Eq(i).Find("img").First()
	return strings.TrimSpace(img.AttrOr("src", ""))
}
