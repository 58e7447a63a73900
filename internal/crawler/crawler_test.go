// File: internal/crawler/crawler_test.go
package crawler

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/sec-bihar/candidate-crawler/internal/extract"
	"github.com/sec-bihar/candidate-crawler/internal/portal"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// -- Fakes --

// fakePortal is an in-memory ResultsPortal. Tables are keyed by
// "districtValue|postValue".
type fakePortal struct {
	districts []portal.Option
	posts     []portal.Option

	tables     map[string]string
	notVisible map[string]bool

	districtOptionsErr error
	postOptionsErr     error
	// postOptionsFailOnRead fails the Nth call to PostOptions (1-based).
	postOptionsFailOnRead int
	clickErr              error

	postReads     int
	preSelections []string
	submissions   []string
	clickedURLs   []string
}

func (f *fakePortal) DistrictOptions(ctx context.Context) ([]portal.Option, error) {
	if f.districtOptionsErr != nil {
		return nil, f.districtOptionsErr
	}
	return f.districts, nil
}

func (f *fakePortal) PostOptions(ctx context.Context) ([]portal.Option, error) {
	f.postReads++
	if f.postOptionsErr != nil {
		return nil, f.postOptionsErr
	}
	if f.postOptionsFailOnRead == f.postReads {
		return nil, fmt.Errorf("postback failed")
	}
	return f.posts, nil
}

func (f *fakePortal) SelectDistrict(ctx context.Context, district portal.Option) error {
	f.preSelections = append(f.preSelections, district.Value)
	return nil
}

func (f *fakePortal) Submit(ctx context.Context, district, post portal.Option) error {
	key := district.Value + "|" + post.Value
	f.submissions = append(f.submissions, key)
	if f.notVisible[key] {
		return portal.ErrTableNotVisible
	}
	return nil
}

func (f *fakePortal) TableHTML(ctx context.Context) (string, error) {
	// The fake replays the table for the most recent submission, mirroring
	// the real page's shared UI state.
	key := f.submissions[len(f.submissions)-1]
	return f.tables[key], nil
}

func (f *fakePortal) FetchViaClick(ctx context.Context, url, dest string) error {
	f.clickedURLs = append(f.clickedURLs, url)
	return f.clickErr
}

// memSink collects appended rows, optionally failing after N appends.
type memSink struct {
	rows      [][]string
	failAfter int // 0 means never fail
}

func (m *memSink) Append(row []string) error {
	if m.failAfter > 0 && len(m.rows) >= m.failAfter {
		return fmt.Errorf("disk full")
	}
	m.rows = append(m.rows, append([]string(nil), row...))
	return nil
}

// fakeFetcher records direct fetches, failing the URLs in fail.
type fakeFetcher struct {
	calls []string
	fail  map[string]bool
}

func (f *fakeFetcher) FetchDirect(ctx context.Context, url, dest string) error {
	f.calls = append(f.calls, url)
	if f.fail[url] {
		return fmt.Errorf("status 503 for %s", url)
	}
	return nil
}

// -- Fixtures --

func opt(v, l string) portal.Option { return portal.Option{Value: v, Label: l} }

// minimalRow renders one minimal-schema data row.
func minimalRow(name, party, ward, pdfURL string) string {
	link := ""
	if pdfURL != "" {
		link = fmt.Sprintf(`<a href=%q>View</a>`, pdfURL)
	}
	return fmt.Sprintf(`<tr><td>%s</td><td>%s</td><td>%s</td><td>%s</td></tr>`, name, party, ward, link)
}

func minimalTable(rows ...string) string {
	body := ""
	for _, r := range rows {
		body += r
	}
	return `<table class="table-bordered"><tbody>` + body + `</tbody></table>`
}

// extendedRow renders one extended-schema data row with optional documents.
func extendedRow(name, photoURL, affidavitURL string) string {
	photo := ""
	if photoURL != "" {
		photo = fmt.Sprintf(`<img src=%q/>`, photoURL)
	}
	affidavit := ""
	if affidavitURL != "" {
		affidavit = fmt.Sprintf(`<a href=%q>PDF</a>`, affidavitURL)
	}
	return fmt.Sprintf(
		`<tr><td>Nikay</td><td>1</td><td>UR</td><td>%s</td><td>G</td><td>M</td><td>40</td><td>Gen</td><td>Addr</td><td>98</td><td>%s</td><td>%s</td></tr>`,
		name, photo, affidavit)
}

// twoByTwo builds a 2 districts × 2 posts fake with one minimal record per
// combination, named after its combination for order assertions.
func twoByTwo() *fakePortal {
	f := &fakePortal{
		districts:  []portal.Option{opt("1", "PATNA"), opt("2", "GAYA")},
		posts:      []portal.Option{opt("a", "Mayor"), opt("b", "Councillor")},
		tables:     map[string]string{},
		notVisible: map[string]bool{},
	}
	for _, d := range f.districts {
		for _, p := range f.posts {
			key := d.Value + "|" + p.Value
			f.tables[key] = minimalTable(minimalRow("CAND-"+key, "IND", "9", ""))
		}
	}
	return f
}

// -- Tests --

func TestRunVisitsEveryCombinationInOrder(t *testing.T) {
	f := twoByTwo()
	s := &memSink{}
	c := New(zap.NewNop(), f, &fakeFetcher{}, s, Options{Schema: extract.VariantMinimal, RefreshPosts: true})

	stats, err := c.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 4, stats.Combinations)
	assert.Equal(t, 4, stats.Records)
	assert.Equal(t, 0, stats.Skipped)

	// District-major, post-minor order, both in submissions and in the sink.
	assert.Equal(t, []string{"1|a", "1|b", "2|a", "2|b"}, f.submissions)
	require.Len(t, s.rows, 4)
	assert.Equal(t, []string{"PATNA", "Mayor", "CAND-1|a", "IND", "9", ""}, s.rows[0])
	assert.Equal(t, []string{"GAYA", "Councillor", "CAND-2|b", "IND", "9", ""}, s.rows[3])
}

func TestRunSkipsInvisibleTableAndContinues(t *testing.T) {
	f := twoByTwo()
	f.notVisible["1|b"] = true
	s := &memSink{}
	c := New(zap.NewNop(), f, &fakeFetcher{}, s, Options{Schema: extract.VariantMinimal, RefreshPosts: true})

	stats, err := c.Run(context.Background())
	require.NoError(t, err, "a single combination failure must never abort the run")

	assert.Equal(t, 4, stats.Combinations, "all pairs are still attempted")
	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, 3, stats.Records, "records arrive from exactly three combinations")
}

func TestRunRefreshPostsRereadsPerDistrict(t *testing.T) {
	t.Run("refresh on reads once per district", func(t *testing.T) {
		f := twoByTwo()
		c := New(zap.NewNop(), f, &fakeFetcher{}, &memSink{}, Options{Schema: extract.VariantMinimal, RefreshPosts: true})
		_, err := c.Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 2, f.postReads)
		assert.Equal(t, []string{"1", "2"}, f.preSelections)
	})

	t.Run("refresh off reads once up front", func(t *testing.T) {
		f := twoByTwo()
		c := New(zap.NewNop(), f, &fakeFetcher{}, &memSink{}, Options{Schema: extract.VariantMinimal, RefreshPosts: false})
		_, err := c.Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, f.postReads)
	})
}

func TestRunCountsDistrictLevelSkips(t *testing.T) {
	f := twoByTwo()
	f.postOptionsFailOnRead = 2 // second district's re-read fails
	s := &memSink{}
	c := New(zap.NewNop(), f, &fakeFetcher{}, s, Options{Schema: extract.VariantMinimal, RefreshPosts: true})

	stats, err := c.Run(context.Background())
	require.NoError(t, err, "a lost district degrades completeness, not availability")

	assert.Equal(t, 1, stats.SkippedDistricts, "the whole district counts as one district-level skip")
	assert.Equal(t, 0, stats.Skipped, "no single combination was attempted and skipped")
	assert.Equal(t, 2, stats.Combinations, "only the first district's pairs were attempted")
	assert.Equal(t, 2, stats.Records)
	assert.Equal(t, []string{"1|a", "1|b"}, f.submissions)
}

func TestRunMinimalTriggersClickDownload(t *testing.T) {
	f := twoByTwo()
	f.tables["1|a"] = minimalTable(minimalRow("RAM", "BJP", "3", "http://x/ram.pdf"))
	s := &memSink{}
	c := New(zap.NewNop(), f, &fakeFetcher{}, s, Options{Schema: extract.VariantMinimal, RefreshPosts: true, DownloadDir: t.TempDir()})

	t.Run("clicks the link once per record with a URL", func(t *testing.T) {
		stats, err := c.Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []string{"http://x/ram.pdf"}, f.clickedURLs)
		assert.Equal(t, 4, stats.Records)
	})

	t.Run("a failed capture keeps the already-written row", func(t *testing.T) {
		f2 := twoByTwo()
		f2.tables["1|a"] = minimalTable(minimalRow("RAM", "BJP", "3", "http://x/ram.pdf"))
		f2.clickErr = portal.ErrDownloadTimeout
		s2 := &memSink{}
		c2 := New(zap.NewNop(), f2, &fakeFetcher{}, s2, Options{Schema: extract.VariantMinimal, RefreshPosts: true})

		stats, err := c2.Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 4, stats.Records)
		assert.Equal(t, 1, stats.DownloadFailures)
		assert.Equal(t, "http://x/ram.pdf", s2.rows[0][5], "the URL column survives a failed capture")
	})
}

func TestRunExtendedDownloads(t *testing.T) {
	newExtendedPortal := func(row string) *fakePortal {
		f := &fakePortal{
			districts:  []portal.Option{opt("1", "PATNA")},
			posts:      []portal.Option{opt("a", "Mayor")},
			tables:     map[string]string{"1|a": `<table><tbody>` + row + `</tbody></table>`},
			notVisible: map[string]bool{},
		}
		return f
	}

	t.Run("photo without affidavit fetches the photo exactly once", func(t *testing.T) {
		f := newExtendedPortal(extendedRow("GEETA", "http://x/geeta.jpg", ""))
		fetch := &fakeFetcher{}
		s := &memSink{}
		c := New(zap.NewNop(), f, fetch, s, Options{Schema: extract.VariantExtended, RefreshPosts: true, DownloadDir: "dl"})

		stats, err := c.Run(context.Background())
		require.NoError(t, err)
		require.Equal(t, 1, stats.Records)

		assert.Equal(t, []string{"http://x/geeta.jpg"}, fetch.calls)
		row := s.rows[0]
		require.Len(t, row, len(extract.VariantExtended.Header()))
		assert.NotEmpty(t, row[len(row)-2], "photo path is a constructed non-empty path")
		assert.Empty(t, row[len(row)-1], "affidavit path stays empty without a link")
	})

	t.Run("a failed direct download still appends the record with an empty path", func(t *testing.T) {
		f := newExtendedPortal(extendedRow("MOHAN", "http://x/mohan.jpg", "http://x/mohan.pdf"))
		fetch := &fakeFetcher{fail: map[string]bool{"http://x/mohan.pdf": true}}
		s := &memSink{}
		c := New(zap.NewNop(), f, fetch, s, Options{Schema: extract.VariantExtended, RefreshPosts: true, DownloadDir: "dl"})

		stats, err := c.Run(context.Background())
		require.NoError(t, err)
		require.Equal(t, 1, stats.Records)
		assert.Equal(t, 1, stats.DownloadFailures)

		row := s.rows[0]
		assert.NotEmpty(t, row[len(row)-2])
		assert.Empty(t, row[len(row)-1], "failed affidavit leaves a blank path field")
	})
}

func TestRunFatalPaths(t *testing.T) {
	t.Run("district enumeration failure is fatal", func(t *testing.T) {
		f := &fakePortal{districtOptionsErr: fmt.Errorf("portal gone")}
		c := New(zap.NewNop(), f, &fakeFetcher{}, &memSink{}, Options{Schema: extract.VariantMinimal})
		_, err := c.Run(context.Background())
		assert.Error(t, err)
	})

	t.Run("sink persistence failure aborts the run", func(t *testing.T) {
		f := twoByTwo()
		s := &memSink{failAfter: 2}
		c := New(zap.NewNop(), f, &fakeFetcher{}, s, Options{Schema: extract.VariantMinimal, RefreshPosts: true})

		stats, err := c.Run(context.Background())
		require.Error(t, err)
		assert.Equal(t, 2, stats.Records, "rows persisted before the failure stay counted")
	})

	t.Run("context cancellation stops the enumeration", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		c := New(zap.NewNop(), twoByTwo(), &fakeFetcher{}, &memSink{}, Options{Schema: extract.VariantMinimal, RefreshPosts: true})
		_, err := c.Run(ctx)
		assert.ErrorIs(t, err, context.Canceled)
	})
}
