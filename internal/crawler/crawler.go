// File: internal/crawler/crawler.go

// Package crawler runs the district × post enumeration loop against a
// results portal. It owns the run's central correctness property: every
// combination is attempted exactly once, and a failing combination degrades
// completeness, never availability.
package crawler

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/sec-bihar/candidate-crawler/internal/download"
	"github.com/sec-bihar/candidate-crawler/internal/extract"
	"github.com/sec-bihar/candidate-crawler/internal/portal"
)

// ResultsPortal is the capability surface the crawl needs from the
// form-driven site. The production implementation is portal.Session; tests
// substitute a fake.
type ResultsPortal interface {
	DistrictOptions(ctx context.Context) ([]portal.Option, error)
	PostOptions(ctx context.Context) ([]portal.Option, error)
	SelectDistrict(ctx context.Context, district portal.Option) error
	Submit(ctx context.Context, district, post portal.Option) error
	TableHTML(ctx context.Context) (string, error)
	// FetchViaClick triggers an in-page download by clicking the link for
	// url and persists the browser's download to dest.
	FetchViaClick(ctx context.Context, url, dest string) error
}

// DirectFetcher fetches a document by plain GET. The production
// implementation is download.Client.
type DirectFetcher interface {
	FetchDirect(ctx context.Context, url, dest string) error
}

// RecordSink receives completed rows. The production implementation is
// sink.CSV.
type RecordSink interface {
	Append(row []string) error
}

// Options carries the per-run crawl settings.
type Options struct {
	Schema extract.Variant
	// RefreshPosts re-reads the post dropdown after each district
	// selection instead of trusting one early read from the unfiltered
	// page.
	RefreshPosts bool
	DownloadDir  string
}

// Stats summarizes a finished run. Skipped counts single combinations;
// SkippedDistricts counts districts whose post list could not be read, each
// of which silently drops that district's whole share of the cross-product.
type Stats struct {
	Combinations     int
	Skipped          int
	SkippedDistricts int
	Records          int
	DownloadFailures int
}

// Crawler drives one sequential crawl run. Not safe for concurrent use;
// there is exactly one browser session and one writer.
type Crawler struct {
	logger *zap.Logger
	portal ResultsPortal
	fetch  DirectFetcher
	sink   RecordSink
	opts   Options
}

// New assembles a crawler over the given collaborators.
func New(logger *zap.Logger, p ResultsPortal, fetch DirectFetcher, s RecordSink, opts Options) *Crawler {
	return &Crawler{
		logger: logger.Named("crawler"),
		portal: p,
		fetch:  fetch,
		sink:   s,
		opts:   opts,
	}
}

// Run enumerates every district × post combination in district-major,
// post-minor order. Enumeration failures before the loop starts are fatal;
// everything inside the loop is isolated per combination. Only sink
// persistence errors and context cancellation abort a running loop.
func (c *Crawler) Run(ctx context.Context) (Stats, error) {
	var stats Stats

	districts, err := c.portal.DistrictOptions(ctx)
	if err != nil {
		return stats, fmt.Errorf("failed to enumerate district options: %w", err)
	}
	if len(districts) == 0 {
		return stats, fmt.Errorf("district control holds no selectable options")
	}

	var posts []portal.Option
	if !c.opts.RefreshPosts {
		if posts, err = c.portal.PostOptions(ctx); err != nil {
			return stats, fmt.Errorf("failed to enumerate post options: %w", err)
		}
	}

	c.logger.Info("Starting combination crawl",
		zap.Int("districts", len(districts)),
		zap.Bool("refresh_posts", c.opts.RefreshPosts),
		zap.String("schema", c.opts.Schema.String()),
	)

	for _, district := range districts {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		if err := c.portal.SelectDistrict(ctx, district); err != nil {
			// Submit re-applies the district per combination, so a failed
			// pre-selection only risks a stale post list, not a wrong query.
			c.logger.Warn("District pre-selection failed",
				zap.String("district", district.Label), zap.Error(err))
		}

		districtPosts := posts
		if c.opts.RefreshPosts {
			districtPosts, err = c.portal.PostOptions(ctx)
			if err != nil {
				c.logger.Warn("Failed to re-read post options; skipping entire district",
					zap.String("district", district.Label), zap.Error(err))
				stats.SkippedDistricts++
				continue
			}
		}

		for _, post := range districtPosts {
			if err := ctx.Err(); err != nil {
				return stats, err
			}
			stats.Combinations++
			if err := c.crawlCombination(ctx, district, post, &stats); err != nil {
				return stats, err
			}
		}
	}

	c.logger.Info("Combination crawl finished",
		zap.Int("combinations", stats.Combinations),
		zap.Int("records", stats.Records),
		zap.Int("skipped", stats.Skipped),
		zap.Int("skipped_districts", stats.SkippedDistricts),
		zap.Int("download_failures", stats.DownloadFailures),
	)
	return stats, nil
}

// crawlCombination submits one (district, post) pair and extracts its table.
// Every failure short of sink persistence is absorbed here: logged with
// combination context, counted as a skip, and the enumeration continues.
func (c *Crawler) crawlCombination(ctx context.Context, district, post portal.Option, stats *Stats) error {
	log := c.logger.With(
		zap.String("district", district.Label),
		zap.String("post", post.Label),
	)
	log.Info("Scraping combination")

	if err := c.portal.Submit(ctx, district, post); err != nil {
		if errors.Is(err, portal.ErrTableNotVisible) {
			log.Warn("Results table not visible, skipping combination")
		} else {
			log.Warn("Combination submit failed, skipping", zap.Error(err))
		}
		stats.Skipped++
		return nil
	}

	html, err := c.portal.TableHTML(ctx)
	if err != nil {
		log.Warn("Failed to snapshot results table, skipping combination", zap.Error(err))
		stats.Skipped++
		return nil
	}

	records, err := extract.Rows(html, district.Label, post.Label, c.opts.Schema)
	if err != nil {
		log.Warn("Failed to extract table rows, skipping combination", zap.Error(err))
		stats.Skipped++
		return nil
	}

	for _, rec := range records {
		if err := c.processRecord(ctx, log, rec, stats); err != nil {
			return err
		}
	}
	return nil
}

// processRecord resolves a record's documents and appends the completed row.
// Document loss is non-fatal: the row is written either way, with empty path
// fields for whatever failed. A sink failure is the one error that
// propagates; losing the output file kills the run.
func (c *Crawler) processRecord(ctx context.Context, log *zap.Logger, rec extract.CandidateRecord, stats *Stats) error {
	row := append([]string{rec.District, rec.Post}, rec.Fields...)

	if c.opts.Schema == extract.VariantExtended {
		row = append(row,
			c.fetchDirectDoc(ctx, log, rec, extract.KindPhoto, stats),
			c.fetchDirectDoc(ctx, log, rec, extract.KindAffidavit, stats),
		)
	}

	if err := c.sink.Append(row); err != nil {
		return fmt.Errorf("failed to persist record for %q: %w", rec.Name, err)
	}
	stats.Records++

	// The minimal variant records the PDF URL in the row and captures the
	// file afterwards via the in-page download event; the row is already
	// safe in the sink if the capture fails.
	if c.opts.Schema == extract.VariantMinimal {
		if ref, ok := rec.Doc(extract.KindAffidavit); ok {
			dest := download.LocalPath(c.opts.DownloadDir, rec.Name, ref.Kind, ref.URL, true)
			if err := c.portal.FetchViaClick(ctx, ref.URL, dest); err != nil {
				stats.DownloadFailures++
				log.Warn("PDF download failed",
					zap.String("candidate", rec.Name),
					zap.String("url", ref.URL),
					zap.Error(err))
			}
		}
	}
	return nil
}

// fetchDirectDoc fetches one direct-URL document and returns its local path,
// or the empty string when the link is absent or the fetch failed.
func (c *Crawler) fetchDirectDoc(ctx context.Context, log *zap.Logger, rec extract.CandidateRecord, kind extract.DocumentKind, stats *Stats) string {
	ref, ok := rec.Doc(kind)
	if !ok || ref.URL == "" {
		return ""
	}
	dest := download.LocalPath(c.opts.DownloadDir, rec.Name, kind, ref.URL, false)
	if err := c.fetch.FetchDirect(ctx, ref.URL, dest); err != nil {
		stats.DownloadFailures++
		log.Warn("Document download failed",
			zap.String("candidate", rec.Name),
			zap.String("kind", string(kind)),
			zap.String("url", ref.URL),
			zap.Error(err))
		return ""
	}
	return dest
}
