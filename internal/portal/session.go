// File: internal/portal/session.go
package portal

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/sec-bihar/candidate-crawler/internal/config"
)

// Session is a live, exclusively owned browser tab pointed at the results
// portal. It is not safe for concurrent use; the crawl is strictly
// sequential by design.
type Session struct {
	logger *zap.Logger
	cfg    config.PortalConfig

	// tabCtx is the chromedp tab context every CDP command runs against.
	tabCtx    context.Context
	cancelTab context.CancelFunc

	navigationTimeout time.Duration

	// stagingDir receives browser-managed downloads under their CDP GUID
	// before they are renamed to their final destination.
	stagingDir string

	mu           sync.Mutex
	pendingByURL map[string]chan downloadOutcome
	urlByGUID    map[string]string
}

type downloadOutcome struct {
	guid      string
	completed bool
}

// NewSession wraps a fresh tab context in a portal session and wires the
// download event plumbing. Close must be called to release the tab.
// downloadDir is where finished documents land; the staging dir is created
// inside it so the final move never crosses filesystems.
func NewSession(tabCtx context.Context, cancel context.CancelFunc, logger *zap.Logger, cfg config.PortalConfig, navigationTimeout time.Duration, downloadDir string) (*Session, error) {
	stagingDir, err := stagingDirFor(downloadDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create download staging dir: %w", err)
	}

	s := &Session{
		logger:            logger.Named("portal"),
		cfg:               cfg,
		tabCtx:            tabCtx,
		cancelTab:         cancel,
		navigationTimeout: navigationTimeout,
		stagingDir:        stagingDir,
		pendingByURL:      make(map[string]chan downloadOutcome),
		urlByGUID:         make(map[string]string),
	}

	chromedp.ListenTarget(tabCtx, s.onDownloadEvent)

	// Route downloads into the staging dir, named by GUID, with events on so
	// click-triggered downloads can be correlated and awaited.
	if err := chromedp.Run(tabCtx,
		browser.SetDownloadBehavior(browser.SetDownloadBehaviorBehaviorAllowAndName).
			WithDownloadPath(stagingDir).
			WithEventsEnabled(true),
	); err != nil {
		os.RemoveAll(stagingDir)
		return nil, fmt.Errorf("failed to configure download behavior: %w", err)
	}

	return s, nil
}

// Close releases the tab and the download staging directory. Safe to call on
// both the success and the fatal path.
func (s *Session) Close() {
	if s.cancelTab != nil {
		s.cancelTab()
	}
	if s.stagingDir != "" {
		if err := os.RemoveAll(s.stagingDir); err != nil {
			s.logger.Warn("Failed to remove download staging dir", zap.String("dir", s.stagingDir), zap.Error(err))
		}
	}
}

// Open performs the fixed navigation sequence: landing page, menu expansion,
// deep link to the results page, then waits for the district control to be
// populated. Every read of dropdown options is gated behind that last wait.
func (s *Session) Open(ctx context.Context) error {
	s.logger.Info("Navigating to landing page", zap.String("url", s.cfg.BaseURL))
	if err := s.run(s.navigationTimeout,
		chromedp.Navigate(s.cfg.BaseURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		return &NavigationError{Stage: "landing page", Err: err}
	}

	// The menu expansion is idempotent: if the menu is already expanded or
	// the toggle is not clickable in this session state, the deep link below
	// still works. A click failure here is logged, never fatal.
	if err := s.run(s.cfg.SettleTimeout,
		chromedp.Click(s.cfg.MenuToggleXPath, chromedp.BySearch),
	); err != nil {
		s.logger.Warn("Menu toggle click failed; continuing to deep link", zap.Error(err))
	}

	s.logger.Info("Navigating to results page", zap.String("url", s.cfg.ResultsURL))
	if err := s.run(s.navigationTimeout,
		chromedp.Navigate(s.cfg.ResultsURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		return &NavigationError{Stage: "results page", Err: err}
	}

	// Interactive means the district dropdown holds more than the
	// placeholder. This replaces the fixed settling sleeps with a visible,
	// bounded condition.
	if err := s.waitOptionsPopulated(ctx, s.cfg.DistrictSelector); err != nil {
		return &NavigationError{Stage: "district control", Err: err}
	}
	return nil
}

// DistrictOptions enumerates the district dropdown, excluding the
// placeholder.
func (s *Session) DistrictOptions(ctx context.Context) ([]Option, error) {
	return s.options(ctx, s.cfg.DistrictSelector)
}

// PostOptions enumerates the post dropdown, excluding the placeholder.
func (s *Session) PostOptions(ctx context.Context) ([]Option, error) {
	return s.options(ctx, s.cfg.PostSelector)
}

func (s *Session) options(ctx context.Context, selector string) ([]Option, error) {
	if err := s.waitOptionsPopulated(ctx, selector); err != nil {
		return nil, fmt.Errorf("options never populated for %s: %w", selector, err)
	}

	js := fmt.Sprintf(
		`Array.from(document.querySelectorAll(%q)).map(o => ({value: o.value, label: o.textContent.trim()}))`,
		selector+" option",
	)
	var raw []Option
	if err := s.run(s.cfg.SettleTimeout, chromedp.Evaluate(js, &raw)); err != nil {
		return nil, fmt.Errorf("failed to enumerate options for %s: %w", selector, err)
	}
	return DropPlaceholder(raw), nil
}

// SelectDistrict applies a district selection and waits for the post control
// to settle, since the selection triggers a server round trip that can
// refresh the post list.
func (s *Session) SelectDistrict(ctx context.Context, district Option) error {
	if err := s.setSelect(s.cfg.DistrictSelector, district.Value); err != nil {
		return fmt.Errorf("failed to select district %q: %w", district.Label, err)
	}
	return s.waitOptionsPopulated(ctx, s.cfg.PostSelector)
}

// Submit applies both selections, triggers the query, and waits for the
// results table to become visible. Returns ErrTableNotVisible if the table
// never shows up within the bounded wait.
func (s *Session) Submit(ctx context.Context, district, post Option) error {
	if err := s.setSelect(s.cfg.DistrictSelector, district.Value); err != nil {
		return fmt.Errorf("failed to set district control: %w", err)
	}
	if err := s.waitOptionsPopulated(ctx, s.cfg.PostSelector); err != nil {
		return fmt.Errorf("post control never settled: %w", err)
	}
	if err := s.setSelect(s.cfg.PostSelector, post.Value); err != nil {
		return fmt.Errorf("failed to set post control: %w", err)
	}
	// Drop any table still rendered from the previous combination. Without
	// this, the visibility wait below could be satisfied by stale rows and
	// attribute them to the wrong (district, post) pair.
	if err := s.run(s.cfg.SettleTimeout, chromedp.Evaluate(fmt.Sprintf(
		`document.querySelectorAll(%q).forEach(t => t.remove())`, s.cfg.TableSelector,
	), nil)); err != nil {
		return fmt.Errorf("failed to clear previous results table: %w", err)
	}

	if err := s.run(s.cfg.SettleTimeout, chromedp.Click(s.cfg.SubmitSelector, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("failed to click submit control: %w", err)
	}

	visible, err := s.pollTableVisible(ctx)
	if err != nil {
		return err
	}
	if !visible {
		return ErrTableNotVisible
	}
	return nil
}

// TableHTML snapshots the current results table as HTML. Extraction happens
// out of the browser, against this snapshot.
func (s *Session) TableHTML(ctx context.Context) (string, error) {
	var html string
	if err := s.run(s.cfg.SettleTimeout,
		chromedp.OuterHTML(s.cfg.TableSelector, &html, chromedp.ByQuery),
	); err != nil {
		return "", fmt.Errorf("failed to snapshot results table: %w", err)
	}
	return html, nil
}

// FetchViaClick clicks the in-page link for url, waits for the browser's
// correlated download event, and moves the finished file to dest. Times out
// with ErrDownloadTimeout if no event arrives; the partial staging file, if
// any, is left for Close to sweep.
func (s *Session) FetchViaClick(ctx context.Context, url, dest string) error {
	done := s.registerPending(url)
	defer s.unregisterPending(url)

	if err := s.run(s.cfg.SettleTimeout,
		chromedp.Click(fmt.Sprintf(`a[href=%q]`, url), chromedp.ByQuery),
	); err != nil {
		return fmt.Errorf("failed to click download link: %w", err)
	}

	select {
	case outcome := <-done:
		if !outcome.completed {
			return fmt.Errorf("browser canceled download of %s", url)
		}
		if err := s.finishDownload(outcome.guid, dest); err != nil {
			return fmt.Errorf("failed to move download into place: %w", err)
		}
		return nil
	case <-time.After(s.cfg.DownloadTimeout):
		return ErrDownloadTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// onDownloadEvent correlates CDP download lifecycle events with pending
// click-triggered fetches, first by URL (will-begin) and then by GUID
// (progress).
func (s *Session) onDownloadEvent(ev interface{}) {
	switch e := ev.(type) {
	case *browser.EventDownloadWillBegin:
		s.mu.Lock()
		if _, ok := s.pendingByURL[e.URL]; ok {
			s.urlByGUID[e.GUID] = e.URL
		}
		s.mu.Unlock()
	case *browser.EventDownloadProgress:
		if e.State != browser.DownloadProgressStateCompleted && e.State != browser.DownloadProgressStateCanceled {
			return
		}
		s.mu.Lock()
		url, ok := s.urlByGUID[e.GUID]
		if ok {
			delete(s.urlByGUID, e.GUID)
		}
		done := s.pendingByURL[url]
		s.mu.Unlock()
		if !ok || done == nil {
			return
		}
		select {
		case done <- downloadOutcome{guid: e.GUID, completed: e.State == browser.DownloadProgressStateCompleted}:
		default:
		}
	}
}

// stagingDirFor creates the download staging directory inside downloadDir,
// keeping staging and destination on the same filesystem. An empty
// downloadDir falls back to the system temp dir.
func stagingDirFor(downloadDir string) (string, error) {
	if downloadDir == "" {
		return os.MkdirTemp("", "seccrawl-dl-*")
	}
	return os.MkdirTemp(downloadDir, ".staging-*")
}

// finishDownload moves a completed staging file to its destination. Rename
// is the common path; if it fails (a cross-device staging dir, for one) the
// file is copied and the staging copy removed.
func (s *Session) finishDownload(guid, dest string) error {
	src := filepath.Join(s.stagingDir, guid)
	if err := os.Rename(src, dest); err == nil {
		return nil
	}
	if err := copyFile(src, dest); err != nil {
		return err
	}
	return os.Remove(src)
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func (s *Session) registerPending(url string) chan downloadOutcome {
	done := make(chan downloadOutcome, 1)
	s.mu.Lock()
	s.pendingByURL[url] = done
	s.mu.Unlock()
	return done
}

func (s *Session) unregisterPending(url string) {
	s.mu.Lock()
	delete(s.pendingByURL, url)
	s.mu.Unlock()
}

// setSelect writes a value into a select control and fires a bubbling change
// event, which the portal's postback machinery listens for.
func (s *Session) setSelect(selector, value string) error {
	return s.run(s.cfg.SettleTimeout,
		chromedp.SetValue(selector, value, chromedp.ByQuery),
		chromedp.Evaluate(fmt.Sprintf(
			`document.querySelector(%q).dispatchEvent(new Event("change", {bubbles: true}))`,
			selector,
		), nil),
	)
}

// waitOptionsPopulated polls until the select holds more than the placeholder
// entry, bounded by the settle timeout.
func (s *Session) waitOptionsPopulated(ctx context.Context, selector string) error {
	js := fmt.Sprintf(`document.querySelectorAll(%q).length`, selector+" option")
	return s.pollUntil(ctx, s.cfg.SettleTimeout, func() (bool, error) {
		var count int
		if err := s.run(s.cfg.SettleTimeout, chromedp.Evaluate(js, &count)); err != nil {
			return false, err
		}
		return count > 1, nil
	})
}

// pollTableVisible polls the results table for visibility, bounded by the
// table timeout. Returns (false, nil) on a clean timeout.
func (s *Session) pollTableVisible(ctx context.Context) (bool, error) {
	js := fmt.Sprintf(
		`(() => { const t = document.querySelector(%q); return !!t && t.offsetParent !== null; })()`,
		s.cfg.TableSelector,
	)
	err := s.pollUntil(ctx, s.cfg.TableTimeout, func() (bool, error) {
		var visible bool
		if err := s.run(s.cfg.TableTimeout, chromedp.Evaluate(js, &visible)); err != nil {
			return false, err
		}
		return visible, nil
	})
	switch err {
	case nil:
		return true, nil
	case errPollTimeout:
		return false, nil
	default:
		return false, err
	}
}

var errPollTimeout = fmt.Errorf("condition not met before timeout")

// pollUntil runs cond at the configured interval until it reports true, the
// timeout elapses, or the caller context is canceled. Condition errors are
// tolerated until the deadline; the page may simply not be ready yet.
func (s *Session) pollUntil(ctx context.Context, timeout time.Duration, cond func() (bool, error)) error {
	interval := s.cfg.PollInterval
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastErr error
	for {
		ok, err := cond()
		if err == nil && ok {
			return nil
		}
		lastErr = err
		if time.Now().After(deadline) {
			if lastErr != nil {
				return lastErr
			}
			return errPollTimeout
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// run executes chromedp actions against the tab with a bounded deadline.
func (s *Session) run(timeout time.Duration, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithTimeout(s.tabCtx, timeout)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}
