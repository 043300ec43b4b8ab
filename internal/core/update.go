package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kilupskalvis/apkdb/internal/apkerr"
	"github.com/kilupskalvis/apkdb/internal/fetch"
	"github.com/kilupskalvis/apkdb/internal/models"
	"github.com/kilupskalvis/apkdb/internal/store"
	"github.com/kilupskalvis/apkdb/internal/trust"
	"golang.org/x/sync/errgroup"
)

// fetchResult is the raw outcome of fetching one repository index.
type fetchResult struct {
	i    int
	data []byte
	err  error
}

// Update refreshes the index of every enabled repository. Indexes are fetched
// concurrently and applied in repository order as soon as every earlier
// repository is done; a failing repository never stops the others. Progress
// goes from 0/N to N/N, one step per applied repository. Cancellation is
// checked before each fetch starts; a fetch already running completes. An
// error is returned only when every repository failed.
func (d *Database) Update(ctx context.Context, flags models.UpdateFlags) (*models.RefreshReport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.writable(); err != nil {
		return nil, err
	}

	repos := d.repos.Enabled()
	total := uint64(len(repos))
	report := &models.RefreshReport{Repos: make([]models.RepoResult, len(repos))}
	d.report(0, total)

	verify := flags&models.UpdateAllowUntrusted == 0
	fctx := context.WithoutCancel(ctx)
	if !verify {
		fctx = trust.AllowUntrusted(fctx)
	}

	done := make(chan fetchResult, len(repos))
	go func() {
		var g errgroup.Group
		g.SetLimit(d.cfg.Fetch.Concurrency)
		for i, repo := range repos {
			url := fetch.IndexURL(repo.URL, d.cfg.Arch)
			g.Go(func() error {
				if err := ctx.Err(); err != nil {
					done <- fetchResult{i: i, err: err}
					return nil
				}
				data, err := d.fetchIndex(fctx, url, verify)
				done <- fetchResult{i: i, data: data, err: err}
				return nil
			})
		}
		g.Wait()
	}()

	results := make([]*fetchResult, len(repos))
	next := 0
	for range repos {
		res := <-done
		results[res.i] = &res
		for next < len(repos) && results[next] != nil {
			slot := models.FirstConfiguredRepo + next
			report.Repos[next] = d.applyIndex(slot, repos[next], *results[next])
			switch report.Repos[next].Status {
			case models.RepoUpdated:
				report.Updated++
			case models.RepoUpToDate:
				report.UpToDate++
			case models.RepoFailed:
				report.Errors++
			}
			next++
			d.report(uint64(next), total)
		}
	}
	report.Available = d.idx.Count()

	d.logger.Info("index refresh complete",
		"repositories", len(repos),
		"updated", report.Updated,
		"up_to_date", report.UpToDate,
		"errors", report.Errors,
		"available", report.Available,
	)

	if len(repos) > 0 && report.Errors == len(repos) {
		return report, &apkerr.RefreshError{Report: report}
	}
	if err := ctx.Err(); err != nil {
		return report, err
	}
	return report, nil
}

// fetchIndex fetches url, retrying once without the entity tag when the
// server reports the index unchanged but nothing is cached for it.
func (d *Database) fetchIndex(ctx context.Context, url string, verify bool) ([]byte, error) {
	data, err := d.fetcher.FetchIndex(ctx, url, verify)
	if !errors.Is(err, fetch.ErrNotModified) || d.st == nil {
		return data, err
	}
	cached, cerr := d.st.GetIndex(d.repoOfIndexURL(url))
	if cerr != nil || cached != nil {
		return data, err
	}
	if err := d.st.SetETag(url, ""); err != nil {
		return nil, err
	}
	return d.fetcher.FetchIndex(ctx, url, verify)
}

func (d *Database) repoOfIndexURL(url string) string {
	for _, r := range d.repos.Enabled() {
		if fetch.IndexURL(r.URL, d.cfg.Arch) == url {
			return r.URL
		}
	}
	return ""
}

// applyIndex replaces the slot of repo with the fetched index.
func (d *Database) applyIndex(slot int, repo models.Repository, res fetchResult) models.RepoResult {
	out := models.RepoResult{URL: repo.URL, Tag: repo.Tag}
	url := fetch.IndexURL(repo.URL, d.cfg.Arch)

	if errors.Is(res.err, fetch.ErrNotModified) {
		out.Status = models.RepoUpToDate
		if s := d.idx.Slot(slot); s != nil {
			out.Packages = len(s.Packages)
		}
		d.logger.Debug("repository up to date", "repo", repo.URL)
		return out
	}

	err := res.err
	var idx *fetch.Index
	if err == nil {
		idx, err = fetch.ParseIndex(res.data)
		if err != nil {
			err = fmt.Errorf("parse index: %v: %w", err, trust.ErrBadArchive)
		}
	}
	if err != nil {
		out.Status = models.RepoFailed
		out.Err = classifyFetch(url, err)
		out.Reason = out.Err.Error()
		d.logger.Warn("repository refresh failed", "repo", repo.URL, "error", out.Err)
		return out
	}

	d.idx.SetSlot(slot, repo.URL, repo.Tag, idx.Description, idx.Packages)
	if err := d.st.SaveIndex(&store.CachedIndex{
		URL:         repo.URL,
		Description: idx.Description,
		Packages:    idx.Packages,
		FetchedAt:   time.Now().UTC(),
	}); err != nil {
		d.logger.Warn("failed to cache index", "repo", repo.URL, "error", err)
	}

	out.Status = models.RepoUpdated
	out.Packages = len(idx.Packages)
	d.logger.Info("repository updated", "repo", repo.URL, "description", idx.Description, "packages", out.Packages)
	return out
}

// classifyFetch wraps a fetch failure into the error type callers inspect:
// a TrustError for verification problems, a FetchError otherwise.
func classifyFetch(url string, err error) error {
	switch {
	case errors.Is(err, trust.ErrUntrusted),
		errors.Is(err, trust.ErrBadSignature),
		errors.Is(err, trust.ErrBadArchive),
		errors.Is(err, trust.ErrNoMetadata):
		return apkerr.NewTrustError(url, err)
	}
	return apkerr.NewFetchError(url, err)
}

func (d *Database) report(done, total uint64) {
	if d.progress != nil {
		d.progress(models.Progress{Done: done, Total: total})
	}
}
