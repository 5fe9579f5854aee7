package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/congo-pay/walletledger/internal/events"
	"github.com/congo-pay/walletledger/internal/ledger"
	"github.com/congo-pay/walletledger/internal/wallet"
)

const (
	defaultWalletPage  = 200
	defaultEntryPage   = 500
	defaultConcurrency = 4
)

// Report summarizes one reconciliation run.
type Report struct {
	Checked int      `json:"checked"`
	Pending int      `json:"pending"`
	Drifted []Result `json:"drifted"`
}

// Job verifies every wallet. It only reads; repairing drift is left to an
// operator.
type Job struct {
	wallets     wallet.Store
	entries     ledger.Store
	publisher   events.Publisher
	logger      *slog.Logger
	concurrency int
	now         func() time.Time
}

// NewJob builds a job. publisher may be nil.
func NewJob(wallets wallet.Store, entries ledger.Store, publisher events.Publisher, logger *slog.Logger, concurrency int) *Job {
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	return &Job{
		wallets:     wallets,
		entries:     entries,
		publisher:   publisher,
		logger:      logger,
		concurrency: concurrency,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Run pages through all wallets and verifies each one. Wallets with a
// pending entry are mid-commit and are counted but not judged.
func (j *Job) Run(ctx context.Context) (Report, error) {
	var (
		mu     sync.Mutex
		report Report
		after  string
	)
	started := j.now()

	for {
		page, err := j.wallets.List(ctx, after, defaultWalletPage)
		if err != nil {
			return report, fmt.Errorf("list wallets: %w", err)
		}
		if len(page) == 0 {
			break
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(j.concurrency)
		for _, w := range page {
			g.Go(func() error {
				if w.Pending != nil {
					mu.Lock()
					report.Pending++
					mu.Unlock()
					return nil
				}
				res, err := j.Check(gctx, w)
				if err != nil {
					return err
				}
				mu.Lock()
				report.Checked++
				if !res.Consistent() {
					report.Drifted = append(report.Drifted, res)
				}
				mu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return report, err
		}
		after = page[len(page)-1].ID
	}

	j.logger.Info("reconciliation finished",
		slog.Int("checked", report.Checked),
		slog.Int("pending", report.Pending),
		slog.Int("drifted", len(report.Drifted)),
		slog.Duration("took", j.now().Sub(started)),
	)
	return report, nil
}

// Check verifies one wallet snapshot and reports drift. Entries newer than
// the snapshot's version are ignored.
func (j *Job) Check(ctx context.Context, w wallet.Wallet) (Result, error) {
	var all []ledger.Entry
	page := ledger.Page{Order: ledger.OldestFirst, Limit: defaultEntryPage}
	for {
		entries, err := j.entries.ListByWallet(ctx, w.ID, page)
		if err != nil {
			return Result{}, fmt.Errorf("list entries of wallet %s: %w", w.ID, err)
		}
		if len(entries) == 0 {
			break
		}
		for _, e := range entries {
			if e.Sequence > w.Version {
				// committed after the snapshot was read
				break
			}
			all = append(all, e)
		}
		last := entries[len(entries)-1].Sequence
		if len(entries) < page.Limit || last >= w.Version {
			break
		}
		page.After = last
	}

	res := Verify(w.ID, w.Balance, all)
	if res.Consistent() {
		return res, nil
	}

	j.logger.Error("balance drift detected",
		slog.String("wallet_id", w.ID),
		slog.Int64("expected", res.Expected),
		slog.Int64("actual", res.Actual),
		slog.Int64("broken_at", res.BrokenAt),
	)
	if j.publisher != nil {
		err := j.publisher.Publish(ctx, events.Event{
			Kind:     events.KindBalanceDrift,
			WalletID: w.ID,
			Balance:  res.Actual,
			Expected: res.Expected,
			Detail:   fmt.Sprintf("broken at sequence %d", res.BrokenAt),
			At:       j.now(),
		})
		if err != nil {
			j.logger.Warn("publish drift event", slog.String("wallet_id", w.ID), slog.Any("error", err))
		}
	}
	return res, nil
}
