package engine

import (
	"context"
	"fmt"
	"iter"

	"github.com/congo-pay/walletledger/internal/ledger"
)

func (q HistoryQuery) page() ledger.Page {
	size := q.PageSize
	switch {
	case size <= 0:
		size = DefaultPageSize
	case size > MaxPageSize:
		size = MaxPageSize
	}
	return ledger.Page{After: q.After, Limit: size, Order: q.Order, From: q.From, To: q.To}
}

// HistoryPage returns one page of a wallet's entries.
func (e *Engine) HistoryPage(ctx context.Context, walletID string, q HistoryQuery) (HistoryPage, error) {
	if _, err := e.wallets.Get(ctx, walletID); err != nil {
		return HistoryPage{}, translate(err)
	}
	if !q.From.IsZero() && !q.To.IsZero() && q.To.Before(q.From) {
		return HistoryPage{}, fmt.Errorf("%w: history window ends before it starts", ErrInvalidArgument)
	}
	page := q.page()
	entries, err := e.entries.ListByWallet(ctx, walletID, page)
	if err != nil {
		return HistoryPage{}, translateLedger(err)
	}
	out := HistoryPage{Entries: entries}
	if len(entries) == page.Limit {
		out.NextCursor = entries[len(entries)-1].Sequence
	}
	return out, nil
}

// History iterates a wallet's entries page by page. Each range starts over
// from q, so the sequence can be consumed any number of times. Iteration
// stops at the first error, which is yielded with a zero entry.
func (e *Engine) History(ctx context.Context, walletID string, q HistoryQuery) iter.Seq2[ledger.Entry, error] {
	return func(yield func(ledger.Entry, error) bool) {
		cursor := q
		for {
			if err := ctx.Err(); err != nil {
				yield(ledger.Entry{}, err)
				return
			}
			page, err := e.HistoryPage(ctx, walletID, cursor)
			if err != nil {
				yield(ledger.Entry{}, err)
				return
			}
			for _, entry := range page.Entries {
				if !yield(entry, nil) {
					return
				}
			}
			if page.NextCursor == 0 {
				return
			}
			cursor.After = page.NextCursor
		}
	}
}
