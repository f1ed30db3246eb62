// Package pagination walks page-numbered MTM listings to completion.
//
// MTM list endpoints report the collection size in a "total" field and
// return one bounded page per request. The Fetcher requests page 1, 2, ...
// strictly in order, merges each page's keys into an insertion-ordered set
// and stops once the number of distinct keys reaches the reported total.
//
// Example usage:
//
//	fetcher := pagination.NewFetcher(pagination.DefaultConfig())
//	ids, err := fetcher.FetchAll(ctx, "account_users", api.AccountUserIDs(accountID))
//
// A listing whose total can never be reached (duplicates across pages, rows
// deleted mid-walk) is stopped by Config.MaxPages and reported as
// ErrPageLimitExceeded; an empty page below the total is reported as
// ErrShortListing.
package pagination
