package catalog

import "errors"

var (
	// ErrListingFetch aborts a whole run.
	ErrListingFetch = errors.New("listing fetch failed")
	// ErrDetailFetch is contained to a single listing.
	ErrDetailFetch = errors.New("detail fetch failed")

	ErrResourceInit     = errors.New("browser session start failed")
	ErrResourceTeardown = errors.New("browser session close failed")
)
