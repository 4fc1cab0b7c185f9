package library

import (
	"errors"
	"fmt"
)

var (
	ErrNothingSelected = errors.New("nothing selected")
	ErrInvalidFilter   = errors.New("invalid filter")
	ErrUnknownAsset    = errors.New("asset not in collection")
	ErrNoSink          = errors.New("no download sink configured")
	// ErrUnconfirmed marks bulk-delete ids whose outcome the store did
	// not report and a follow-up listing could not settle.
	ErrUnconfirmed = errors.New("delete outcome unconfirmed")
)

// ItemError ties a store failure to the asset it happened on.
type ItemError struct {
	ID  string
	Err error
}

func (e *ItemError) Error() string { return fmt.Sprintf("asset %s: %v", e.ID, e.Err) }
func (e *ItemError) Unwrap() error { return e.Err }
