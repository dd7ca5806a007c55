package linera

import (
	"errors"
	"fmt"

	"github.com/vektah/gqlparser/v2/gqlerror"

	"github.com/stormcast/stormcast-backend/internal/markets"
)

// ErrNotConfigured is returned by every call when no application id is set.
var ErrNotConfigured = fmt.Errorf("%w: ledger application not configured", markets.ErrServiceUnreachable)

// RemoteError is a GraphQL error answered by the ledger. Error returns the
// ledger's first message unchanged so it can be shown to the user as is.
type RemoteError struct {
	Op      string
	Message string
	Errors  gqlerror.List
}

func (e *RemoteError) Error() string {
	return e.Message
}

// classify turns transport failures into ErrServiceUnreachable and GraphQL
// error lists into *RemoteError.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var list gqlerror.List
	if errors.As(err, &list) && len(list) > 0 {
		return &RemoteError{Op: op, Message: list[0].Message, Errors: list}
	}
	var remote *RemoteError
	if errors.As(err, &remote) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", markets.ErrServiceUnreachable, op, err)
}

// IsRemote reports whether err was answered by the ledger rather than caused
// by transport.
func IsRemote(err error) bool {
	var remote *RemoteError
	return errors.As(err, &remote)
}
