package outbound

import (
	"fmt"

	"github.com/pkg/errors"
)

var ErrEmptyMessage = errors.New("message is empty")

// DispatchError reports a submission the remote end did not accept. Status is
// the HTTP status when one was received, zero for transport failures.
type DispatchError struct {
	Target string
	Status int
	Err    error
}

func (e *DispatchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("dispatch to %s: status %d", e.Target, e.Status)
	}
	return fmt.Sprintf("dispatch to %s: %v", e.Target, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }
