package rollback

import (
	"fmt"

	"github.com/byebyebruce/rollbackserver/pkg/sim"

	"github.com/pkg/errors"
)

var (
	// ErrStaleInput input or validation for an already superseded frame, discard silently
	ErrStaleInput = errors.New("stale input")
	// ErrDesyncDetected local state or echoed input disagrees with the authority, recoverable
	ErrDesyncDetected = errors.New("desync detected")
	// ErrUnrecoverableDesync frame fell outside the history window, a full resync is required
	ErrUnrecoverableDesync = errors.New("unrecoverable desync")
)

// DesyncError 校验不一致
type DesyncError struct {
	Frame  sim.Frame
	Local  sim.Digest
	Remote sim.Digest
}

func (e *DesyncError) Error() string {
	return fmt.Sprintf("%v: frame %d local %s remote %s", ErrDesyncDetected, e.Frame, e.Local, e.Remote)
}

// Cause lets errors.Cause classify it as ErrDesyncDetected.
func (e *DesyncError) Cause() error {
	return ErrDesyncDetected
}

func (e *DesyncError) Unwrap() error {
	return ErrDesyncDetected
}
