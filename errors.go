package awfel

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrTransportShort means a bulk transfer moved fewer bytes than
	// requested; for a payload bulk-in, resynchronization did not
	// recover.
	ErrTransportShort = errors.New("bulk transfer shorter than requested")

	// ErrBadEnvelope means the closing AWUS envelope was malformed or
	// carried a non-zero CSW status.
	ErrBadEnvelope = errors.New("bad transport envelope")

	// ErrBadArgument marks caller mistakes caught before anything is
	// put on the wire.
	ErrBadArgument = errors.New("bad argument")
)

func badArgumentf(format string, args ...interface{}) error {
	return errors.Wrapf(ErrBadArgument, format, args...)
}

// CommandError reports a logical command whose closing status record
// carried a non-zero state.
type CommandError struct {
	Cmd   uint16
	State uint8
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command 0x%03x failed: state=%d", e.Cmd, e.State)
}

// VerifyError reports a verify-status round whose CRC was non-zero.
// LastError carries the device's last-error value from the same reply.
type VerifyError struct {
	CRC       uint32
	LastError int32
}

func (e *VerifyError) Error() string {
	return fmt.Sprintf("verification failed: crc=0x%08x last-error=%d", e.CRC, e.LastError)
}

// TransferError wraps a failure inside a multi-chunk operation and
// records how many bytes made it across before the wire broke.
type TransferError struct {
	Op   string
	Done int64
	Err  error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("%s aborted after %d bytes: %s", e.Op, e.Done, e.Err)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

func transferErr(op string, done int64, err error) error {
	if err == nil {
		return nil
	}

	return &TransferError{Op: op, Done: done, Err: err}
}
