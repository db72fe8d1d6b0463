package awfel

import (
	"context"
	"io"

	"github.com/hashicorp/go-hclog"
	"github.com/oklog/ulid/v2"
	"github.com/pkg/errors"
)

// Session is a per-device protocol client. It exclusively owns the
// USB handle pair for its lifetime and serializes every logical
// command on the wire; a Session must not be shared across
// goroutines.
type Session struct {
	ID ulid.ULID

	log hclog.Logger
	tr  *transport
	rep Reporter

	closer io.Closer
}

// Open finds a FEL device, claims interface 0 and wires a Session
// over its bulk endpoint pair. The returned Session must be closed;
// Close releases the interface and the device handle on every path.
func Open(log hclog.Logger, options ...Option) (*Session, error) {
	o := opts{
		vendor:  VendorID,
		product: ProductID,
	}

	for _, f := range options {
		f(&o)
	}

	dev, err := openUSB(o.vendor, o.product, o.devIndex)
	if err != nil {
		return nil, err
	}

	sess := NewSession(log, dev, options...)
	sess.closer = dev

	sess.log.Debug("session opened",
		"session", sess.ID.String(),
		"vendor", uint16(o.vendor),
		"product", uint16(o.product),
		"index", o.devIndex,
	)

	return sess, nil
}

// NewSession builds a Session over an existing bulk pipe. Tests hand
// in a simulated device here; Open hands in real endpoints.
func NewSession(log hclog.Logger, pipe BulkPipe, options ...Option) *Session {
	o := opts{}

	for _, f := range options {
		f(&o)
	}

	rep := o.reporter
	if rep == nil {
		rep = discardReporter{}
	}

	return &Session{
		ID:  ulid.MustNew(ulid.Now(), ulid.DefaultEntropy()),
		log: log,
		tr:  newTransport(log, pipe),
		rep: rep,
	}
}

// Close releases the claimed interface and closes the device handle.
// Safe to call more than once. Closing while a command is in flight
// fails that command, which is the only way to cancel a pending bulk
// transfer mid-operation.
func (s *Session) Close() error {
	if s.closer == nil {
		return nil
	}

	c := s.closer
	s.closer = nil

	err := c.Close()
	if err != nil {
		return errors.Wrapf(err, "closing device")
	}

	s.log.Debug("session closed", "session", s.ID.String())

	return nil
}

func (s *Session) report(op string, done, total int64) {
	s.rep.Progress(op, done, total)
}

// sendMessage pushes an encoded inner command record to the device
// through a write-shape transaction.
func (s *Session) sendMessage(ctx context.Context, rec []byte) error {
	commandsIssued.Inc()
	return s.tr.Send(ctx, rec)
}
