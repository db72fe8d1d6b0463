package awfel

import (
	"context"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
)

// BulkPipe is the pair of bulk endpoints a transport runs over. Each
// call maps to one USB bulk transfer; partial delivery is reported
// through the byte count, not buffered across calls.
type BulkPipe interface {
	ReadBulk(ctx context.Context, p []byte) (int, error)
	WriteBulk(ctx context.Context, p []byte) (int, error)
}

const (
	// How long the closing envelope of a write may take to arrive.
	// NAND format runs on the device side behind some of these, so
	// this is deliberately generous.
	envelopeTimeout = 60 * time.Second

	// How many stray envelopes we tolerate before declaring the
	// stream out of sync for good.
	maxStrayEnvelopes = 4
)

// transport runs the three-leg bulk transaction framing: AWUC request
// header, payload in the announced direction, then the 13-byte AWUS
// envelope.
type transport struct {
	log  hclog.Logger
	pipe BulkPipe
}

func newTransport(log hclog.Logger, pipe BulkPipe) *transport {
	return &transport{
		log:  log.Named("transport"),
		pipe: pipe,
	}
}

func (t *transport) writeAll(ctx context.Context, p []byte) error {
	n, err := t.pipe.WriteBulk(ctx, p)
	if err != nil {
		return errors.Wrapf(err, "bulk out")
	}

	if n != len(p) {
		return errors.Wrapf(ErrTransportShort, "bulk out wrote %d of %d", n, len(p))
	}

	return nil
}

// readExact fills p from a single bulk-in transfer. A 13 or 8 byte
// transfer arriving where a differently sized payload is expected is
// a stray envelope or status the device emitted out of sequence; it
// is discarded and the read reissued.
func (t *transport) readExact(ctx context.Context, p []byte) error {
	for strays := 0; ; {
		n, err := t.pipe.ReadBulk(ctx, p)
		if err != nil {
			return errors.Wrapf(err, "bulk in")
		}

		if n == len(p) {
			return nil
		}

		if (n == 13 || n == 8) && strays < maxStrayEnvelopes {
			strays++
			strayEnvelopes.Inc()
			t.log.Debug("discarding stray transfer", "len", n, "expected", len(p))
			continue
		}

		return errors.Wrapf(ErrTransportShort, "bulk in returned %d of %d", n, len(p))
	}
}

// readEnvelope consumes and validates the 13-byte AWUS record that
// closes a bulk transaction. Envelopes that follow a write leg get
// the long timeout; the device may be formatting NAND before it
// answers. Everything else keeps the caller's deadline.
func (t *transport) readEnvelope(ctx context.Context, slow bool) error {
	if slow {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, envelopeTimeout)
		defer cancel()
	}

	var buf [13]byte

	n, err := t.pipe.ReadBulk(ctx, buf[:])
	if err != nil {
		return errors.Wrapf(err, "reading envelope")
	}

	if n != len(buf) {
		return errors.Wrapf(ErrTransportShort, "envelope was %d bytes", n)
	}

	_, err = decodeUSBResponse(buf[:])
	return err
}

// Send runs a write-shape transaction: announce |p| outbound bytes,
// send them, consume the envelope.
func (t *transport) Send(ctx context.Context, p []byte) error {
	err := t.writeAll(ctx, newUSBRequest(usbWrite, uint32(len(p))).encode())
	if err != nil {
		return err
	}

	err = t.writeAll(ctx, p)
	if err != nil {
		return err
	}

	return t.readEnvelope(ctx, true)
}

// Recv runs a read-shape transaction: announce |p| inbound bytes,
// fill p, consume the envelope.
func (t *transport) Recv(ctx context.Context, p []byte) error {
	err := t.writeAll(ctx, newUSBRequest(usbRead, uint32(len(p))).encode())
	if err != nil {
		return err
	}

	err = t.readExact(ctx, p)
	if err != nil {
		return err
	}

	return t.readEnvelope(ctx, false)
}

// Status fetches and checks the 8-byte record that closes a logical
// command. cmd only labels the error.
func (t *transport) Status(ctx context.Context, cmd uint16) (AWFELStatusResponse, error) {
	var buf [8]byte

	err := t.Recv(ctx, buf[:])
	if err != nil {
		return AWFELStatusResponse{}, err
	}

	st, err := decodeStatus(buf[:])
	if err != nil {
		return st, err
	}

	if st.State != 0 {
		commandFailures.Inc()
		return st, &CommandError{Cmd: cmd, State: st.State}
	}

	return st, nil
}
