package awfel

import (
	"context"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/require"
)

// scriptPipe serves a fixed sequence of bulk-in transfers and records
// every bulk-out. Each queued slice is one transfer, which is what
// lets short and stray transfers be expressed.
type scriptPipe struct {
	reads  [][]byte
	writes [][]byte

	shortWrite bool
}

func (p *scriptPipe) ReadBulk(ctx context.Context, b []byte) (int, error) {
	if len(p.reads) == 0 {
		return 0, context.DeadlineExceeded
	}

	r := p.reads[0]
	p.reads = p.reads[1:]

	return copy(b, r), nil
}

func (p *scriptPipe) WriteBulk(ctx context.Context, b []byte) (int, error) {
	cp := make([]byte, len(b))
	copy(cp, b)
	p.writes = append(p.writes, cp)

	if p.shortWrite {
		return len(b) - 1, nil
	}

	return len(b), nil
}

func cleanEnvelope() []byte {
	return encodeRecord(AWUSBResponse{Magic: awusMagic})
}

func statusBytes(state uint8) []byte {
	return encodeRecord(AWFELStatusResponse{Mark: statusMark, State: state})
}

func TestTransport(t *testing.T) {
	log := hclog.New(&hclog.LoggerOptions{
		Name:  "transport",
		Level: hclog.Trace,
	})

	ctx := context.Background()

	t.Run("send frames a write transaction", func(t *testing.T) {
		r := require.New(t)

		pipe := &scriptPipe{reads: [][]byte{cleanEnvelope()}}
		tr := newTransport(log, pipe)

		payload := []byte{1, 2, 3, 4}

		r.NoError(tr.Send(ctx, payload))
		r.Len(pipe.writes, 2)

		var req AWUSBRequest
		r.NoError(decodeRecord(pipe.writes[0], &req))

		r.Equal(awucMagic, req.Magic)
		r.Equal(usbWrite, req.Cmd)
		r.Equal(uint32(4), req.Len)
		r.Equal(req.Len, req.Len2)

		r.Equal(payload, pipe.writes[1])
	})

	t.Run("recv frames a read transaction", func(t *testing.T) {
		r := require.New(t)

		pipe := &scriptPipe{reads: [][]byte{
			{0xaa, 0xbb, 0xcc},
			cleanEnvelope(),
		}}
		tr := newTransport(log, pipe)

		buf := make([]byte, 3)

		r.NoError(tr.Recv(ctx, buf))
		r.Equal([]byte{0xaa, 0xbb, 0xcc}, buf)

		var req AWUSBRequest
		r.NoError(decodeRecord(pipe.writes[0], &req))

		r.Equal(usbRead, req.Cmd)
		r.Equal(uint32(3), req.Len)
	})

	t.Run("short bulk out", func(t *testing.T) {
		r := require.New(t)

		pipe := &scriptPipe{shortWrite: true}
		tr := newTransport(log, pipe)

		err := tr.Send(ctx, []byte{1, 2, 3})
		r.ErrorIs(err, ErrTransportShort)
	})

	t.Run("bad envelope magic", func(t *testing.T) {
		r := require.New(t)

		bad := encodeRecord(AWUSBResponse{Magic: [4]byte{'A', 'W', 'U', 'C'}})

		pipe := &scriptPipe{reads: [][]byte{bad}}
		tr := newTransport(log, pipe)

		err := tr.Send(ctx, []byte{1})
		r.ErrorIs(err, ErrBadEnvelope)
	})

	t.Run("csw failure in envelope", func(t *testing.T) {
		r := require.New(t)

		bad := encodeRecord(AWUSBResponse{Magic: awusMagic, CSWStatus: 2})

		pipe := &scriptPipe{reads: [][]byte{bad}}
		tr := newTransport(log, pipe)

		err := tr.Send(ctx, []byte{1})
		r.ErrorIs(err, ErrBadEnvelope)
	})

	t.Run("stray envelopes before payload are discarded", func(t *testing.T) {
		r := require.New(t)

		payload := make([]byte, 64)
		for i := range payload {
			payload[i] = byte(i)
		}

		pipe := &scriptPipe{reads: [][]byte{
			cleanEnvelope(),
			statusBytes(0),
			payload,
			cleanEnvelope(),
		}}
		tr := newTransport(log, pipe)

		buf := make([]byte, 64)

		r.NoError(tr.Recv(ctx, buf))
		r.Equal(payload, buf)
	})

	t.Run("resynchronization gives up eventually", func(t *testing.T) {
		r := require.New(t)

		var reads [][]byte
		for i := 0; i < maxStrayEnvelopes+1; i++ {
			reads = append(reads, cleanEnvelope())
		}

		pipe := &scriptPipe{reads: reads}
		tr := newTransport(log, pipe)

		buf := make([]byte, 64)

		err := tr.Recv(ctx, buf)
		r.ErrorIs(err, ErrTransportShort)
	})

	t.Run("genuinely short payload fails", func(t *testing.T) {
		r := require.New(t)

		pipe := &scriptPipe{reads: [][]byte{{1, 2, 3}}}
		tr := newTransport(log, pipe)

		buf := make([]byte, 64)

		err := tr.Recv(ctx, buf)
		r.ErrorIs(err, ErrTransportShort)
	})

	t.Run("status success", func(t *testing.T) {
		r := require.New(t)

		pipe := &scriptPipe{reads: [][]byte{
			statusBytes(0),
			cleanEnvelope(),
		}}
		tr := newTransport(log, pipe)

		st, err := tr.Status(ctx, FELDownload)
		r.NoError(err)
		r.Equal(statusMark, st.Mark)
		r.Equal(uint8(0), st.State)
	})

	t.Run("status failure is a command error", func(t *testing.T) {
		r := require.New(t)

		pipe := &scriptPipe{reads: [][]byte{
			statusBytes(3),
			cleanEnvelope(),
		}}
		tr := newTransport(log, pipe)

		_, err := tr.Status(ctx, FESDownload)

		var ce *CommandError
		r.ErrorAs(err, &ce)
		r.Equal(FESDownload, ce.Cmd)
		r.Equal(uint8(3), ce.State)
	})
}
