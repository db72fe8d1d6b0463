package awfel

import (
	"context"
	"encoding/binary"
	"time"

	"github.com/pkg/errors"
)

// MBRSize is the size of the sunxi MBR image, 128 sectors of
// partition table.
const MBRSize = 65536

// DeviceInfo is the decoded VerifyDevice reply.
type DeviceInfo struct {
	Board      uint32
	Firmware   uint32
	Mode       uint16
	DataFlag   uint8
	DataLength uint8
	DataStart  uint32
}

// DeviceInfo asks the device to identify itself. Works in both modes;
// the reply carries which mode the device is currently in.
func (s *Session) DeviceInfo(ctx context.Context) (*DeviceInfo, error) {
	req := AWFELStandardRequest{Cmd: FELVerifyDevice}

	err := s.sendMessage(ctx, req.encode())
	if err != nil {
		return nil, err
	}

	var buf [32]byte

	err = s.tr.Recv(ctx, buf[:])
	if err != nil {
		return nil, err
	}

	var resp AWFELVerifyDeviceResponse

	err = decodeRecord(buf[:], &resp)
	if err != nil {
		return nil, errors.Wrapf(err, "decoding verify-device reply")
	}

	if resp.Magic != fexMagic {
		return nil, errors.Errorf("unexpected verify-device magic %q", resp.Magic[:])
	}

	_, err = s.tr.Status(ctx, req.Cmd)
	if err != nil {
		return nil, err
	}

	return &DeviceInfo{
		Board:      resp.Board,
		Firmware:   resp.FW,
		Mode:       resp.Mode,
		DataFlag:   resp.DataFlag,
		DataLength: resp.DataLength,
		DataStart:  resp.DataStartAddress,
	}, nil
}

// Read pulls length bytes starting at address. In FEL mode, and for
// DRAM-tagged FES reads, the address walks by bytes; otherwise it
// walks by 512-byte sectors.
func (s *Session) Read(ctx context.Context, address uint32, length int, tags Tag, mode Mode) ([]byte, error) {
	if length <= 0 {
		return nil, badArgumentf("read length must be positive, got %d", length)
	}

	buf := make([]byte, length)
	ch := newChunker(address, length, tags, mode)

	var done int64

	for {
		off, n, addr, ok := ch.next()
		if !ok {
			break
		}

		start := time.Now()

		msg := AWFELMessage{
			Cmd:     mode.uploadCmd(),
			Address: addr,
			Len:     uint32(n),
			Flags:   uint32(tags),
		}

		err := s.sendMessage(ctx, msg.encode())
		if err != nil {
			return nil, transferErr("read", done, err)
		}

		err = s.tr.Recv(ctx, buf[off:off+n])
		if err != nil {
			return nil, transferErr("read", done, err)
		}

		_, err = s.tr.Status(ctx, msg.Cmd)
		if err != nil {
			return nil, transferErr("read", done, err)
		}

		done += int64(n)
		bytesUploaded.Add(float64(n))
		chunkLatency.Observe(time.Since(start).Seconds())

		s.report("read", done, int64(length))
	}

	return buf, nil
}

// Write pushes data to the device starting at address, with the same
// address walk as Read.
func (s *Session) Write(ctx context.Context, address uint32, data []byte, tags Tag, mode Mode) error {
	if len(data) == 0 {
		return badArgumentf("write payload must not be empty")
	}

	ch := newChunker(address, len(data), tags, mode)

	var done int64

	for {
		off, n, addr, ok := ch.next()
		if !ok {
			break
		}

		start := time.Now()

		msg := AWFELMessage{
			Cmd:     mode.downloadCmd(),
			Address: addr,
			Len:     uint32(n),
			Flags:   uint32(tags),
		}

		err := s.sendMessage(ctx, msg.encode())
		if err != nil {
			return transferErr("write", done, err)
		}

		err = s.tr.Send(ctx, data[off:off+n])
		if err != nil {
			return transferErr("write", done, err)
		}

		_, err = s.tr.Status(ctx, msg.Cmd)
		if err != nil {
			return transferErr("write", done, err)
		}

		done += int64(n)
		bytesDownloaded.Add(float64(n))
		chunkLatency.Observe(time.Since(start).Seconds())

		s.report("write", done, int64(len(data)))
	}

	return nil
}

// Run starts execution at address. The call returns as soon as the
// device acknowledges; whatever protocol the started code speaks is
// the caller's business from here on.
func (s *Session) Run(ctx context.Context, address uint32, mode Mode) error {
	msg := AWFELMessage{
		Cmd:     mode.runCmd(),
		Address: address,
	}

	err := s.sendMessage(ctx, msg.encode())
	if err != nil {
		return err
	}

	_, err = s.tr.Status(ctx, msg.Cmd)
	return err
}

// VerifyStatus fetches the FES verification record for the content
// type named by tags. FES only.
func (s *Session) VerifyStatus(ctx context.Context, tags Tag) (AWFESVerifyStatusResponse, error) {
	msg := AWFELMessage{
		Cmd:   FESVerifyStatus,
		Flags: uint32(tags),
	}

	return s.verifyRound(ctx, msg)
}

// VerifyValue asks the device to checksum a memory range. FES only.
func (s *Session) VerifyValue(ctx context.Context, address, length uint32) (AWFESVerifyStatusResponse, error) {
	msg := AWFELMessage{
		Cmd:     FESVerifyValue,
		Address: address,
		Len:     length,
	}

	return s.verifyRound(ctx, msg)
}

func (s *Session) verifyRound(ctx context.Context, msg AWFELMessage) (AWFESVerifyStatusResponse, error) {
	var resp AWFESVerifyStatusResponse

	err := s.sendMessage(ctx, msg.encode())
	if err != nil {
		return resp, err
	}

	var buf [12]byte

	err = s.tr.Recv(ctx, buf[:])
	if err != nil {
		return resp, err
	}

	err = decodeRecord(buf[:], &resp)
	if err != nil {
		return resp, errors.Wrapf(err, "decoding verify-status reply")
	}

	_, err = s.tr.Status(ctx, msg.Cmd)
	if err != nil {
		return resp, err
	}

	if resp.Flags != VerifyStatusMagic {
		return resp, errors.Errorf("unexpected verify-status flags 0x%08x", resp.Flags)
	}

	return resp, nil
}

// SetStorageState toggles the FES-side NAND driver. FES only.
func (s *Session) SetStorageState(ctx context.Context, on bool) error {
	cmd := FESFlashSetOff
	if on {
		cmd = FESFlashSetOn
	}

	req := AWFELStandardRequest{Cmd: cmd}

	err := s.sendMessage(ctx, req.encode())
	if err != nil {
		return err
	}

	_, err = s.tr.Status(ctx, req.Cmd)
	return err
}

// WriteMBR programs the sunxi MBR: sets the platform erase flag,
// transfers the 64 KiB image, then asks the device for the CRC
// verdict. A non-zero CRC is a VerifyError. FES only.
func (s *Session) WriteMBR(ctx context.Context, mbr []byte, erase bool) (AWFESVerifyStatusResponse, error) {
	var resp AWFESVerifyStatusResponse

	if len(mbr) != MBRSize {
		return resp, badArgumentf("mbr must be %d bytes, got %d", MBRSize, len(mbr))
	}

	flag := []byte{0, 0, 0, 0}
	if erase {
		flag[0] = 1
	}

	err := s.Write(ctx, 0, flag, TagErase|TagFinish, ModeFES)
	if err != nil {
		return resp, errors.Wrapf(err, "setting erase flag")
	}

	err = s.Write(ctx, 0, mbr, TagMBR|TagFinish, ModeFES)
	if err != nil {
		return resp, errors.Wrapf(err, "transferring mbr")
	}

	resp, err = s.VerifyStatus(ctx, TagMBR)
	if err != nil {
		return resp, err
	}

	if resp.CRC != 0 {
		return resp, &VerifyError{CRC: resp.CRC, LastError: resp.LastError}
	}

	return resp, nil
}

// TransmiteRead pulls length bytes from the selected media through
// the FES transmite path. Bounded to a single chunk.
//
// TODO: chunk larger uploads with sector stepping like TransmiteWrite
// once multi-chunk transmite reads are confirmed against hardware.
func (s *Session) TransmiteRead(ctx context.Context, address uint32, length int, media MediaIndex) ([]byte, error) {
	if length <= 0 {
		return nil, badArgumentf("read length must be positive, got %d", length)
	}

	if length > MaxChunk {
		return nil, badArgumentf("transmite read is limited to %d bytes, got %d", MaxChunk, length)
	}

	req := AWFELFESTransportRequest{
		Cmd:        FESTransmite,
		Address:    address,
		Len:        uint32(length),
		MediaIndex: uint8(media),
		Direction:  transmiteUpload,
	}

	err := s.sendMessage(ctx, req.encode())
	if err != nil {
		return nil, err
	}

	buf := make([]byte, length)

	err = s.tr.Recv(ctx, buf)
	if err != nil {
		return nil, err
	}

	_, err = s.tr.Status(ctx, req.Cmd)
	if err != nil {
		return nil, err
	}

	bytesUploaded.Add(float64(length))
	s.report("transmite-read", int64(length), int64(length))

	return buf, nil
}

// TransmiteWrite pushes data to the selected media through the FES
// transmite path. The address always walks by sectors here, whatever
// the media.
func (s *Session) TransmiteWrite(ctx context.Context, address uint32, data []byte, media MediaIndex) error {
	if len(data) == 0 {
		return badArgumentf("write payload must not be empty")
	}

	var done int64

	for off := 0; off < len(data); {
		n := len(data) - off
		if n > MaxChunk {
			n = MaxChunk
		}

		req := AWFELFESTransportRequest{
			Cmd:        FESTransmite,
			Address:    address,
			Len:        uint32(n),
			MediaIndex: uint8(media),
			Direction:  transmiteDownload,
		}

		err := s.sendMessage(ctx, req.encode())
		if err != nil {
			return transferErr("transmite-write", done, err)
		}

		err = s.tr.Send(ctx, data[off:off+n])
		if err != nil {
			return transferErr("transmite-write", done, err)
		}

		_, err = s.tr.Status(ctx, req.Cmd)
		if err != nil {
			return transferErr("transmite-write", done, err)
		}

		step := n / SectorSize
		if step == 0 {
			step = 1
		}

		address += uint32(step)
		off += n
		done += int64(n)
		bytesDownloaded.Add(float64(n))

		s.report("transmite-write", done, int64(len(data)))
	}

	return nil
}

// QueryStorage reports the storage kind the FES stage detected.
func (s *Session) QueryStorage(ctx context.Context) (uint32, error) {
	req := AWFELStandardRequest{Cmd: FESQueryStorage}

	err := s.sendMessage(ctx, req.encode())
	if err != nil {
		return 0, err
	}

	var buf [4]byte

	err = s.tr.Recv(ctx, buf[:])
	if err != nil {
		return 0, err
	}

	_, err = s.tr.Status(ctx, req.Cmd)
	if err != nil {
		return 0, err
	}

	return binary.LittleEndian.Uint32(buf[:]), nil
}

// SetToolMode hands the FES stage a u-boot work mode, optionally with
// an action code. WorkModeBoot with action 0 reboots the device out
// of FES.
func (s *Session) SetToolMode(ctx context.Context, workMode, action uint32) error {
	msg := AWFELMessage{
		Cmd:     FESToolMode,
		Address: workMode,
		Len:     action,
	}

	err := s.sendMessage(ctx, msg.encode())
	if err != nil {
		return err
	}

	_, err = s.tr.Status(ctx, msg.Cmd)
	return err
}

// Disconnect tells the boot ROM the host is done with it.
func (s *Session) Disconnect(ctx context.Context) error {
	req := AWFELStandardRequest{Cmd: FELDisconnect}

	err := s.sendMessage(ctx, req.encode())
	if err != nil {
		return err
	}

	_, err = s.tr.Status(ctx, req.Cmd)
	return err
}

// Request sends a caller-built inner message, optionally reads
// readLen payload bytes, and always consumes and returns the parsed
// closing status. Debug surface; everything else should use the
// typed primitives.
func (s *Session) Request(ctx context.Context, msg AWFELMessage, readLen int) ([]byte, AWFELStatusResponse, error) {
	err := s.sendMessage(ctx, msg.encode())
	if err != nil {
		return nil, AWFELStatusResponse{}, err
	}

	var payload []byte

	if readLen > 0 {
		payload = make([]byte, readLen)

		err = s.tr.Recv(ctx, payload)
		if err != nil {
			return nil, AWFELStatusResponse{}, err
		}
	}

	st, err := s.tr.Status(ctx, msg.Cmd)
	return payload, st, err
}
