package awfel

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"
)

// Every record below is packed little-endian on the wire. Encoding
// goes through encoding/binary, so field order is the wire order and
// no implicit padding may appear between fields.

var (
	awucMagic = [4]byte{'A', 'W', 'U', 'C'}
	awusMagic = [4]byte{'A', 'W', 'U', 'S'}
	fexMagic  = [8]byte{'A', 'W', 'U', 'S', 'B', 'F', 'E', 'X'}
)

const (
	// Fixed inner command length byte of the AWUC envelope.
	usbRequestCmdLen uint8 = 0x0c

	// Mark field of a status response.
	statusMark uint16 = 0xffff

	// VerifyStatusMagic is the flags value every well-formed
	// verify-status reply carries.
	VerifyStatusMagic uint32 = 0x6a617603
)

// AWUSBRequest opens every bulk transaction and announces the length
// and direction of the data leg that follows.
type AWUSBRequest struct {
	Magic  [4]byte
	Tag    uint32
	Len    uint32
	Resv1  uint16
	Resv2  uint8
	CmdLen uint8
	Cmd    uint8
	Resv3  uint8
	Len2   uint32
	Resv4  [10]byte
}

func newUSBRequest(cmd uint8, length uint32) AWUSBRequest {
	return AWUSBRequest{
		Magic:  awucMagic,
		Len:    length,
		CmdLen: usbRequestCmdLen,
		Cmd:    cmd,
		Len2:   length,
	}
}

// AWUSBResponse is the 13-byte CSW-like envelope that closes every
// bulk transaction.
type AWUSBResponse struct {
	Magic     [4]byte
	Tag       uint32
	Residue   uint32
	CSWStatus uint8
}

// AWFELStandardRequest is the bare 16-byte inner command used by
// operations that carry no operand.
type AWFELStandardRequest struct {
	Cmd  uint16
	Tag  uint16
	Resv [12]byte
}

// AWFELMessage is the polymorphic inner envelope shared by most FEL
// and FES commands.
type AWFELMessage struct {
	Cmd     uint16
	Tag     uint16
	Address uint32
	Len     uint32
	Flags   uint32
}

// AWFELFESTransportRequest is the inner command of the FES transmite
// operation, carrying a media index and a direction bit instead of
// flags.
type AWFELFESTransportRequest struct {
	Cmd        uint16
	Tag        uint16
	Address    uint32
	Len        uint32
	MediaIndex uint8
	Direction  uint8
	Resv       [2]byte
}

// AWFELStatusResponse closes every logical command. State zero is
// success.
type AWFELStatusResponse struct {
	Mark  uint16
	Tag   uint16
	State uint8
	Resv  [3]byte
}

// AWFELVerifyDeviceResponse is the reply to a VerifyDevice command.
type AWFELVerifyDeviceResponse struct {
	Magic            [8]byte
	Board            uint32
	FW               uint32
	Mode             uint16
	DataFlag         uint8
	DataLength       uint8
	DataStartAddress uint32
	Resv             [8]byte
}

// AWFESVerifyStatusResponse is the reply to VerifyStatus and
// VerifyValue. A CRC of zero signals success on MBR and erase paths;
// LastError is -1 on failure.
type AWFESVerifyStatusResponse struct {
	Flags     uint32
	CRC       uint32
	LastError int32
}

func init() {
	for _, c := range []struct {
		rec  interface{}
		size int
	}{
		{AWUSBRequest{}, 32},
		{AWUSBResponse{}, 13},
		{AWFELStandardRequest{}, 16},
		{AWFELMessage{}, 16},
		{AWFELFESTransportRequest{}, 16},
		{AWFELStatusResponse{}, 8},
		{AWFELVerifyDeviceResponse{}, 32},
		{AWFESVerifyStatusResponse{}, 12},
	} {
		if sz := binary.Size(c.rec); sz != c.size {
			panic(fmt.Sprintf("wrong wire size for %T: %d", c.rec, sz))
		}
	}
}

func encodeRecord(rec interface{}) []byte {
	var buf bytes.Buffer

	err := binary.Write(&buf, binary.LittleEndian, rec)
	if err != nil {
		panic(fmt.Sprintf("encoding %T: %s", rec, err))
	}

	return buf.Bytes()
}

func decodeRecord(data []byte, rec interface{}) error {
	return binary.Read(bytes.NewReader(data), binary.LittleEndian, rec)
}

func (r AWUSBRequest) encode() []byte {
	return encodeRecord(r)
}

func (r AWFELStandardRequest) encode() []byte {
	return encodeRecord(r)
}

func (r AWFELMessage) encode() []byte {
	return encodeRecord(r)
}

func (r AWFELFESTransportRequest) encode() []byte {
	return encodeRecord(r)
}

func decodeUSBResponse(data []byte) (AWUSBResponse, error) {
	var resp AWUSBResponse

	err := decodeRecord(data, &resp)
	if err != nil {
		return resp, errors.Wrapf(err, "decoding envelope")
	}

	if resp.Magic != awusMagic {
		return resp, errors.Wrapf(ErrBadEnvelope, "magic %q", resp.Magic[:])
	}

	if resp.CSWStatus != 0 {
		return resp, errors.Wrapf(ErrBadEnvelope, "csw status %d", resp.CSWStatus)
	}

	return resp, nil
}

func decodeStatus(data []byte) (AWFELStatusResponse, error) {
	var st AWFELStatusResponse

	err := decodeRecord(data, &st)
	if err != nil {
		return st, errors.Wrapf(err, "decoding status")
	}

	return st, nil
}
