package awfel

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWire(t *testing.T) {
	t.Run("usb request invariants", func(t *testing.T) {
		r := require.New(t)

		req := newUSBRequest(usbWrite, 65536)

		r.Equal(awucMagic, req.Magic)
		r.Equal(uint32(65536), req.Len)
		r.Equal(req.Len, req.Len2)
		r.Equal(usbRequestCmdLen, req.CmdLen)
		r.Equal(usbWrite, req.Cmd)

		data := req.encode()
		r.Len(data, 32)

		r.Equal([]byte("AWUC"), data[:4])
	})

	t.Run("record sizes", func(t *testing.T) {
		r := require.New(t)

		r.Len(AWUSBRequest{}.encode(), 32)
		r.Len(AWFELStandardRequest{}.encode(), 16)
		r.Len(AWFELMessage{}.encode(), 16)
		r.Len(AWFELFESTransportRequest{}.encode(), 16)
		r.Len(encodeRecord(AWUSBResponse{}), 13)
		r.Len(encodeRecord(AWFELStatusResponse{}), 8)
		r.Len(encodeRecord(AWFELVerifyDeviceResponse{}), 32)
		r.Len(encodeRecord(AWFESVerifyStatusResponse{}), 12)
	})

	t.Run("message layout", func(t *testing.T) {
		r := require.New(t)

		msg := AWFELMessage{
			Cmd:     FESDownload,
			Address: 0x11223344,
			Len:     0x55667788,
			Flags:   uint32(TagMBR | TagFinish),
		}

		data := msg.encode()

		r.Equal([]byte{0x06, 0x02}, data[0:2])
		r.Equal([]byte{0x44, 0x33, 0x22, 0x11}, data[4:8])
		r.Equal([]byte{0x88, 0x77, 0x66, 0x55}, data[8:12])
		r.Equal([]byte{0x01, 0x7f, 0x02, 0x00}, data[12:16])
	})

	t.Run("envelope accepts clean close", func(t *testing.T) {
		r := require.New(t)

		resp, err := decodeUSBResponse(encodeRecord(AWUSBResponse{Magic: awusMagic}))
		r.NoError(err)
		r.Equal(uint8(0), resp.CSWStatus)
	})

	t.Run("envelope rejects wrong magic", func(t *testing.T) {
		r := require.New(t)

		bad := AWUSBResponse{Magic: [4]byte{'A', 'W', 'U', 'C'}}

		_, err := decodeUSBResponse(encodeRecord(bad))
		r.ErrorIs(err, ErrBadEnvelope)
	})

	t.Run("envelope rejects csw failure", func(t *testing.T) {
		r := require.New(t)

		bad := AWUSBResponse{Magic: awusMagic, CSWStatus: 1}

		_, err := decodeUSBResponse(encodeRecord(bad))
		r.ErrorIs(err, ErrBadEnvelope)
	})

	t.Run("status round trip", func(t *testing.T) {
		r := require.New(t)

		st := AWFELStatusResponse{Mark: statusMark, Tag: 7, State: 3}

		got, err := decodeStatus(encodeRecord(st))
		r.NoError(err)
		r.Equal(st, got)
	})

	t.Run("verify device decode", func(t *testing.T) {
		r := require.New(t)

		resp := AWFELVerifyDeviceResponse{
			Magic:            fexMagic,
			Board:            0x00162500,
			FW:               0x0001,
			Mode:             DeviceModeFEL,
			DataStartAddress: 0x7e00,
		}

		var got AWFELVerifyDeviceResponse

		err := decodeRecord(encodeRecord(resp), &got)
		r.NoError(err)
		r.Equal(resp, got)
	})
}

func TestTags(t *testing.T) {
	t.Run("data type masks boundary bits", func(t *testing.T) {
		r := require.New(t)

		r.Equal(TagMBR, (TagMBR | TagStart | TagFinish).DataType())
		r.True((TagDRAM | TagFinish).IsDRAM())
		r.False((TagMBR | TagFinish).IsDRAM())
		r.False(TagNone.IsDRAM())
	})

	t.Run("parse folds names", func(t *testing.T) {
		r := require.New(t)

		tags, err := ParseTags([]string{"mbr", "finish"})
		r.NoError(err)
		r.Equal(TagMBR|TagFinish, tags)

		_, err = ParseTags([]string{"nvram"})
		r.ErrorIs(err, ErrBadArgument)
	})

	t.Run("parse mode and media", func(t *testing.T) {
		r := require.New(t)

		m, err := ParseMode("fes")
		r.NoError(err)
		r.Equal(ModeFES, m)

		_, err = ParseMode("efex")
		r.ErrorIs(err, ErrBadArgument)

		idx, err := ParseMediaIndex("physical")
		r.NoError(err)
		r.Equal(MediaPhysical, idx)

		_, err = ParseMediaIndex("nand")
		r.ErrorIs(err, ErrBadArgument)
	})
}
