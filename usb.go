package awfel

import (
	"context"
	"fmt"

	"github.com/google/gousb"
	"github.com/pkg/errors"
)

// usbDevice owns one opened FEL device: libusb context, device
// handle, claimed interface 0 and the first bulk endpoint pair. It is
// the production BulkPipe.
type usbDevice struct {
	ctx  *gousb.Context
	dev  *gousb.Device
	cfg  *gousb.Config
	intf *gousb.Interface
	in   *gousb.InEndpoint
	out  *gousb.OutEndpoint
}

func (u *usbDevice) ReadBulk(ctx context.Context, p []byte) (int, error) {
	return u.in.ReadContext(ctx, p)
}

func (u *usbDevice) WriteBulk(ctx context.Context, p []byte) (int, error) {
	return u.out.WriteContext(ctx, p)
}

func (u *usbDevice) Close() error {
	if u.intf != nil {
		u.intf.Close()
	}

	if u.cfg != nil {
		u.cfg.Close()
	}

	if u.dev != nil {
		u.dev.Close()
	}

	return u.ctx.Close()
}

// ListDevices reports the bus addresses of every attached device
// matching the FEL identity, in enumeration order. The index into
// this list is what WithDeviceIndex selects.
func ListDevices(vendor, product uint16) ([]string, error) {
	ctx := gousb.NewContext()
	defer ctx.Close()

	var addrs []string

	devs, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		if desc.Vendor == gousb.ID(vendor) && desc.Product == gousb.ID(product) {
			addrs = append(addrs, fmt.Sprintf("%03d:%03d", desc.Bus, desc.Address))
		}
		return false
	})
	if err != nil {
		return nil, errors.Wrapf(err, "enumerating devices")
	}

	for _, d := range devs {
		d.Close()
	}

	return addrs, nil
}

// openUSB opens the index-th device matching vendor:product, claims
// interface 0 and resolves the first bulk IN and OUT endpoints. Every
// acquired handle is released again if a later step fails.
func openUSB(vendor, product gousb.ID, index int) (u *usbDevice, err error) {
	ctx := gousb.NewContext()

	defer func() {
		if err != nil && u == nil {
			ctx.Close()
		}
	}()

	devs, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return desc.Vendor == vendor && desc.Product == product
	})
	if err != nil {
		for _, d := range devs {
			d.Close()
		}
		return nil, errors.Wrapf(err, "opening devices")
	}

	if len(devs) == 0 {
		return nil, errors.Errorf("no device matching %s:%s found", vendor, product)
	}

	if index < 0 || index >= len(devs) {
		for _, d := range devs {
			d.Close()
		}
		return nil, badArgumentf("device index %d out of range (%d found)", index, len(devs))
	}

	for i, d := range devs {
		if i != index {
			d.Close()
		}
	}

	dev := devs[index]

	defer func() {
		if err != nil {
			dev.Close()
		}
	}()

	err = dev.SetAutoDetach(true)
	if err != nil {
		return nil, errors.Wrapf(err, "detaching kernel driver")
	}

	cfg, err := dev.Config(1)
	if err != nil {
		return nil, errors.Wrapf(err, "selecting configuration")
	}

	defer func() {
		if err != nil {
			cfg.Close()
		}
	}()

	intf, err := cfg.Interface(0, 0)
	if err != nil {
		return nil, errors.Wrapf(err, "claiming interface 0")
	}

	defer func() {
		if err != nil {
			intf.Close()
		}
	}()

	var inNum, outNum int = -1, -1

	for _, ed := range intf.Setting.Endpoints {
		if ed.TransferType != gousb.TransferTypeBulk {
			continue
		}

		if ed.Direction == gousb.EndpointDirectionIn {
			if inNum < 0 {
				inNum = ed.Number
			}
		} else if outNum < 0 {
			outNum = ed.Number
		}
	}

	if inNum < 0 || outNum < 0 {
		return nil, errors.Errorf("interface 0 lacks a bulk endpoint pair")
	}

	in, err := intf.InEndpoint(inNum)
	if err != nil {
		return nil, errors.Wrapf(err, "opening bulk in %d", inNum)
	}

	out, err := intf.OutEndpoint(outNum)
	if err != nil {
		return nil, errors.Wrapf(err, "opening bulk out %d", outNum)
	}

	return &usbDevice{
		ctx:  ctx,
		dev:  dev,
		cfg:  cfg,
		intf: intf,
		in:   in,
		out:  out,
	}, nil
}
