package awfel

import "github.com/google/gousb"

type opts struct {
	vendor   gousb.ID
	product  gousb.ID
	devIndex int
	reporter Reporter
}

type Option func(o *opts)

// WithUSBID overrides the device identity to match. Some vendors ship
// the boot ROM under their own IDs.
func WithUSBID(vendor, product uint16) Option {
	return func(o *opts) {
		o.vendor = gousb.ID(vendor)
		o.product = gousb.ID(product)
	}
}

// WithDeviceIndex picks among several attached FEL devices.
func WithDeviceIndex(n int) Option {
	return func(o *opts) {
		o.devIndex = n
	}
}

// WithReporter installs a progress reporter for multi-chunk
// operations.
func WithReporter(r Reporter) Option {
	return func(o *opts) {
		o.reporter = r
	}
}
