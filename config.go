package awfel

import (
	"os"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsimple"
)

type Config struct {
	USB *struct {
		Vendor  uint16 `hcl:"vendor,optional"`
		Product uint16 `hcl:"product,optional"`
	} `hcl:"usb,block"`

	MetricsAddr string `hcl:"metrics_addr,optional"`
}

// LoadConfig reads an awfel.hcl. A missing file is not an error; the
// defaults stand in.
func LoadConfig(path string) (*Config, error) {
	var (
		ctx hcl.EvalContext
		cfg Config
	)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return &cfg, nil
	}

	err := hclsimple.DecodeFile(path, &ctx, &cfg)
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}

// USBID resolves the identity to match, falling back to the Allwinner
// boot ROM defaults.
func (c *Config) USBID() (uint16, uint16) {
	if c.USB == nil {
		return VendorID, ProductID
	}

	vendor, product := uint16(VendorID), uint16(ProductID)

	if c.USB.Vendor != 0 {
		vendor = c.USB.Vendor
	}

	if c.USB.Product != 0 {
		product = c.USB.Product
	}

	return vendor, product
}
