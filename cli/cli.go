package cli

import (
	"context"
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/hashicorp/go-hclog"
	"github.com/lab47/awfel"
	"github.com/lab47/cleo"
	"github.com/mattn/go-isatty"
	"github.com/mitchellh/cli"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sys/unix"
)

type CLI struct {
	log hclog.Logger

	lc *cli.CLI
}

func NewCLI(log hclog.Logger, args []string) (*CLI, error) {
	c := &CLI{
		log: log,
		lc:  cli.NewCLI("awfel", "alpha"),
	}

	c.lc.Args = args

	c.setupCommands()

	return c, nil
}

func (c *CLI) Run() (int, error) {
	return c.lc.Run()
}

func (c *CLI) setupCommands() {
	c.lc.Commands = map[string]cli.CommandFactory{
		"info": func() (cli.Command, error) {
			return cleo.Infer("info", "print device identity and state", c.info), nil
		},
		"read": func() (cli.Command, error) {
			return cleo.Infer("read", "read device memory or storage into a file", c.read), nil
		},
		"write": func() (cli.Command, error) {
			return cleo.Infer("write", "write a file into device memory or storage", c.write), nil
		},
		"run": func() (cli.Command, error) {
			return cleo.Infer("run", "start execution at an address", c.run), nil
		},
		"format": func() (cli.Command, error) {
			return cleo.Infer("format", "erase storage and program a partition table", c.format), nil
		},
		"mbr": func() (cli.Command, error) {
			return cleo.Infer("mbr", "program a partition table without erasing", c.mbr), nil
		},
		"storage on": func() (cli.Command, error) {
			return cleo.Infer("storage on", "open the storage media for access", c.storageOn), nil
		},
		"storage off": func() (cli.Command, error) {
			return cleo.Infer("storage off", "release the storage media", c.storageOff), nil
		},
		"transmite read": func() (cli.Command, error) {
			return cleo.Infer("transmite read", "read storage sectors via the legacy path", c.transmiteRead), nil
		},
		"transmite write": func() (cli.Command, error) {
			return cleo.Infer("transmite write", "write storage sectors via the legacy path", c.transmiteWrite), nil
		},
		"request": func() (cli.Command, error) {
			return cleo.Infer("request", "issue a raw protocol request", c.request), nil
		},
	}
}

type Global struct {
	Config string `short:"c" long:"config" description:"path to awfel.hcl"`
	Device int    `short:"d" long:"device" description:"index among attached devices"`
	Debug  bool   `short:"D" long:"debug" description:"log at trace level"`
	Quiet  bool   `short:"q" long:"quiet" description:"suppress progress output"`
}

var (
	okMark   = color.New(color.FgGreen)
	failMark = color.New(color.FgRed)
)

func errorKind(err error) string {
	var (
		ce *awfel.CommandError
		ve *awfel.VerifyError
		te *awfel.TransferError
	)

	switch {
	case errors.Is(err, awfel.ErrBadArgument):
		return "bad-argument"
	case errors.Is(err, awfel.ErrBadEnvelope):
		return "bad-envelope"
	case errors.Is(err, awfel.ErrTransportShort):
		return "transport-short"
	case errors.As(err, &ce):
		return "command-failed"
	case errors.As(err, &ve):
		return "verify-failed"
	case errors.As(err, &te):
		return "transport"
	default:
		return "usb-error"
	}
}

func (c *CLI) fail(err error) int {
	failMark.Fprintf(os.Stderr, "[FAIL] %s: %s\n", errorKind(err), err)
	return 1
}

func (c *CLI) ok(msg string) {
	okMark.Fprintf(os.Stdout, "[ OK ] %s\n", msg)
}

func parseNum(s string) (uint32, error) {
	if s == "" {
		return 0, nil
	}

	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, errors.Wrapf(err, "parsing number %q", s)
	}

	return uint32(v), nil
}

func parseTagList(s string) (awfel.Tag, error) {
	if s == "" {
		return awfel.TagNone, nil
	}

	return awfel.ParseTags(strings.Split(s, ","))
}

func (c *CLI) reporter(g Global) awfel.Reporter {
	if g.Quiet || !isatty.IsTerminal(os.Stderr.Fd()) {
		return nil
	}

	return awfel.ReporterFunc(func(op string, done, total int64) {
		fmt.Fprintf(os.Stderr, "\r%s: %d / %d bytes", op, done, total)
		if done >= total {
			fmt.Fprintln(os.Stderr)
		}
	})
}

// openSession resolves config, opens the device and arranges for
// SIGINT and SIGTERM to close the session. Closing the session is the
// only way to abort a bulk transfer that the device is sitting on.
func (c *CLI) openSession(g Global, metricsAddr string) (*awfel.Session, error) {
	if g.Debug {
		c.log.SetLevel(hclog.Trace)
	}

	path := g.Config
	if path == "" {
		path = "awfel.hcl"
	}

	cfg, err := awfel.LoadConfig(path)
	if err != nil {
		return nil, err
	}

	vendor, product := cfg.USBID()

	options := []awfel.Option{
		awfel.WithUSBID(vendor, product),
		awfel.WithDeviceIndex(g.Device),
	}

	if r := c.reporter(g); r != nil {
		options = append(options, awfel.WithReporter(r))
	}

	sess, err := awfel.Open(c.log, options...)
	if err != nil {
		return nil, err
	}

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, unix.SIGINT, unix.SIGTERM)

	go func() {
		<-ch
		c.log.Info("interrupted, closing session")
		sess.Close()
	}()

	if metricsAddr == "" {
		metricsAddr = cfg.MetricsAddr
	}

	if metricsAddr != "" {
		go func() {
			http.Handle("/metrics", promhttp.Handler())

			err := http.ListenAndServe(metricsAddr, nil)
			if err != nil {
				c.log.Error("error listening on metrics addr", "error", err, "addr", metricsAddr)
			}
		}()
	}

	return sess, nil
}

type InfoOpts struct {
	Global
}

func (c *CLI) info(ctx context.Context, opts InfoOpts) error {
	sess, err := c.openSession(opts.Global, "")
	if err != nil {
		os.Exit(c.fail(err))
	}

	defer sess.Close()

	info, err := sess.DeviceInfo(ctx)
	if err != nil {
		os.Exit(c.fail(err))
	}

	tw := tabwriter.NewWriter(os.Stdout, 2, 2, 1, ' ', 0)

	fmt.Fprintf(tw, "BOARD:\t0x%08x\n", info.Board)
	fmt.Fprintf(tw, "FIRMWARE:\t0x%08x\n", info.Firmware)
	fmt.Fprintf(tw, "MODE:\t%s\n", awfel.DeviceModeName(info.Mode))
	fmt.Fprintf(tw, "DATA FLAG:\t%d\n", info.DataFlag)
	fmt.Fprintf(tw, "DATA LENGTH:\t%d\n", info.DataLength)
	fmt.Fprintf(tw, "DATA START:\t0x%08x\n", info.DataStart)

	tw.Flush()

	return nil
}

type ReadOpts struct {
	Global

	Address string `short:"a" long:"address" description:"start address or sector"`
	Length  string `short:"l" long:"length" description:"bytes to read"`
	Mode    string `short:"m" long:"mode" description:"protocol mode, fel or fes" default:"fes"`
	Tags    string `short:"t" long:"tags" description:"comma separated data tags"`
	Output  string `short:"o" long:"output" description:"file to write the data to"`
	Metrics string `long:"metrics" description:"address to expose prometheus metrics on"`
}

func (c *CLI) read(ctx context.Context, opts ReadOpts) error {
	addr, err := parseNum(opts.Address)
	if err != nil {
		os.Exit(c.fail(err))
	}

	length, err := parseNum(opts.Length)
	if err != nil {
		os.Exit(c.fail(err))
	}

	mode, err := awfel.ParseMode(opts.Mode)
	if err != nil {
		os.Exit(c.fail(err))
	}

	tags, err := parseTagList(opts.Tags)
	if err != nil {
		os.Exit(c.fail(err))
	}

	if opts.Output == "" {
		os.Exit(c.fail(errors.Wrapf(awfel.ErrBadArgument, "an output file is required")))
	}

	sess, err := c.openSession(opts.Global, opts.Metrics)
	if err != nil {
		os.Exit(c.fail(err))
	}

	defer sess.Close()

	data, err := sess.Read(ctx, addr, int(length), tags, mode)
	if err != nil {
		os.Exit(c.fail(err))
	}

	err = os.WriteFile(opts.Output, data, 0o644)
	if err != nil {
		os.Exit(c.fail(errors.Wrapf(err, "writing %s", opts.Output)))
	}

	c.ok(fmt.Sprintf("read %d bytes into %s", length, opts.Output))

	return nil
}

type WriteOpts struct {
	Global

	Address string `short:"a" long:"address" description:"start address or sector"`
	Mode    string `short:"m" long:"mode" description:"protocol mode, fel or fes" default:"fes"`
	Tags    string `short:"t" long:"tags" description:"comma separated data tags"`
	Input   string `short:"i" long:"input" description:"file holding the data to write"`
	Metrics string `long:"metrics" description:"address to expose prometheus metrics on"`
}

func (c *CLI) write(ctx context.Context, opts WriteOpts) error {
	addr, err := parseNum(opts.Address)
	if err != nil {
		os.Exit(c.fail(err))
	}

	mode, err := awfel.ParseMode(opts.Mode)
	if err != nil {
		os.Exit(c.fail(err))
	}

	tags, err := parseTagList(opts.Tags)
	if err != nil {
		os.Exit(c.fail(err))
	}

	if opts.Input == "" {
		os.Exit(c.fail(errors.Wrapf(awfel.ErrBadArgument, "an input file is required")))
	}

	data, err := os.ReadFile(opts.Input)
	if err != nil {
		os.Exit(c.fail(errors.Wrapf(err, "reading %s", opts.Input)))
	}

	sess, err := c.openSession(opts.Global, opts.Metrics)
	if err != nil {
		os.Exit(c.fail(err))
	}

	defer sess.Close()

	err = sess.Write(ctx, addr, data, tags, mode)
	if err != nil {
		os.Exit(c.fail(err))
	}

	c.ok(fmt.Sprintf("wrote %d bytes from %s", len(data), opts.Input))

	return nil
}

type RunOpts struct {
	Global

	Address string `short:"a" long:"address" description:"entry point address"`
	Mode    string `short:"m" long:"mode" description:"protocol mode, fel or fes" default:"fel"`
}

func (c *CLI) run(ctx context.Context, opts RunOpts) error {
	addr, err := parseNum(opts.Address)
	if err != nil {
		os.Exit(c.fail(err))
	}

	mode, err := awfel.ParseMode(opts.Mode)
	if err != nil {
		os.Exit(c.fail(err))
	}

	sess, err := c.openSession(opts.Global, "")
	if err != nil {
		os.Exit(c.fail(err))
	}

	defer sess.Close()

	err = sess.Run(ctx, addr, mode)
	if err != nil {
		os.Exit(c.fail(err))
	}

	c.ok(fmt.Sprintf("running at 0x%08x", addr))

	return nil
}

type MBROpts struct {
	Global

	Input   string `short:"i" long:"input" description:"file holding the partition table image"`
	Metrics string `long:"metrics" description:"address to expose prometheus metrics on"`
}

func (c *CLI) format(ctx context.Context, opts MBROpts) error {
	return c.programMBR(ctx, opts, true)
}

func (c *CLI) mbr(ctx context.Context, opts MBROpts) error {
	return c.programMBR(ctx, opts, false)
}

func (c *CLI) programMBR(ctx context.Context, opts MBROpts, erase bool) error {
	if opts.Input == "" {
		os.Exit(c.fail(errors.Wrapf(awfel.ErrBadArgument, "an input file is required")))
	}

	data, err := os.ReadFile(opts.Input)
	if err != nil {
		os.Exit(c.fail(errors.Wrapf(err, "reading %s", opts.Input)))
	}

	sess, err := c.openSession(opts.Global, opts.Metrics)
	if err != nil {
		os.Exit(c.fail(err))
	}

	defer sess.Close()

	status, err := sess.WriteMBR(ctx, data, erase)
	if err != nil {
		os.Exit(c.fail(err))
	}

	if erase {
		c.ok(fmt.Sprintf("storage erased and partition table programmed (crc 0x%08x)", status.CRC))
	} else {
		c.ok(fmt.Sprintf("partition table programmed (crc 0x%08x)", status.CRC))
	}

	return nil
}

type StorageOpts struct {
	Global
}

func (c *CLI) storageOn(ctx context.Context, opts StorageOpts) error {
	return c.storage(ctx, opts, true)
}

func (c *CLI) storageOff(ctx context.Context, opts StorageOpts) error {
	return c.storage(ctx, opts, false)
}

func (c *CLI) storage(ctx context.Context, opts StorageOpts, on bool) error {
	sess, err := c.openSession(opts.Global, "")
	if err != nil {
		os.Exit(c.fail(err))
	}

	defer sess.Close()

	err = sess.SetStorageState(ctx, on)
	if err != nil {
		os.Exit(c.fail(err))
	}

	if on {
		c.ok("storage media opened")
	} else {
		c.ok("storage media released")
	}

	return nil
}

type TransmiteOpts struct {
	Global

	Address string `short:"a" long:"address" description:"start sector"`
	Length  string `short:"l" long:"length" description:"bytes to transfer"`
	Index   string `long:"index" description:"media index, dram, log or physical" default:"dram"`
	File    string `short:"f" long:"file" description:"file to read from or write to"`
	Metrics string `long:"metrics" description:"address to expose prometheus metrics on"`
}

func (c *CLI) transmiteRead(ctx context.Context, opts TransmiteOpts) error {
	addr, err := parseNum(opts.Address)
	if err != nil {
		os.Exit(c.fail(err))
	}

	length, err := parseNum(opts.Length)
	if err != nil {
		os.Exit(c.fail(err))
	}

	index, err := awfel.ParseMediaIndex(opts.Index)
	if err != nil {
		os.Exit(c.fail(err))
	}

	if opts.File == "" {
		os.Exit(c.fail(errors.Wrapf(awfel.ErrBadArgument, "an output file is required")))
	}

	sess, err := c.openSession(opts.Global, opts.Metrics)
	if err != nil {
		os.Exit(c.fail(err))
	}

	defer sess.Close()

	data, err := sess.TransmiteRead(ctx, addr, int(length), index)
	if err != nil {
		os.Exit(c.fail(err))
	}

	err = os.WriteFile(opts.File, data, 0o644)
	if err != nil {
		os.Exit(c.fail(errors.Wrapf(err, "writing %s", opts.File)))
	}

	c.ok(fmt.Sprintf("read %d bytes into %s", length, opts.File))

	return nil
}

func (c *CLI) transmiteWrite(ctx context.Context, opts TransmiteOpts) error {
	addr, err := parseNum(opts.Address)
	if err != nil {
		os.Exit(c.fail(err))
	}

	index, err := awfel.ParseMediaIndex(opts.Index)
	if err != nil {
		os.Exit(c.fail(err))
	}

	if opts.File == "" {
		os.Exit(c.fail(errors.Wrapf(awfel.ErrBadArgument, "an input file is required")))
	}

	data, err := os.ReadFile(opts.File)
	if err != nil {
		os.Exit(c.fail(errors.Wrapf(err, "reading %s", opts.File)))
	}

	sess, err := c.openSession(opts.Global, opts.Metrics)
	if err != nil {
		os.Exit(c.fail(err))
	}

	defer sess.Close()

	err = sess.TransmiteWrite(ctx, addr, data, index)
	if err != nil {
		os.Exit(c.fail(err))
	}

	c.ok(fmt.Sprintf("wrote %d bytes from %s", len(data), opts.File))

	return nil
}

type RequestOpts struct {
	Global

	Cmd     string `long:"cmd" description:"command opcode"`
	Address string `short:"a" long:"address" description:"address field"`
	Len     string `short:"l" long:"len" description:"length field"`
	Tags    string `short:"t" long:"tags" description:"comma separated data tags"`
	Read    string `short:"r" long:"read" description:"bytes of payload to read back"`
}

func (c *CLI) request(ctx context.Context, opts RequestOpts) error {
	cmd, err := parseNum(opts.Cmd)
	if err != nil {
		os.Exit(c.fail(err))
	}

	addr, err := parseNum(opts.Address)
	if err != nil {
		os.Exit(c.fail(err))
	}

	length, err := parseNum(opts.Len)
	if err != nil {
		os.Exit(c.fail(err))
	}

	tags, err := parseTagList(opts.Tags)
	if err != nil {
		os.Exit(c.fail(err))
	}

	readLen, err := parseNum(opts.Read)
	if err != nil {
		os.Exit(c.fail(err))
	}

	sess, err := c.openSession(opts.Global, "")
	if err != nil {
		os.Exit(c.fail(err))
	}

	defer sess.Close()

	msg := awfel.AWFELMessage{
		Cmd:     uint16(cmd),
		Address: addr,
		Len:     length,
		Flags:   uint32(tags),
	}

	payload, status, err := sess.Request(ctx, msg, int(readLen))
	if err != nil {
		os.Exit(c.fail(err))
	}

	if len(payload) > 0 {
		fmt.Print(hex.Dump(payload))
	}

	fmt.Printf("state: %d mark: 0x%04x\n", status.State, status.Mark)

	return nil
}
