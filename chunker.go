package awfel

// chunker walks a logical transfer of total bytes in MaxChunk pieces,
// tracking the device-side address as it goes. DRAM targets (and
// everything in FEL mode) step the address by bytes; block media in
// FES mode steps by 512-byte sectors, where a sub-sector tail still
// consumes a whole sector.
type chunker struct {
	addr  uint32
	total int
	off   int
	tags  Tag
	mode  Mode
}

func newChunker(addr uint32, total int, tags Tag, mode Mode) *chunker {
	return &chunker{
		addr:  addr,
		total: total,
		tags:  tags,
		mode:  mode,
	}
}

// next yields the offset, length and device address of the next
// chunk. ok is false once the transfer is covered.
func (c *chunker) next() (off int, n int, addr uint32, ok bool) {
	if c.off >= c.total {
		return 0, 0, c.addr, false
	}

	off = c.off
	addr = c.addr

	n = c.total - c.off
	if n > MaxChunk {
		n = MaxChunk
	}

	c.off += n
	c.addr = stepAddress(c.addr, n, c.tags, c.mode)

	return off, n, addr, true
}

// last reports whether the chunk ending at the current offset was the
// final one.
func (c *chunker) last() bool {
	return c.off >= c.total
}

func stepAddress(addr uint32, n int, tags Tag, mode Mode) uint32 {
	if mode == ModeFEL || tags.IsDRAM() {
		return addr + uint32(n)
	}

	step := n / SectorSize
	if step == 0 {
		step = 1
	}

	return addr + uint32(step)
}
