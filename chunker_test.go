package awfel

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChunker(t *testing.T) {
	type chunk struct {
		off  int
		n    int
		addr uint32
	}

	collect := func(c *chunker) []chunk {
		var out []chunk

		for {
			off, n, addr, ok := c.next()
			if !ok {
				break
			}

			out = append(out, chunk{off, n, addr})
		}

		return out
	}

	t.Run("fel steps by bytes", func(t *testing.T) {
		r := require.New(t)

		c := newChunker(0x2000, 150000, TagNone, ModeFEL)

		r.Equal([]chunk{
			{0, 65536, 0x2000},
			{65536, 65536, 0x12000},
			{131072, 18928, 0x22000},
		}, collect(c))

		r.True(c.last())
	})

	t.Run("fes steps by sectors", func(t *testing.T) {
		r := require.New(t)

		c := newChunker(0x8000, 70000, TagNone, ModeFES)

		r.Equal([]chunk{
			{0, 65536, 0x8000},
			{65536, 4464, 0x8080},
		}, collect(c))
	})

	t.Run("dram tag steps by bytes in fes", func(t *testing.T) {
		r := require.New(t)

		c := newChunker(0x4000, 70000, TagDRAM|TagFinish, ModeFES)

		r.Equal([]chunk{
			{0, 65536, 0x4000},
			{65536, 4464, 0x14000},
		}, collect(c))
	})

	t.Run("sub sector tail consumes one sector", func(t *testing.T) {
		r := require.New(t)

		r.Equal(uint32(0x101), stepAddress(0x100, 100, TagNone, ModeFES))
		r.Equal(uint32(0x101), stepAddress(0x100, SectorSize, TagNone, ModeFES))
		r.Equal(uint32(0x102), stepAddress(0x100, SectorSize*2+1, TagNone, ModeFES))
	})

	t.Run("single short transfer", func(t *testing.T) {
		r := require.New(t)

		c := newChunker(0, 16, TagNone, ModeFEL)

		r.Equal([]chunk{{0, 16, 0}}, collect(c))
		r.True(c.last())
	})

	t.Run("exact chunk boundary", func(t *testing.T) {
		r := require.New(t)

		c := newChunker(0, MaxChunk*2, TagNone, ModeFEL)

		chunks := collect(c)
		r.Len(chunks, 2)
		r.Equal(MaxChunk, chunks[0].n)
		r.Equal(MaxChunk, chunks[1].n)
	})
}
