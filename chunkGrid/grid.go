package chunkgrid

import "github.com/maxsupermanhd/SlideChunk/primitives"

const (
	DefaultTileWidth  = uint32(4096)
	DefaultTileHeight = uint32(4096)
)

// CeilDiv is (n + d - 1) / d without going through floats. d must be > 0.
func CeilDiv(n, d uint32) uint32 {
	return uint32((uint64(n) + uint64(d) - 1) / uint64(d))
}

// Plan splits a totalWidth x totalHeight image into row-major tiles of at
// most tileWidth x tileHeight. Last column and row are clipped to the image.
// Zero sized images produce an empty grid.
func Plan(totalWidth, totalHeight, tileWidth, tileHeight uint32) primitives.ImageMetadata {
	m := primitives.ImageMetadata{
		TotalWidth:  totalWidth,
		TotalHeight: totalHeight,
		TileWidth:   tileWidth,
		TileHeight:  tileHeight,
		Tiles:       []primitives.TileDescriptor{},
	}
	if totalWidth == 0 || totalHeight == 0 || tileWidth == 0 || tileHeight == 0 {
		return m
	}
	m.ColCount = CeilDiv(totalWidth, tileWidth)
	m.RowCount = CeilDiv(totalHeight, tileHeight)
	m.Tiles = make([]primitives.TileDescriptor, 0, int(m.ColCount)*int(m.RowCount))
	for row := uint32(0); row < m.RowCount; row++ {
		for col := uint32(0); col < m.ColCount; col++ {
			x := col * tileWidth
			y := row * tileHeight
			m.Tiles = append(m.Tiles, primitives.TileDescriptor{
				OriginX: x,
				OriginY: y,
				Width:   min(tileWidth, totalWidth-x),
				Height:  min(tileHeight, totalHeight-y),
				Col:     col,
				Row:     row,
			})
		}
	}
	return m
}

// Index returns the row-major position of col,row in m.Tiles.
func Index(m primitives.ImageMetadata, col, row uint32) (int, bool) {
	if col >= m.ColCount || row >= m.RowCount {
		return 0, false
	}
	return int(row)*int(m.ColCount) + int(col), true
}
