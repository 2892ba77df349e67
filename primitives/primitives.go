/*
	SlideChunk, chunked tile cache for very large raster images
	Copyright (C) 2022 Maxim Zhuchkov

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU Affero General Public License as published
	by the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU Affero General Public License for more details.

	You should have received a copy of the GNU Affero General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.

	Contact me via mail: q3.max.2011@yandex.ru or Discord: MaX#6717
*/

package primitives

import "fmt"

// TileDescriptor is one rectangle of the source image, stored as one chunk file.
type TileDescriptor struct {
	OriginX uint32 `json:"origin_x"`
	OriginY uint32 `json:"origin_y"`
	Width   uint32 `json:"width"`
	Height  uint32 `json:"height"`
	Col     uint32 `json:"col_index"`
	Row     uint32 `json:"row_index"`
}

func (t TileDescriptor) String() string {
	return fmt.Sprintf("{chunk %dx%d at %d:%d size %dx%d}", t.Col, t.Row, t.OriginX, t.OriginY, t.Width, t.Height)
}

// PixelBytes is the RGBA8 payload length of the tile.
func (t TileDescriptor) PixelBytes() int {
	return int(t.Width) * int(t.Height) * 4
}

// ImageMetadata describes a cached image. Replaced as a whole on every rebuild.
type ImageMetadata struct {
	TotalWidth  uint32           `json:"total_width"`
	TotalHeight uint32           `json:"total_height"`
	TileWidth   uint32           `json:"tile_width"`
	TileHeight  uint32           `json:"tile_height"`
	ColCount    uint32           `json:"col_count"`
	RowCount    uint32           `json:"row_count"`
	Tiles       []TileDescriptor `json:"tiles"`
}

// SourceIdentity decides whether the cache directory belongs to a source file.
// SourceSize and SourceModTime are zero in descriptors written without stat info.
type SourceIdentity struct {
	SourcePath    string `json:"source_path"`
	TotalWidth    uint32 `json:"total_width"`
	TotalHeight   uint32 `json:"total_height"`
	TileWidth     uint32 `json:"tile_width"`
	TileHeight    uint32 `json:"tile_height"`
	ColCount      uint32 `json:"col_count"`
	RowCount      uint32 `json:"row_count"`
	SourceSize    int64  `json:"source_size,omitempty"`
	SourceModTime int64  `json:"source_mod_time,omitempty"`
}

func IdentityFromMetadata(path string, m ImageMetadata) SourceIdentity {
	return SourceIdentity{
		SourcePath:  path,
		TotalWidth:  m.TotalWidth,
		TotalHeight: m.TotalHeight,
		TileWidth:   m.TileWidth,
		TileHeight:  m.TileHeight,
		ColCount:    m.ColCount,
		RowCount:    m.RowCount,
	}
}
