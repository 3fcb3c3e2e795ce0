package tray

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/color"
	"image/png"
	"runtime"
)

const iconSize = 16

var (
	frameColor = color.RGBA{R: 0x00, G: 0x78, B: 0xd4, A: 0xff}
	fillColor  = color.RGBA{R: 0x00, G: 0x78, B: 0xd4, A: 0x40}
)

// iconPNG draws a dashed selection rectangle.
func iconPNG() []byte {
	img := image.NewRGBA(image.Rect(0, 0, iconSize, iconSize))
	const lo, hi = 2, iconSize - 3
	for y := lo; y <= hi; y++ {
		for x := lo; x <= hi; x++ {
			edge := x == lo || x == hi || y == lo || y == hi
			switch {
			case edge && (x+y)%3 != 0:
				img.SetRGBA(x, y, frameColor)
			case !edge:
				img.SetRGBA(x, y, fillColor)
			}
		}
	}
	var buf bytes.Buffer
	_ = png.Encode(&buf, img)
	return buf.Bytes()
}

// wrapICO embeds a PNG in a single-image ICO container, which the Windows
// tray requires.
func wrapICO(pngData []byte) []byte {
	var buf bytes.Buffer
	// ICONDIR
	binary.Write(&buf, binary.LittleEndian, [3]uint16{0, 1, 1})
	// ICONDIRENTRY
	buf.Write([]byte{iconSize, iconSize, 0, 0})
	binary.Write(&buf, binary.LittleEndian, uint16(1))  // planes
	binary.Write(&buf, binary.LittleEndian, uint16(32)) // bit count
	binary.Write(&buf, binary.LittleEndian, uint32(len(pngData)))
	binary.Write(&buf, binary.LittleEndian, uint32(6+16))
	buf.Write(pngData)
	return buf.Bytes()
}

func iconBytes() []byte {
	if runtime.GOOS == "windows" {
		return wrapICO(iconPNG())
	}
	return iconPNG()
}
