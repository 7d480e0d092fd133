package refimage

import (
	"bytes"
	"encoding/binary"
)

const (
	markerSOI      = 0xD8
	markerSOS      = 0xDA
	markerEOI      = 0xD9
	markerAPP1     = 0xE1
	orientationTag = 0x0112

	orientationNormal = 1
)

var exifHeader = []byte("Exif\x00\x00")

// jpegOrientation returns the EXIF orientation (1 to 8) of a JPEG image. Only
// the marker segments ahead of the scan data are looked at; a missing or
// damaged EXIF block reads as orientationNormal.
func jpegOrientation(data []byte) int {
	if len(data) < 4 || data[0] != 0xFF || data[1] != markerSOI {
		return orientationNormal
	}
	pos := 2
	for pos+4 <= len(data) {
		if data[pos] != 0xFF {
			return orientationNormal
		}
		// markers may be padded with any number of 0xFF fill bytes
		if data[pos+1] == 0xFF {
			pos++
			continue
		}
		marker := data[pos+1]
		if marker == markerSOS || marker == markerEOI {
			return orientationNormal
		}
		size := int(binary.BigEndian.Uint16(data[pos+2:]))
		if size < 2 || pos+2+size > len(data) {
			return orientationNormal
		}
		seg := data[pos+4 : pos+2+size]
		if marker == markerAPP1 && bytes.HasPrefix(seg, exifHeader) {
			return tiffOrientation(seg[len(exifHeader):])
		}
		pos += 2 + size
	}
	return orientationNormal
}

// tiffOrientation reads the orientation tag from the first IFD of a TIFF
// structure.
func tiffOrientation(tiff []byte) int {
	if len(tiff) < 8 {
		return orientationNormal
	}
	var order binary.ByteOrder
	switch string(tiff[:2]) {
	case "MM":
		order = binary.BigEndian
	case "II":
		order = binary.LittleEndian
	default:
		return orientationNormal
	}
	ifd := int(order.Uint32(tiff[4:]))
	if ifd < 8 || ifd+2 > len(tiff) {
		return orientationNormal
	}
	count := int(order.Uint16(tiff[ifd:]))
	for i := 0; i < count; i++ {
		entry := ifd + 2 + i*12
		if entry+12 > len(tiff) {
			return orientationNormal
		}
		if order.Uint16(tiff[entry:]) != orientationTag {
			continue
		}
		v := int(order.Uint16(tiff[entry+8:]))
		if v < 1 || v > 8 {
			return orientationNormal
		}
		return v
	}
	return orientationNormal
}

// swapsAxes reports whether displaying an image with orientation o
// exchanges its width and height (transpose, rotations by 90 and 270,
// transverse).
func swapsAxes(o int) bool {
	return o >= 5 && o <= 8
}
