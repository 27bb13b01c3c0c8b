// Package tiffmeta reads and rewrites resolution metadata in TIFF byte
// streams without touching the raster. It walks only the first IFD, which is
// where baseline TIFF keeps XResolution/YResolution.
package tiffmeta

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// TIFF header magic for both byte orders.
const (
	leHeader = "II\x2A\x00"
	beHeader = "MM\x00\x2A"
)

const (
	headerLen = 8
	entryLen  = 12

	tagXResolution = 282
	tagYResolution = 283

	dtRational = 5
)

// ErrInvalidHeader is returned when data does not start with a TIFF header.
var ErrInvalidHeader = errors.New("tiffmeta: invalid TIFF header")

// ErrNoResolution is returned when the first IFD carries no rational
// XResolution/YResolution entries.
var ErrNoResolution = errors.New("tiffmeta: resolution tags not found")

// byteOrder returns the binary.ByteOrder declared by the TIFF header.
func byteOrder(data []byte) (binary.ByteOrder, error) {
	if len(data) < headerLen {
		return nil, ErrInvalidHeader
	}
	switch string(data[:4]) {
	case leHeader:
		return binary.LittleEndian, nil
	case beHeader:
		return binary.BigEndian, nil
	}
	return nil, ErrInvalidHeader
}

// entry is one 12-byte IFD entry plus the offset its payload lives at when
// the value does not fit inline.
type entry struct {
	tag      uint16
	datatype uint16
	count    uint32
	valueOff uint32
}

// firstIFD parses the first IFD of data and returns its entries.
func firstIFD(data []byte, order binary.ByteOrder) ([]entry, error) {
	ifdOffset := int64(order.Uint32(data[4:8]))
	if ifdOffset < headerLen || ifdOffset+2 > int64(len(data)) {
		return nil, fmt.Errorf("tiffmeta: IFD offset %d out of bounds", ifdOffset)
	}
	n := int64(order.Uint16(data[ifdOffset : ifdOffset+2]))
	tableEnd := ifdOffset + 2 + n*entryLen
	if tableEnd > int64(len(data)) {
		return nil, fmt.Errorf("tiffmeta: IFD with %d entries is truncated", n)
	}
	entries := make([]entry, 0, n)
	for i := int64(0); i < n; i++ {
		e := data[ifdOffset+2+i*entryLen:]
		entries = append(entries, entry{
			tag:      order.Uint16(e[0:2]),
			datatype: order.Uint16(e[2:4]),
			count:    order.Uint32(e[4:8]),
			valueOff: order.Uint32(e[8:12]),
		})
	}
	return entries, nil
}

// rationalAt reads the first rational value an entry points to. Rationals
// are 8 bytes and therefore never inline.
func rationalAt(data []byte, order binary.ByteOrder, e entry) (num, den uint32, err error) {
	off := int64(e.valueOff)
	if off < headerLen || off+8 > int64(len(data)) {
		return 0, 0, fmt.Errorf("tiffmeta: rational payload at %d out of bounds", off)
	}
	return order.Uint32(data[off : off+4]), order.Uint32(data[off+4 : off+8]), nil
}

// Resolution reads the X and Y resolution rationals of the first IFD.
// Units are whatever ResolutionUnit declares; callers treating the values as
// DPI assume the common inch default.
func Resolution(data []byte) (x, y float64, err error) {
	order, err := byteOrder(data)
	if err != nil {
		return 0, 0, err
	}
	entries, err := firstIFD(data, order)
	if err != nil {
		return 0, 0, err
	}
	found := false
	for _, e := range entries {
		if e.datatype != dtRational || e.count < 1 {
			continue
		}
		switch e.tag {
		case tagXResolution, tagYResolution:
			num, den, rerr := rationalAt(data, order, e)
			if rerr != nil {
				return 0, 0, rerr
			}
			if den == 0 {
				return 0, 0, fmt.Errorf("tiffmeta: tag %d has zero denominator", e.tag)
			}
			v := float64(num) / float64(den)
			if e.tag == tagXResolution {
				x = v
			} else {
				y = v
			}
			found = true
		}
	}
	if !found {
		return 0, 0, ErrNoResolution
	}
	return x, y, nil
}

// SetResolution rewrites the XResolution and YResolution rational payloads
// of the first IFD to dpi/1 in place. The IFD structure itself is left
// untouched, so the operation never changes len(data).
func SetResolution(data []byte, dpi uint32) error {
	if dpi == 0 {
		return fmt.Errorf("tiffmeta: dpi must be positive")
	}
	order, err := byteOrder(data)
	if err != nil {
		return err
	}
	entries, err := firstIFD(data, order)
	if err != nil {
		return err
	}
	patched := 0
	for _, e := range entries {
		if e.tag != tagXResolution && e.tag != tagYResolution {
			continue
		}
		if e.datatype != dtRational || e.count < 1 {
			return fmt.Errorf("tiffmeta: tag %d has unexpected type %d", e.tag, e.datatype)
		}
		off := int64(e.valueOff)
		if off < headerLen || off+8 > int64(len(data)) {
			return fmt.Errorf("tiffmeta: rational payload at %d out of bounds", off)
		}
		order.PutUint32(data[off:off+4], dpi)
		order.PutUint32(data[off+4:off+8], 1)
		patched++
	}
	if patched == 0 {
		return ErrNoResolution
	}
	return nil
}
