// Package image describes the on-flash application image format: a fixed
// header, a list of segments and the application descriptor embedded at the
// start of the first segment.
//
// All fields are little-endian. Every parser checks its minimum length before
// touching a field.
package image

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// HeaderSize is the size of the image header.
	HeaderSize = 24
	// SegmentHeaderSize is the size of each segment header.
	SegmentHeaderSize = 8
	// DescriptorSize is the size of the application descriptor.
	DescriptorSize = 256
	// DescriptorOffset is where the descriptor starts inside the image.
	DescriptorOffset = HeaderSize + SegmentHeaderSize
	// MinPrefixLen is the number of leading bytes needed before the
	// descriptor can be read.
	MinPrefixLen = HeaderSize + SegmentHeaderSize + DescriptorSize

	// HeaderMagic is the first byte of every image.
	HeaderMagic = 0xE9
	// DescriptorMagic opens the application descriptor.
	DescriptorMagic uint32 = 0xABCD5432

	// MaxSegments is the largest segment count the loader accepts.
	MaxSegments = 16

	// DigestSize is the size of the SHA-256 digest appended when HashAppended is set.
	DigestSize = 32

	checksumSeed = 0xEF
)

var (
	// ErrShortHeader is returned when fewer bytes than a structure needs were supplied.
	ErrShortHeader = errors.New("image: buffer too short")

	// ErrBadMagic is returned when a magic number does not match.
	ErrBadMagic = errors.New("image: bad magic")
)

// Header is the fixed image header.
type Header struct {
	Magic         uint8
	SegmentCount  uint8
	SPIMode       uint8
	SPISpeedSize  uint8
	EntryAddr     uint32
	WPPin         uint8
	SPIPinDrv     [3]uint8
	ChipID        uint16
	MinChipRev    uint8
	MinChipRevFul uint16
	MaxChipRevFul uint16
	Reserved      [4]uint8
	HashAppended  bool
}

// SegmentHeader precedes the data of each segment.
type SegmentHeader struct {
	LoadAddr uint32
	DataLen  uint32
}

// AppDescriptor is the metadata block embedded in the first segment.
type AppDescriptor struct {
	Magic         uint32
	SecureVersion uint32
	Version       string
	ProjectName   string
	Time          string
	Date          string
	IDFVersion    string
	ELFSHA256     [32]byte
}

// Prefix is the decoded leading part of an image.
type Prefix struct {
	Header     Header
	Segment    SegmentHeader
	Descriptor AppDescriptor
}

// ParseHeader decodes the image header from the start of b.
func ParseHeader(b []byte) (*Header, error) {
	if len(b) < HeaderSize {
		return nil, fmt.Errorf("%w: header needs %d bytes, have %d", ErrShortHeader, HeaderSize, len(b))
	}
	h := &Header{
		Magic:         b[0],
		SegmentCount:  b[1],
		SPIMode:       b[2],
		SPISpeedSize:  b[3],
		EntryAddr:     binary.LittleEndian.Uint32(b[4:8]),
		WPPin:         b[8],
		ChipID:        binary.LittleEndian.Uint16(b[12:14]),
		MinChipRev:    b[14],
		MinChipRevFul: binary.LittleEndian.Uint16(b[15:17]),
		MaxChipRevFul: binary.LittleEndian.Uint16(b[17:19]),
		HashAppended:  b[23] == 1,
	}
	copy(h.SPIPinDrv[:], b[9:12])
	copy(h.Reserved[:], b[19:23])

	if h.Magic != HeaderMagic {
		return nil, fmt.Errorf("%w: header magic 0x%02x", ErrBadMagic, h.Magic)
	}
	return h, nil
}

// ParseSegmentHeader decodes a segment header from the start of b.
func ParseSegmentHeader(b []byte) (SegmentHeader, error) {
	if len(b) < SegmentHeaderSize {
		return SegmentHeader{}, fmt.Errorf("%w: segment header needs %d bytes, have %d", ErrShortHeader, SegmentHeaderSize, len(b))
	}
	return SegmentHeader{
		LoadAddr: binary.LittleEndian.Uint32(b[0:4]),
		DataLen:  binary.LittleEndian.Uint32(b[4:8]),
	}, nil
}

// ParseDescriptor decodes an application descriptor from the start of b.
func ParseDescriptor(b []byte) (*AppDescriptor, error) {
	if len(b) < DescriptorSize {
		return nil, fmt.Errorf("%w: descriptor needs %d bytes, have %d", ErrShortHeader, DescriptorSize, len(b))
	}
	d := &AppDescriptor{
		Magic:         binary.LittleEndian.Uint32(b[0:4]),
		SecureVersion: binary.LittleEndian.Uint32(b[4:8]),
		Version:       cstring(b[16:48]),
		ProjectName:   cstring(b[48:80]),
		Time:          cstring(b[80:96]),
		Date:          cstring(b[96:112]),
		IDFVersion:    cstring(b[112:144]),
	}
	copy(d.ELFSHA256[:], b[144:176])

	if d.Magic != DescriptorMagic {
		return nil, fmt.Errorf("%w: descriptor magic 0x%08x", ErrBadMagic, d.Magic)
	}
	return d, nil
}

// ParsePrefix decodes the header, the first segment header and the descriptor.
// b must hold at least MinPrefixLen bytes from the start of the image.
func ParsePrefix(b []byte) (*Prefix, error) {
	if len(b) < MinPrefixLen {
		return nil, fmt.Errorf("%w: prefix needs %d bytes, have %d", ErrShortHeader, MinPrefixLen, len(b))
	}
	h, err := ParseHeader(b)
	if err != nil {
		return nil, err
	}
	if h.SegmentCount == 0 || h.SegmentCount > MaxSegments {
		return nil, fmt.Errorf("image: segment count %d out of range", h.SegmentCount)
	}
	seg, err := ParseSegmentHeader(b[HeaderSize:])
	if err != nil {
		return nil, err
	}
	if seg.DataLen < DescriptorSize {
		return nil, fmt.Errorf("image: first segment of %d bytes cannot hold the descriptor", seg.DataLen)
	}
	d, err := ParseDescriptor(b[DescriptorOffset:])
	if err != nil {
		return nil, err
	}
	return &Prefix{Header: *h, Segment: seg, Descriptor: *d}, nil
}

// Encode serializes the descriptor into its 256-byte form.
func (d *AppDescriptor) Encode() []byte {
	b := make([]byte, DescriptorSize)
	magic := d.Magic
	if magic == 0 {
		magic = DescriptorMagic
	}
	binary.LittleEndian.PutUint32(b[0:4], magic)
	binary.LittleEndian.PutUint32(b[4:8], d.SecureVersion)
	copy(b[16:47], d.Version)
	copy(b[48:79], d.ProjectName)
	copy(b[80:95], d.Time)
	copy(b[96:111], d.Date)
	copy(b[112:143], d.IDFVersion)
	copy(b[144:176], d.ELFSHA256[:])
	return b
}

func (h *Header) encode() []byte {
	b := make([]byte, HeaderSize)
	b[0] = HeaderMagic
	b[1] = h.SegmentCount
	b[2] = h.SPIMode
	b[3] = h.SPISpeedSize
	binary.LittleEndian.PutUint32(b[4:8], h.EntryAddr)
	b[8] = h.WPPin
	copy(b[9:12], h.SPIPinDrv[:])
	binary.LittleEndian.PutUint16(b[12:14], h.ChipID)
	b[14] = h.MinChipRev
	binary.LittleEndian.PutUint16(b[15:17], h.MinChipRevFul)
	binary.LittleEndian.PutUint16(b[17:19], h.MaxChipRevFul)
	if h.HashAppended {
		b[23] = 1
	}
	return b
}

func cstring(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}
