package image

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// ErrInvalidImage wraps every structural or integrity failure found by Verify.
var ErrInvalidImage = errors.New("image: validation failed")

// Info summarizes a verified image.
type Info struct {
	Prefix
	Segments []SegmentHeader
	// Length is the image size including padding, checksum and digest.
	Length int64
}

// Verify walks the whole image stored in r: every segment must lie inside
// size, the trailing checksum must match the segment payload, and the
// appended SHA-256 digest must match when the header announces one.
// Bytes past the computed image length are ignored.
func Verify(r io.ReaderAt, size int64) (*Info, error) {
	if size < MinPrefixLen {
		return nil, fmt.Errorf("%w: %d bytes is shorter than the image prefix", ErrInvalidImage, size)
	}

	prefix := make([]byte, MinPrefixLen)
	if err := readAt(r, prefix, 0); err != nil {
		return nil, fmt.Errorf("read prefix: %w", err)
	}
	p, err := ParsePrefix(prefix)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidImage, err)
	}

	info := &Info{Prefix: *p}
	sum := byte(checksumSeed)
	digest := sha256.New()
	digest.Write(prefix[:HeaderSize])

	off := int64(HeaderSize)
	buf := make([]byte, 4096)
	for i := 0; i < int(p.Header.SegmentCount); i++ {
		if off+SegmentHeaderSize > size {
			return nil, fmt.Errorf("%w: segment %d header past end of image", ErrInvalidImage, i)
		}
		hdr := make([]byte, SegmentHeaderSize)
		if err := readAt(r, hdr, off); err != nil {
			return nil, fmt.Errorf("read segment %d header: %w", i, err)
		}
		seg, _ := ParseSegmentHeader(hdr)
		digest.Write(hdr)
		off += SegmentHeaderSize

		end := off + int64(seg.DataLen)
		if end > size {
			return nil, fmt.Errorf("%w: segment %d (%d bytes) past end of image", ErrInvalidImage, i, seg.DataLen)
		}
		for off < end {
			n := int64(len(buf))
			if end-off < n {
				n = end - off
			}
			if err := readAt(r, buf[:n], off); err != nil {
				return nil, fmt.Errorf("read segment %d: %w", i, err)
			}
			for _, c := range buf[:n] {
				sum ^= c
			}
			digest.Write(buf[:n])
			off += n
		}
		info.Segments = append(info.Segments, seg)
	}

	// The checksum byte is the last byte of the 16-byte aligned block that
	// follows the segments.
	pad := 15 - off%16
	tail := make([]byte, pad+1)
	if off+int64(len(tail)) > size {
		return nil, fmt.Errorf("%w: missing checksum", ErrInvalidImage)
	}
	if err := readAt(r, tail, off); err != nil {
		return nil, fmt.Errorf("read checksum: %w", err)
	}
	if got := tail[len(tail)-1]; got != sum {
		return nil, fmt.Errorf("%w: checksum 0x%02x, computed 0x%02x", ErrInvalidImage, got, sum)
	}
	digest.Write(tail)
	off += int64(len(tail))

	if p.Header.HashAppended {
		if off+DigestSize > size {
			return nil, fmt.Errorf("%w: missing appended digest", ErrInvalidImage)
		}
		want := make([]byte, DigestSize)
		if err := readAt(r, want, off); err != nil {
			return nil, fmt.Errorf("read digest: %w", err)
		}
		if !bytes.Equal(digest.Sum(nil), want) {
			return nil, fmt.Errorf("%w: sha256 digest mismatch", ErrInvalidImage)
		}
		off += DigestSize
	}

	info.Length = off
	return info, nil
}

// Build assembles a well-formed image from a descriptor and segment payloads.
// The descriptor is placed at the start of the first segment, followed by
// firstSegment. Segment payloads are padded to a multiple of four bytes.
func Build(desc AppDescriptor, hashAppended bool, firstSegment []byte, more ...[]byte) []byte {
	segments := append([][]byte{append(desc.Encode(), firstSegment...)}, more...)

	h := Header{SegmentCount: uint8(len(segments)), HashAppended: hashAppended}
	var out bytes.Buffer
	out.Write(h.encode())

	sum := byte(checksumSeed)
	for i, data := range segments {
		if rem := len(data) % 4; rem != 0 {
			data = append(data, make([]byte, 4-rem)...)
		}
		seg := make([]byte, SegmentHeaderSize)
		putSegmentHeader(seg, SegmentHeader{LoadAddr: 0x3f400020 + uint32(i)<<16, DataLen: uint32(len(data))})
		out.Write(seg)
		out.Write(data)
		for _, c := range data {
			sum ^= c
		}
	}

	out.Write(make([]byte, 15-out.Len()%16))
	out.WriteByte(sum)

	if hashAppended {
		d := sha256.Sum256(out.Bytes())
		out.Write(d[:])
	}
	return out.Bytes()
}

func putSegmentHeader(b []byte, s SegmentHeader) {
	binary.LittleEndian.PutUint32(b[0:4], s.LoadAddr)
	binary.LittleEndian.PutUint32(b[4:8], s.DataLen)
}

// readAt tolerates io.EOF when p was filled completely.
func readAt(r io.ReaderAt, p []byte, off int64) error {
	n, err := r.ReadAt(p, off)
	if n == len(p) {
		return nil
	}
	if err == nil || errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}
