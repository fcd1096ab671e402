package filter

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/bits-and-blooms/bloom/v3"
)

// ErrCorruptSnapshot is returned when a snapshot cannot be decoded.
var ErrCorruptSnapshot = errors.New("corrupt filter snapshot")

var snapshotMagic = [4]byte{'F', 'I', 'S', 'B'}

const (
	snapshotVersion = uint16(1)
	maxStages       = 64
)

type snapshotHeader struct {
	Magic           [4]byte
	Version         uint16
	InitialCapacity uint64
	ErrorRate       float64
	Growth          uint32
	Tightening      float64
	Count           uint64
	Stages          uint32
}

type stageHeader struct {
	Capacity uint64
	ErrRate  float64
	Count    uint64
	Length   uint64
}

// encode writes: header, per stage (stageHeader + bloom bytes), CRC32 trailer.
func encode(s *scalable) ([]byte, error) {
	var buf bytes.Buffer
	hdr := snapshotHeader{
		Magic:           snapshotMagic,
		Version:         snapshotVersion,
		InitialCapacity: s.params.InitialCapacity,
		ErrorRate:       s.params.ErrorRate,
		Growth:          s.params.Growth,
		Tightening:      s.params.Tightening,
		Count:           s.count,
		Stages:          uint32(len(s.stages)),
	}
	if err := binary.Write(&buf, binary.BigEndian, hdr); err != nil {
		return nil, fmt.Errorf("write snapshot header: %w", err)
	}
	var stageBuf bytes.Buffer
	for i, st := range s.stages {
		stageBuf.Reset()
		if _, err := st.bf.WriteTo(&stageBuf); err != nil {
			return nil, fmt.Errorf("write stage %d: %w", i, err)
		}
		sh := stageHeader{
			Capacity: st.capacity,
			ErrRate:  st.errRate,
			Count:    st.count,
			Length:   uint64(stageBuf.Len()),
		}
		if err := binary.Write(&buf, binary.BigEndian, sh); err != nil {
			return nil, fmt.Errorf("write stage %d header: %w", i, err)
		}
		buf.Write(stageBuf.Bytes())
	}
	sum := crc32.ChecksumIEEE(buf.Bytes())
	if err := binary.Write(&buf, binary.BigEndian, sum); err != nil {
		return nil, fmt.Errorf("write snapshot checksum: %w", err)
	}
	return buf.Bytes(), nil
}

func decode(blob []byte) (*scalable, error) {
	if len(blob) < 4 {
		return nil, fmt.Errorf("%w: %d bytes", ErrCorruptSnapshot, len(blob))
	}
	body, trailer := blob[:len(blob)-4], blob[len(blob)-4:]
	if crc32.ChecksumIEEE(body) != binary.BigEndian.Uint32(trailer) {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCorruptSnapshot)
	}
	r := bytes.NewReader(body)
	var hdr snapshotHeader
	if err := binary.Read(r, binary.BigEndian, &hdr); err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrCorruptSnapshot, err)
	}
	if hdr.Magic != snapshotMagic {
		return nil, fmt.Errorf("%w: bad magic", ErrCorruptSnapshot)
	}
	if hdr.Version != snapshotVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorruptSnapshot, hdr.Version)
	}
	if hdr.Stages > maxStages {
		return nil, fmt.Errorf("%w: %d stages", ErrCorruptSnapshot, hdr.Stages)
	}
	params := Params{
		InitialCapacity: hdr.InitialCapacity,
		ErrorRate:       hdr.ErrorRate,
		Growth:          hdr.Growth,
		Tightening:      hdr.Tightening,
	}
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}
	s := &scalable{params: params, count: hdr.Count}
	for i := uint32(0); i < hdr.Stages; i++ {
		var sh stageHeader
		if err := binary.Read(r, binary.BigEndian, &sh); err != nil {
			return nil, fmt.Errorf("%w: stage %d header: %v", ErrCorruptSnapshot, i, err)
		}
		if sh.Length > uint64(r.Len()) {
			return nil, fmt.Errorf("%w: stage %d truncated", ErrCorruptSnapshot, i)
		}
		chunk := make([]byte, sh.Length)
		if _, err := io.ReadFull(r, chunk); err != nil {
			return nil, fmt.Errorf("%w: stage %d: %v", ErrCorruptSnapshot, i, err)
		}
		bf := &bloom.BloomFilter{}
		if _, err := bf.ReadFrom(bytes.NewReader(chunk)); err != nil {
			return nil, fmt.Errorf("%w: stage %d: %v", ErrCorruptSnapshot, i, err)
		}
		s.stages = append(s.stages, &stage{bf: bf, capacity: sh.Capacity, errRate: sh.ErrRate, count: sh.Count})
	}
	if r.Len() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrCorruptSnapshot, r.Len())
	}
	return s, nil
}
