package decode

import (
	"bytes"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
)

// maxPending bounds how much of an unfinished non-SPS NAL unit the probe
// keeps between chunks. Only parameter sets are inspected, and those are short.
const maxPending = 64 * 1024

// SPSProbe watches an Annex-B elementary stream for sequence parameter sets
// and reports the coded picture size they announce.
type SPSProbe struct {
	pending []byte
	width   int
	height  int
	scanned int
	sps     []byte
	pps     []byte
}

// Feed scans the next chunk of the stream. changed is true when an SPS with
// a size different from the previous one was found.
func (p *SPSProbe) Feed(chunk []byte) (width, height int, changed bool) {
	p.scanned += len(chunk)
	p.pending = append(p.pending, chunk...)

	nalus, rest := splitAnnexB(p.pending)
	for _, nalu := range nalus {
		if h264.NALUType(nalu[0]&0x1F) == h264.NALUTypePPS {
			p.pps = append(p.pps[:0], nalu...)
			continue
		}
		w, h, ok := parseSPS(nalu)
		if !ok {
			continue
		}
		p.sps = append(p.sps[:0], nalu...)
		p.pps = p.pps[:0]
		if w != p.width || h != p.height {
			p.width, p.height = w, h
			changed = true
		}
	}

	if len(rest) > maxPending && !isSPS(rest) {
		// keep a possible split start code
		rest = rest[len(rest)-3:]
	}
	n := copy(p.pending, rest)
	p.pending = p.pending[:n]
	return p.width, p.height, changed
}

// Size returns the last size seen, or zeros.
func (p *SPSProbe) Size() (int, int) {
	return p.width, p.height
}

// ParameterSets returns the last complete SPS, and the PPS that followed it
// if one has been seen, in Annex-B form.
func (p *SPSProbe) ParameterSets() []byte {
	var b []byte
	for _, unit := range [][]byte{p.sps, p.pps} {
		if len(unit) > 0 {
			b = append(b, 0, 0, 0, 1)
			b = append(b, unit...)
		}
	}
	return b
}

// Scanned returns the number of bytes fed so far.
func (p *SPSProbe) Scanned() int {
	return p.scanned
}

func isSPS(nalu []byte) bool {
	start := startCodeLen(nalu)
	return len(nalu) > start && h264.NALUType(nalu[start]&0x1F) == h264.NALUTypeSPS
}

func parseSPS(nalu []byte) (int, int, bool) {
	if len(nalu) == 0 || h264.NALUType(nalu[0]&0x1F) != h264.NALUTypeSPS {
		return 0, 0, false
	}
	var sps h264.SPS
	if err := sps.Unmarshal(nalu); err != nil {
		return 0, 0, false
	}
	w, h := sps.Width(), sps.Height()
	if w <= 0 || h <= 0 {
		return 0, 0, false
	}
	return w, h, true
}

func startCodeLen(b []byte) int {
	switch {
	case bytes.HasPrefix(b, []byte{0, 0, 0, 1}):
		return 4
	case bytes.HasPrefix(b, []byte{0, 0, 1}):
		return 3
	}
	return 0
}

// fromStartCode drops the bytes before the first start code in b.
func fromStartCode(b []byte) []byte {
	i := bytes.Index(b, []byte{0, 0, 1})
	if i < 0 {
		return nil
	}
	if i > 0 && b[i-1] == 0 {
		i--
	}
	return b[i:]
}

// splitAnnexB cuts complete NAL units (without start codes) out of buf. The
// unit after the last start code may still be growing and is returned in
// rest, start code included. Bytes before the first start code are dropped.
func splitAnnexB(buf []byte) (nalus [][]byte, rest []byte) {
	findStart := func(from int) int {
		idx3 := bytes.Index(buf[from:], []byte{0, 0, 1})
		if idx3 < 0 {
			return -1
		}
		if idx3 > 0 && buf[from+idx3-1] == 0 {
			return from + idx3 - 1
		}
		return from + idx3
	}

	start := findStart(0)
	if start < 0 {
		// no start code yet, keep the tail in case one is split
		if len(buf) > 3 {
			return nil, buf[len(buf)-3:]
		}
		return nil, buf
	}
	for {
		payload := start + startCodeLen(buf[start:])
		next := findStart(payload)
		if next < 0 {
			return nalus, buf[start:]
		}
		if next > payload {
			nalus = append(nalus, buf[payload:next])
		}
		start = next
	}
}
