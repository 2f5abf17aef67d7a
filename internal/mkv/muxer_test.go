package mkv

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"
)

type element struct {
	id   []byte
	data []byte
	// offset of the element's id within the buffer it was parsed from
	offset int
}

func idLength(first byte) int {
	switch {
	case first&0x80 != 0:
		return 1
	case first&0x40 != 0:
		return 2
	case first&0x20 != 0:
		return 3
	default:
		return 4
	}
}

func readVint(b []byte) (value uint64, width int) {
	width = 1
	for mask := byte(0x80); mask != 0 && b[0]&mask == 0; mask >>= 1 {
		width++
	}
	value = uint64(b[0] & (0xFF >> width))
	for i := 1; i < width; i++ {
		value = value<<8 | uint64(b[i])
	}
	return value, width
}

func parseElements(t *testing.T, b []byte) []element {
	t.Helper()
	var out []element
	pos := 0
	for pos < len(b) {
		start := pos
		n := idLength(b[pos])
		id := b[pos : pos+n]
		pos += n
		size, w := readVint(b[pos:])
		pos += w
		if pos+int(size) > len(b) {
			t.Fatalf("element %x at %d overruns buffer", id, start)
		}
		out = append(out, element{id: id, data: b[pos : pos+int(size)], offset: start})
		pos += int(size)
	}
	return out
}

func find(els []element, id []byte) []element {
	var out []element
	for _, e := range els {
		if bytes.Equal(e.id, id) {
			out = append(out, e)
		}
	}
	return out
}

func uintValue(e element) uint64 {
	var v uint64
	for _, b := range e.data {
		v = v<<8 | uint64(b)
	}
	return v
}

func buildSample(t *testing.T) ([]element, []element) {
	t.Helper()
	m := NewMuxer(320, 240)
	frames := [][]byte{
		{0xFF, 0xD8, 0x01, 0xFF, 0xD9},
		{0xFF, 0xD8, 0x02, 0x02, 0xFF, 0xD9},
		{0xFF, 0xD8, 0x03, 0x03, 0x03, 0xFF, 0xD9},
	}
	for _, f := range frames {
		m.Add(f, 100)
	}
	out := m.Build()

	top := parseElements(t, out)
	if len(top) != 2 {
		t.Fatalf("Expected EBML header and Segment, got %d top-level elements", len(top))
	}
	if !bytes.Equal(top[0].id, idEBML) || !bytes.Equal(top[1].id, idSegment) {
		t.Fatalf("Unexpected top-level ids %x %x", top[0].id, top[1].id)
	}
	return parseElements(t, top[0].data), parseElements(t, top[1].data)
}

func TestHeader(t *testing.T) {
	header, _ := buildSample(t)
	docTypes := find(header, idDocType)
	if len(docTypes) != 1 || string(docTypes[0].data) != "matroska" {
		t.Errorf("Expected DocType matroska, got %v", docTypes)
	}
	if v := uintValue(find(header, idEBMLMaxSizeLength)[0]); v != 8 {
		t.Errorf("Expected EBMLMaxSizeLength 8, got %d", v)
	}
}

func TestCuesAndDuration(t *testing.T) {
	_, segment := buildSample(t)

	infos := find(segment, idInfo)
	if len(infos) != 1 {
		t.Fatalf("Expected one Info element, got %d", len(infos))
	}
	info := parseElements(t, infos[0].data)
	if v := uintValue(find(info, idTimecodeScale)[0]); v != 1_000_000 {
		t.Errorf("Expected timecode scale 1000000, got %d", v)
	}
	durationEl := find(info, idDuration)[0]
	duration := math.Float32frombits(binary.BigEndian.Uint32(durationEl.data))
	if duration != 300 {
		t.Errorf("Expected duration 300ms, got %v", duration)
	}

	clusters := find(segment, idCluster)
	if len(clusters) != 3 {
		t.Fatalf("Expected 3 clusters, got %d", len(clusters))
	}

	cuesEls := find(segment, idCues)
	if len(cuesEls) != 1 {
		t.Fatalf("Expected one Cues element, got %d", len(cuesEls))
	}
	points := parseElements(t, cuesEls[0].data)
	if len(points) != 3 {
		t.Fatalf("Expected 3 cue points, got %d", len(points))
	}

	wantTimes := []uint64{0, 100, 200}
	for i, p := range points {
		fields := parseElements(t, p.data)
		if got := uintValue(find(fields, idCueTime)[0]); got != wantTimes[i] {
			t.Errorf("Cue %d: expected time %d, got %d", i, wantTimes[i], got)
		}
		positions := parseElements(t, find(fields, idCueTrackPositions)[0].data)
		pos := int(uintValue(find(positions, idCueClusterPosition)[0]))
		if pos != clusters[i].offset {
			t.Errorf("Cue %d: expected cluster position %d, got %d", i, clusters[i].offset, pos)
		}

		cluster := parseElements(t, clusters[i].data)
		if got := uintValue(find(cluster, idTimecode)[0]); got != wantTimes[i] {
			t.Errorf("Cluster %d: expected timecode %d, got %d", i, wantTimes[i], got)
		}
	}
}

func TestTrackEntry(t *testing.T) {
	_, segment := buildSample(t)
	tracksEl := parseElements(t, find(segment, idTracks)[0].data)
	entry := parseElements(t, find(tracksEl, idTrackEntry)[0].data)

	if codec := find(entry, idCodecID); len(codec) != 1 || string(codec[0].data) != "V_MJPEG" {
		t.Errorf("Expected codec V_MJPEG, got %v", codec)
	}
	video := parseElements(t, find(entry, idVideo)[0].data)
	if w := uintValue(find(video, idPixelWidth)[0]); w != 320 {
		t.Errorf("Expected width 320, got %d", w)
	}
	if h := uintValue(find(video, idPixelHeight)[0]); h != 240 {
		t.Errorf("Expected height 240, got %d", h)
	}
}

func TestSimpleBlockCarriesFrame(t *testing.T) {
	m := NewMuxer(1, 1)
	frame := []byte{0xFF, 0xD8, 0xAA, 0xFF, 0xD9}
	m.Add(frame, 50)

	top := parseElements(t, m.Build())
	segment := parseElements(t, top[1].data)
	cluster := parseElements(t, find(segment, idCluster)[0].data)
	block := find(cluster, idSimpleBlock)[0].data

	if !bytes.Equal(block[:4], []byte{0x81, 0, 0, 0x80}) {
		t.Errorf("Unexpected SimpleBlock header %x", block[:4])
	}
	if !bytes.Equal(block[4:], frame) {
		t.Errorf("SimpleBlock payload differs from frame")
	}
}

func TestTrailingRepeatFrame(t *testing.T) {
	m := NewMuxer(10, 10)
	m.Add([]byte{1}, 100)
	m.Add([]byte{2}, 100)
	m.Add([]byte{2}, 0)

	top := parseElements(t, m.Build())
	segment := parseElements(t, top[1].data)
	points := parseElements(t, find(segment, idCues)[0].data)
	if len(points) != 3 {
		t.Fatalf("Expected 3 cue points, got %d", len(points))
	}
	last := parseElements(t, points[2].data)
	if got := uintValue(find(last, idCueTime)[0]); got != 200 {
		t.Errorf("Expected repeated frame at 200ms, got %d", got)
	}
}
