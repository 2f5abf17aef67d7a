// Package mkv assembles a Matroska file holding a single MJPEG video track
// from a sequence of JPEG frames.
//
// The muxer cannot express the display duration of the final frame: a
// Matroska block only has a start time. Callers that care about the last
// frame's duration append one extra copy of it with a zero duration after all
// real frames.
package mkv

import (
	"bytes"
	"encoding/binary"
	"math"
)

// Element ids, as reserved by the Matroska specification.
var (
	idEBML               = []byte{0x1A, 0x45, 0xDF, 0xA3}
	idEBMLVersion        = []byte{0x42, 0x86}
	idEBMLReadVersion    = []byte{0x42, 0xF7}
	idEBMLMaxIDLength    = []byte{0x42, 0xF2}
	idEBMLMaxSizeLength  = []byte{0x42, 0xF3}
	idDocType            = []byte{0x42, 0x82}
	idDocTypeVersion     = []byte{0x42, 0x87}
	idDocTypeReadVersion = []byte{0x42, 0x85}

	idSegment       = []byte{0x18, 0x53, 0x80, 0x67}
	idInfo          = []byte{0x15, 0x49, 0xA9, 0x66}
	idTimecodeScale = []byte{0x2A, 0xD7, 0xB1}
	idMuxingApp     = []byte{0x4D, 0x80}
	idWritingApp    = []byte{0x57, 0x41}
	idDuration      = []byte{0x44, 0x89}

	idTracks          = []byte{0x16, 0x54, 0xAE, 0x6B}
	idTrackEntry      = []byte{0xAE}
	idTrackNumber     = []byte{0xD7}
	idTrackUID        = []byte{0x73, 0xC5}
	idTrackType       = []byte{0x83}
	idFlagLacing      = []byte{0x9C}
	idDefaultDuration = []byte{0x23, 0xE3, 0x83}
	idCodecID         = []byte{0x86}
	idVideo           = []byte{0xE0}
	idPixelWidth      = []byte{0xB0}
	idPixelHeight     = []byte{0xBA}

	idCluster     = []byte{0x1F, 0x43, 0xB6, 0x75}
	idTimecode    = []byte{0xE7}
	idSimpleBlock = []byte{0xA3}

	idCues               = []byte{0x1C, 0x53, 0xBB, 0x6B}
	idCuePoint           = []byte{0xBB}
	idCueTime            = []byte{0xB3}
	idCueTrackPositions  = []byte{0xB7}
	idCueTrack           = []byte{0xF7}
	idCueClusterPosition = []byte{0xF1}
)

const (
	docType = "matroska"
	codecID = "V_MJPEG"

	// One timecode tick is one millisecond.
	timecodeScale = 1_000_000

	// 30fps, only used by players that ignore block timecodes.
	defaultFrameDuration = 33_333_333

	trackTypeVideo = 1
)

// Frame is one JPEG image and how long it should be shown.
type Frame struct {
	Data       []byte
	DurationMS int
}

// Muxer collects frames and builds the final file.
type Muxer struct {
	width  int
	height int
	frames []Frame
}

// NewMuxer returns a muxer for frames of the given pixel size.
func NewMuxer(width, height int) *Muxer {
	return &Muxer{width: width, height: height}
}

// Add appends a JPEG frame shown for durationMS milliseconds.
func (m *Muxer) Add(frame []byte, durationMS int) {
	m.frames = append(m.frames, Frame{Data: frame, DurationMS: durationMS})
}

// Len returns the number of frames added so far.
func (m *Muxer) Len() int {
	return len(m.frames)
}

// Build returns the complete Matroska file.
func (m *Muxer) Build() []byte {
	totalMS := 0
	for _, f := range m.frames {
		totalMS += f.DurationMS
	}

	var segment [][]byte
	segment = append(segment, info(float64(totalMS)))
	segment = append(segment, tracks(m.width, m.height))

	// Cue positions are relative to the start of the segment payload.
	position := 0
	for _, part := range segment {
		position += len(part)
	}

	positions := make([]int, 0, len(m.frames))
	times := make([]int, 0, len(m.frames))
	frameTime := 0
	for _, f := range m.frames {
		c := cluster(f.Data, frameTime)
		segment = append(segment, c)
		positions = append(positions, position)
		times = append(times, frameTime)
		frameTime += f.DurationMS
		position += len(c)
	}
	segment = append(segment, cues(times, positions))

	var out bytes.Buffer
	out.Write(header())
	out.Write(block(idSegment, segment...))
	return out.Bytes()
}

// encodeLength always emits a five byte EBML size: a length marker followed
// by a 32-bit big-endian value.
func encodeLength(n int) []byte {
	b := make([]byte, 5)
	b[0] = 0x08
	binary.BigEndian.PutUint32(b[1:], uint32(n))
	return b
}

func headerInt(parts [][]byte, id []byte, value uint32) [][]byte {
	data := make([]byte, 8)
	binary.BigEndian.PutUint32(data[4:], value)
	return append(parts, id, encodeLength(len(data)), data)
}

func headerFloat(parts [][]byte, id []byte, value float64) [][]byte {
	data := make([]byte, 4)
	binary.BigEndian.PutUint32(data, math.Float32bits(float32(value)))
	return append(parts, id, encodeLength(len(data)), data)
}

func headerData(parts [][]byte, id []byte, data []byte) [][]byte {
	return append(parts, id, encodeLength(len(data)), data)
}

// block wraps parts in an element with the given id.
func block(id []byte, parts ...[]byte) []byte {
	size := 0
	for _, p := range parts {
		size += len(p)
	}
	out := make([]byte, 0, len(id)+5+size)
	out = append(out, id...)
	out = append(out, encodeLength(size)...)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func header() []byte {
	var parts [][]byte
	parts = headerInt(parts, idEBMLVersion, 1)
	parts = headerInt(parts, idEBMLReadVersion, 1)
	parts = headerInt(parts, idEBMLMaxIDLength, 4)
	parts = headerInt(parts, idEBMLMaxSizeLength, 8)
	parts = headerData(parts, idDocType, []byte(docType))
	parts = headerInt(parts, idDocTypeVersion, 4)
	parts = headerInt(parts, idDocTypeReadVersion, 2)
	return block(idEBML, parts...)
}

func info(durationMS float64) []byte {
	var parts [][]byte
	parts = headerInt(parts, idTimecodeScale, timecodeScale)
	parts = headerData(parts, idMuxingApp, []byte("x"))
	parts = headerData(parts, idWritingApp, []byte("x"))
	parts = headerFloat(parts, idDuration, durationMS)
	return block(idInfo, parts...)
}

func tracks(width, height int) []byte {
	var video [][]byte
	video = headerInt(video, idPixelWidth, uint32(width))
	video = headerInt(video, idPixelHeight, uint32(height))

	var entry [][]byte
	entry = headerInt(entry, idTrackNumber, 1)
	entry = headerInt(entry, idTrackUID, 1)
	entry = headerInt(entry, idTrackType, trackTypeVideo)
	entry = headerInt(entry, idFlagLacing, 0)
	entry = headerInt(entry, idDefaultDuration, defaultFrameDuration)
	entry = headerData(entry, idCodecID, []byte(codecID))
	entry = append(entry, block(idVideo, video...))

	return block(idTracks, block(idTrackEntry, entry...))
}

// simpleBlock encodes the track number as a one byte vint. Some demuxers
// reject the oversized form here even though they accept it elsewhere.
func simpleBlock(frame []byte) []byte {
	out := make([]byte, 0, 4+len(frame))
	out = append(out,
		0x81, // track 1
		0, 0, // timecode relative to the cluster
		0x80, // keyframe
	)
	return append(out, frame...)
}

func cluster(frame []byte, timeMS int) []byte {
	var parts [][]byte
	parts = headerInt(parts, idTimecode, uint32(timeMS))
	parts = headerData(parts, idSimpleBlock, simpleBlock(frame))
	return block(idCluster, parts...)
}

func cues(times, positions []int) []byte {
	points := make([][]byte, 0, len(positions))
	for i := range positions {
		var track [][]byte
		track = headerInt(track, idCueTrack, 1)
		track = headerInt(track, idCueClusterPosition, uint32(positions[i]))

		var point [][]byte
		point = headerInt(point, idCueTime, uint32(times[i]))
		point = append(point, block(idCueTrackPositions, track...))
		points = append(points, block(idCuePoint, point...))
	}
	return block(idCues, points...)
}
