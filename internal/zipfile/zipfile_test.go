package zipfile

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"testing"
)

func TestCRC32KnownVectors(t *testing.T) {
	if got := CRC32([]byte("")); got != 0 {
		t.Errorf("Expected crc32(\"\") = 0, got 0x%08x", got)
	}
	if got := CRC32([]byte("a")); got != 0xE8B7BE43 {
		t.Errorf("Expected crc32(\"a\") = 0xe8b7be43, got 0x%08x", got)
	}
	if got := CRC32([]byte("123456789")); got != 0xCBF43926 {
		t.Errorf("Expected crc32(\"123456789\") = 0xcbf43926, got 0x%08x", got)
	}
}

func TestBuildLengthMismatch(t *testing.T) {
	_, err := Build([]string{"a.txt"}, nil)
	if !errors.Is(err, ErrLengthMismatch) {
		t.Errorf("Expected ErrLengthMismatch, got %v", err)
	}
}

func TestBuildReadableByArchiveZip(t *testing.T) {
	bufA := []byte("hello from a")
	bufB := bytes.Repeat([]byte{0x00, 0xff, 0x10}, 1000)

	data, err := Build([]string{"a.txt", "b.txt"}, [][]byte{bufA, bufB})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("archive/zip could not open output: %v", err)
	}
	if len(zr.File) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(zr.File))
	}

	want := []struct {
		name string
		data []byte
	}{{"a.txt", bufA}, {"b.txt", bufB}}

	for i, f := range zr.File {
		if f.Name != want[i].name {
			t.Errorf("Entry %d: expected name %s, got %s", i, want[i].name, f.Name)
		}
		if f.Method != zip.Store {
			t.Errorf("Entry %d: expected stored method, got %d", i, f.Method)
		}
		if f.CRC32 != CRC32(want[i].data) {
			t.Errorf("Entry %d: expected crc 0x%08x, got 0x%08x", i, CRC32(want[i].data), f.CRC32)
		}
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("Open %s failed: %v", f.Name, err)
		}
		got, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			t.Fatalf("Read %s failed: %v", f.Name, err)
		}
		if !bytes.Equal(got, want[i].data) {
			t.Errorf("Entry %s: contents differ", f.Name)
		}
	}
}

func TestBuildEmptyArchive(t *testing.T) {
	data, err := Build(nil, nil)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if len(data) != endOfCentralDirLen {
		t.Errorf("Expected %d bytes, got %d", endOfCentralDirLen, len(data))
	}
	if _, err := zip.NewReader(bytes.NewReader(data), int64(len(data))); err != nil {
		t.Errorf("archive/zip could not open empty archive: %v", err)
	}
}

func TestStreamReaderOnWriterOutput(t *testing.T) {
	files := [][]byte{
		[]byte("frame one"),
		bytes.Repeat([]byte("x"), 70000),
		{},
		[]byte("frame four"),
	}
	names := []string{"000000.jpg", "000001.jpg", "000002.jpg", "000003.jpg"}

	data, err := Build(names, files)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	// Small chunks force reads to span several pulls.
	r := NewStreamReader(context.Background(), bytes.NewReader(data), WithChunkSize(7))
	for i, want := range files {
		got, err := r.NextFrame()
		if err != nil {
			t.Fatalf("NextFrame %d failed: %v", i, err)
		}
		if got == nil {
			t.Fatalf("NextFrame %d returned nil early", i)
		}
		if !bytes.Equal(got, want) {
			t.Errorf("Frame %d differs: got %d bytes, want %d", i, len(got), len(want))
		}
	}

	got, err := r.NextFrame()
	if err != nil || got != nil {
		t.Errorf("Expected (nil, nil) at central directory, got (%v, %v)", got, err)
	}
	got, err = r.NextFrame()
	if err != nil || got != nil {
		t.Errorf("Expected (nil, nil) after end, got (%v, %v)", got, err)
	}
}

func TestStreamReaderProgress(t *testing.T) {
	data, _ := Build([]string{"a"}, [][]byte{[]byte("abc")})

	var last int64
	r := NewBufferReader(data, WithProgress(func(received int64) {
		if received < last {
			t.Errorf("Progress went backwards: %d after %d", received, last)
		}
		last = received
	}))
	for {
		frame, err := r.NextFrame()
		if err != nil {
			t.Fatalf("NextFrame failed: %v", err)
		}
		if frame == nil {
			break
		}
	}
	if last == 0 || last != r.Received() {
		t.Errorf("Expected progress to report %d bytes, got %d", r.Received(), last)
	}
}

func TestStreamReaderTruncated(t *testing.T) {
	data, _ := Build([]string{"a"}, [][]byte{bytes.Repeat([]byte("z"), 100)})

	r := NewBufferReader(data[:50])
	_, err := r.NextFrame()
	if !errors.Is(err, ErrIncompleteFile) {
		t.Errorf("Expected ErrIncompleteFile, got %v", err)
	}
}

func TestStreamReaderUnrecognized(t *testing.T) {
	r := NewBufferReader(bytes.Repeat([]byte{0x42}, 64))
	_, err := r.NextFrame()
	if !errors.Is(err, ErrUnrecognizedFile) {
		t.Errorf("Expected ErrUnrecognizedFile, got %v", err)
	}
}

func TestStreamReaderUnsupportedCompression(t *testing.T) {
	data, _ := Build([]string{"a"}, [][]byte{[]byte("abc")})
	// Compression method lives at offset 8 of the local header.
	binary.LittleEndian.PutUint16(data[8:10], 8)

	r := NewBufferReader(data)
	_, err := r.NextFrame()
	if !errors.Is(err, ErrUnsupportedCompression) {
		t.Errorf("Expected ErrUnsupportedCompression, got %v", err)
	}
}

func TestStreamReaderDataDescriptor(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte("payload")
	header := localFileHeader{
		Signature:        localFileHeaderSignature,
		VersionNeeded:    versionNeeded,
		Flags:            flagDataDesc,
		CRC32:            CRC32(payload),
		CompressedSize:   uint32(len(payload)),
		UncompressedSize: uint32(len(payload)),
		FilenameLength:   1,
	}
	binary.Write(&buf, binary.LittleEndian, header)
	buf.WriteString("p")
	buf.Write(payload)
	binary.Write(&buf, binary.LittleEndian, []uint32{dataDescriptorSignature, CRC32(payload), uint32(len(payload)), uint32(len(payload))})
	binary.Write(&buf, binary.LittleEndian, centralDirectorySignature)
	buf.Write(make([]byte, 26))

	r := NewBufferReader(buf.Bytes())
	got, err := r.NextFrame()
	if err != nil {
		t.Fatalf("NextFrame failed: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("Expected %q, got %q", payload, got)
	}
	if end, err := r.NextFrame(); end != nil || err != nil {
		t.Errorf("Expected end of entries, got (%v, %v)", end, err)
	}

	// A bad descriptor signature is rejected.
	bad := buf.Bytes()
	binary.LittleEndian.PutUint32(bad[localFileHeaderLen+1+len(payload):], 0xdeadbeef)
	r = NewBufferReader(bad)
	if _, err := r.NextFrame(); !errors.Is(err, ErrUnrecognizedFile) {
		t.Errorf("Expected ErrUnrecognizedFile for bad descriptor, got %v", err)
	}
}

type blockingReader struct {
	first  []byte
	cancel context.CancelFunc
	sent   bool
}

func (b *blockingReader) Read(p []byte) (int, error) {
	if !b.sent {
		b.sent = true
		return copy(p, b.first), nil
	}
	b.cancel()
	return 0, context.Canceled
}

func TestStreamReaderCancelled(t *testing.T) {
	data, _ := Build([]string{"a", "b"}, [][]byte{[]byte("first"), []byte("second")})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	// Deliver only the first entry, then cancel mid-stream.
	firstLen := localFileHeaderLen + 1 + len("first")
	src := &blockingReader{first: data[:firstLen], cancel: cancel}

	r := NewStreamReader(ctx, src, WithChunkSize(firstLen))
	frame, err := r.NextFrame()
	if err != nil || string(frame) != "first" {
		t.Fatalf("Expected first frame, got (%q, %v)", frame, err)
	}

	frame, err = r.NextFrame()
	if err != nil {
		t.Errorf("Expected clean stop on cancel, got %v", err)
	}
	if frame != nil {
		t.Errorf("Expected nil frame on cancel, got %q", frame)
	}
	if !r.Cancelled() {
		t.Error("Expected Cancelled to report true")
	}
}
