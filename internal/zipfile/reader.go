package zipfile

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

var (
	// ErrIncompleteFile means the stream ended in the middle of a record.
	ErrIncompleteFile = errors.New("incomplete zip file")

	// ErrUnrecognizedFile means a record signature was not where one was expected.
	ErrUnrecognizedFile = errors.New("unrecognized zip file")

	// ErrUnsupportedCompression means an entry is not stored uncompressed.
	ErrUnsupportedCompression = errors.New("unsupported zip compression method")
)

var errStopped = errors.New("zip stream stopped")

const defaultChunkSize = 64 * 1024

// StreamReader pulls stored ZIP entries one at a time from a byte stream
// without buffering the whole archive. It only walks local file headers and
// stops at the first central directory record.
//
// A StreamReader is not safe for concurrent use.
type StreamReader struct {
	ctx        context.Context
	src        io.Reader
	buf        []byte
	pos        int
	received   int64
	chunkSize  int
	onProgress func(received int64)
	stopped    bool
	done       bool
}

// Option configures a StreamReader.
type Option func(*StreamReader)

// WithProgress registers a callback that receives the cumulative number of
// bytes pulled from the stream.
func WithProgress(fn func(received int64)) Option {
	return func(r *StreamReader) {
		r.onProgress = fn
	}
}

// WithChunkSize sets the size of each read from the stream.
func WithChunkSize(n int) Option {
	return func(r *StreamReader) {
		if n > 0 {
			r.chunkSize = n
		}
	}
}

// NewStreamReader returns a reader over src. Cancelling ctx stops the reader
// cleanly: NextFrame then returns (nil, nil) and Cancelled reports true.
func NewStreamReader(ctx context.Context, src io.Reader, opts ...Option) *StreamReader {
	if ctx == nil {
		ctx = context.Background()
	}
	r := &StreamReader{
		ctx:       ctx,
		src:       src,
		chunkSize: defaultChunkSize,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NewBufferReader returns a reader over an archive already held in memory.
func NewBufferReader(data []byte, opts ...Option) *StreamReader {
	return NewStreamReader(context.Background(), bytes.NewReader(data), opts...)
}

// Cancelled reports whether reading stopped because the context was done.
func (r *StreamReader) Cancelled() bool {
	return r.stopped
}

// Received returns the number of bytes pulled from the stream so far.
func (r *StreamReader) Received() int64 {
	return r.received
}

// NextFrame returns the contents of the next entry, or nil once the central
// directory is reached or the reader was cancelled.
func (r *StreamReader) NextFrame() ([]byte, error) {
	frame, err := r.nextFrame()
	if errors.Is(err, errStopped) {
		return nil, nil
	}
	return frame, err
}

func (r *StreamReader) nextFrame() ([]byte, error) {
	if r.stopped {
		return nil, errStopped
	}
	if r.done {
		return nil, nil
	}

	raw, err := r.read(localFileHeaderLen)
	if err != nil {
		return nil, err
	}

	signature := binary.LittleEndian.Uint32(raw[0:4])
	if signature == centralDirectorySignature {
		r.done = true
		return nil, nil
	}
	if signature != localFileHeaderSignature {
		return nil, fmt.Errorf("%w: signature 0x%08x", ErrUnrecognizedFile, signature)
	}

	var header localFileHeader
	if err := binary.Read(bytes.NewReader(raw), binary.LittleEndian, &header); err != nil {
		return nil, fmt.Errorf("decode local header: %w", err)
	}
	if header.Method != methodStore {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedCompression, header.Method)
	}

	if _, err := r.read(int(header.FilenameLength)); err != nil {
		return nil, err
	}
	if _, err := r.read(int(header.ExtraLength)); err != nil {
		return nil, err
	}

	data, err := r.read(int(header.UncompressedSize))
	if err != nil {
		return nil, err
	}
	frame := make([]byte, len(data))
	copy(frame, data)

	if header.Flags&flagDataDesc != 0 {
		descriptor, err := r.read(dataDescriptorLen)
		if err != nil {
			return nil, err
		}
		if sig := binary.LittleEndian.Uint32(descriptor[0:4]); sig != dataDescriptorSignature {
			return nil, fmt.Errorf("%w: data descriptor signature 0x%08x", ErrUnrecognizedFile, sig)
		}
	}

	return frame, nil
}

// read returns the next n bytes, pulling from the stream until they are
// available. The returned slice is only valid until the next call.
func (r *StreamReader) read(n int) ([]byte, error) {
	for len(r.buf)-r.pos < n {
		if err := r.fill(); err != nil {
			return nil, err
		}
	}
	out := r.buf[r.pos : r.pos+n]
	r.pos += n
	return out, nil
}

func (r *StreamReader) fill() error {
	if err := r.ctx.Err(); err != nil {
		r.stopped = true
		return errStopped
	}

	// Drop consumed bytes before growing the buffer.
	if r.pos > 0 && r.pos >= len(r.buf)/2 {
		remaining := copy(r.buf, r.buf[r.pos:])
		r.buf = r.buf[:remaining]
		r.pos = 0
	}

	start := len(r.buf)
	if cap(r.buf)-start < r.chunkSize {
		grown := make([]byte, start, 2*cap(r.buf)+r.chunkSize)
		copy(grown, r.buf)
		r.buf = grown
	}
	n, err := r.src.Read(r.buf[start : start+r.chunkSize])
	r.buf = r.buf[:start+n]
	if n > 0 {
		r.received += int64(n)
		if r.onProgress != nil {
			r.onProgress(r.received)
		}
	}

	if err != nil {
		if r.ctx.Err() != nil || errors.Is(err, context.Canceled) {
			r.stopped = true
			return errStopped
		}
		if n > 0 && err == io.EOF {
			return nil
		}
		if err == io.EOF {
			return ErrIncompleteFile
		}
		return fmt.Errorf("read zip stream: %w", err)
	}
	return nil
}
