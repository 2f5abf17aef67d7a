// Package zipfile writes and stream-reads uncompressed ("stored") ZIP
// archives.
package zipfile

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
)

// ZIP record signatures.
const (
	localFileHeaderSignature  uint32 = 0x04034b50
	centralDirectorySignature uint32 = 0x02014b50
	endOfCentralDirSignature  uint32 = 0x06054b50
	dataDescriptorSignature   uint32 = 0x08074b50
)

const (
	localFileHeaderLen  = 30
	centralDirectoryLen = 46
	endOfCentralDirLen  = 22
	dataDescriptorLen   = 16

	versionNeeded = 10
	flagDataDesc  = 0x0008
	methodStore   = 0
)

// ErrLengthMismatch is returned by Build when the name and file slices differ
// in length.
var ErrLengthMismatch = errors.New("filenames and files have different lengths")

// CRC32 returns the IEEE CRC-32 of b.
func CRC32(b []byte) uint32 {
	return crc32.ChecksumIEEE(b)
}

type localFileHeader struct {
	Signature        uint32
	VersionNeeded    uint16
	Flags            uint16
	Method           uint16
	ModTime          uint16
	ModDate          uint16
	CRC32            uint32
	CompressedSize   uint32
	UncompressedSize uint32
	FilenameLength   uint16
	ExtraLength      uint16
}

type centralDirectoryHeader struct {
	Signature          uint32
	VersionMadeBy      uint16
	VersionNeeded      uint16
	Flags              uint16
	Method             uint16
	ModTime            uint16
	ModDate            uint16
	CRC32              uint32
	CompressedSize     uint32
	UncompressedSize   uint32
	FilenameLength     uint16
	ExtraLength        uint16
	CommentLength      uint16
	DiskNumberStart    uint16
	InternalAttributes uint16
	ExternalAttributes uint32
	LocalHeaderOffset  uint32
}

type endOfCentralDirectory struct {
	Signature       uint32
	DiskNumber      uint16
	CentralDirDisk  uint16
	EntriesOnDisk   uint16
	EntriesTotal    uint16
	CentralDirSize  uint32
	CentralDirStart uint32
	CommentLength   uint16
}

// Build returns a ZIP archive holding files under the matching filenames.
// Entries are stored without compression and with zeroed timestamps.
func Build(filenames []string, files [][]byte) ([]byte, error) {
	if len(filenames) != len(files) {
		return nil, fmt.Errorf("build zip: %w (%d names, %d files)", ErrLengthMismatch, len(filenames), len(files))
	}

	var buf bytes.Buffer
	central := make([]centralDirectoryHeader, 0, len(files))

	for i, data := range files {
		name := filenames[i]
		crc := CRC32(data)
		size := uint32(len(data))
		offset := uint32(buf.Len())

		header := localFileHeader{
			Signature:        localFileHeaderSignature,
			VersionNeeded:    versionNeeded,
			CRC32:            crc,
			CompressedSize:   size,
			UncompressedSize: size,
			FilenameLength:   uint16(len(name)),
		}
		if err := binary.Write(&buf, binary.LittleEndian, header); err != nil {
			return nil, fmt.Errorf("write local header for %s: %w", name, err)
		}
		buf.WriteString(name)
		buf.Write(data)

		central = append(central, centralDirectoryHeader{
			Signature:         centralDirectorySignature,
			VersionMadeBy:     versionNeeded,
			VersionNeeded:     versionNeeded,
			CRC32:             crc,
			CompressedSize:    size,
			UncompressedSize:  size,
			FilenameLength:    uint16(len(name)),
			LocalHeaderOffset: offset,
		})
	}

	centralStart := uint32(buf.Len())
	for i, header := range central {
		if err := binary.Write(&buf, binary.LittleEndian, header); err != nil {
			return nil, fmt.Errorf("write central directory for %s: %w", filenames[i], err)
		}
		buf.WriteString(filenames[i])
	}
	centralSize := uint32(buf.Len()) - centralStart

	end := endOfCentralDirectory{
		Signature:       endOfCentralDirSignature,
		EntriesOnDisk:   uint16(len(files)),
		EntriesTotal:    uint16(len(files)),
		CentralDirSize:  centralSize,
		CentralDirStart: centralStart,
	}
	if err := binary.Write(&buf, binary.LittleEndian, end); err != nil {
		return nil, fmt.Errorf("write end of central directory: %w", err)
	}

	return buf.Bytes(), nil
}
