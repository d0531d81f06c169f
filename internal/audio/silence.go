package audio

import (
	"bytes"
	"encoding/binary"
	"time"
)

// DefaultSampleRate is used when a caller passes a non-positive rate.
const DefaultSampleRate = 16000

// wavHeader is the canonical 44-byte header of a mono 16-bit PCM file.
type wavHeader struct {
	Riff          [4]byte
	RiffSize      uint32
	Wave          [4]byte
	Fmt           [4]byte
	FmtSize       uint32
	Format        uint16
	Channels      uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Data          [4]byte
	DataSize      uint32
}

const wavHeaderSize = 44

// SilentWAV returns a playable mono 16-bit WAV clip of d silence. Mock
// synthesis and the latency replay tool use it as a stand-in for speech.
func SilentWAV(d time.Duration, sampleRate int) []byte {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	samples := 0
	if d > 0 {
		samples = int(d.Seconds() * float64(sampleRate))
	}
	dataSize := uint32(samples * 2)

	h := wavHeader{
		Riff:          [4]byte{'R', 'I', 'F', 'F'},
		RiffSize:      wavHeaderSize - 8 + dataSize,
		Wave:          [4]byte{'W', 'A', 'V', 'E'},
		Fmt:           [4]byte{'f', 'm', 't', ' '},
		FmtSize:       16,
		Format:        1,
		Channels:      1,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate * 2),
		BlockAlign:    2,
		BitsPerSample: 16,
		Data:          [4]byte{'d', 'a', 't', 'a'},
		DataSize:      dataSize,
	}

	var buf bytes.Buffer
	buf.Grow(wavHeaderSize + int(dataSize))
	// Writes to a bytes.Buffer cannot fail.
	_ = binary.Write(&buf, binary.LittleEndian, h)
	buf.Write(make([]byte, dataSize))
	return buf.Bytes()
}
