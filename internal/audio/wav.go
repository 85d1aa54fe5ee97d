package audio

import (
	"bytes"
	"encoding/binary"
	"io"
	"strconv"
	"strings"
)

// PCMSampleRate parses provider output formats such as "pcm_16000".
// ok is false for anything that is not raw PCM.
func PCMSampleRate(format string) (rate int, ok bool) {
	rest, found := strings.CutPrefix(strings.ToLower(strings.TrimSpace(format)), "pcm_")
	if !found {
		return 0, false
	}
	rate, err := strconv.Atoi(rest)
	if err != nil || rate <= 0 {
		return 0, false
	}
	return rate, true
}

// MIMEType maps a provider output format to the content type of the bytes
// the caller ends up holding. PCM is reported as WAV since callers wrap it.
func MIMEType(format string) string {
	f := strings.ToLower(strings.TrimSpace(format))
	switch {
	case strings.HasPrefix(f, "mp3"):
		return "audio/mpeg"
	case strings.HasPrefix(f, "pcm"):
		return "audio/wav"
	case strings.HasPrefix(f, "opus"):
		return "audio/ogg"
	case strings.HasPrefix(f, "ulaw"):
		return "audio/basic"
	default:
		return "application/octet-stream"
	}
}

// EncodeWAVPCM16LE wraps raw PCM16LE mono audio bytes in a WAV container.
func EncodeWAVPCM16LE(pcm []byte, sampleRate int) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteWAVPCM16LETo(&buf, pcm, sampleRate); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// wavHeader is the canonical 44-byte RIFF header for PCM audio.
type wavHeader struct {
	RIFF          [4]byte
	ChunkSize     uint32
	WAVE          [4]byte
	Fmt           [4]byte
	FmtSize       uint32
	AudioFormat   uint16
	Channels      uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Data          [4]byte
	DataSize      uint32
}

func monoPCM16Header(dataSize, sampleRate int) wavHeader {
	const bytesPerSample = 2
	return wavHeader{
		RIFF:          [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     uint32(36 + dataSize),
		WAVE:          [4]byte{'W', 'A', 'V', 'E'},
		Fmt:           [4]byte{'f', 'm', 't', ' '},
		FmtSize:       16,
		AudioFormat:   1,
		Channels:      1,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate * bytesPerSample),
		BlockAlign:    bytesPerSample,
		BitsPerSample: 8 * bytesPerSample,
		Data:          [4]byte{'d', 'a', 't', 'a'},
		DataSize:      uint32(dataSize),
	}
}

// WriteWAVPCM16LETo writes raw PCM16LE mono audio bytes to out as a WAV
// stream. A non-positive sampleRate means 16 kHz.
func WriteWAVPCM16LETo(out io.Writer, pcm []byte, sampleRate int) error {
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	if err := binary.Write(out, binary.LittleEndian, monoPCM16Header(len(pcm), sampleRate)); err != nil {
		return err
	}
	_, err := out.Write(pcm)
	return err
}
