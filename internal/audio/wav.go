// Package audio provides WAV decoding and PCM conversion helpers shared by
// the recognizer and the analyzer.
package audio

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// WAV holds decoded PCM audio.
type WAV struct {
	SampleRate int
	Channels   int
	// Data is the raw 16-bit little-endian PCM payload.
	Data []byte
}

// DecodeWAVFile reads a RIFF/WAVE file containing 16-bit PCM.
func DecodeWAVFile(path string) (*WAV, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening wav: %w", err)
	}
	defer f.Close()
	return DecodeWAV(f)
}

// DecodeWAV parses a RIFF/WAVE stream containing 16-bit PCM. Chunks other
// than fmt and data are skipped, which covers the LIST/INFO chunks FFmpeg
// writes.
func DecodeWAV(r io.Reader) (*WAV, error) {
	var header [12]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, fmt.Errorf("reading riff header: %w", err)
	}
	if string(header[0:4]) != "RIFF" || string(header[8:12]) != "WAVE" {
		return nil, fmt.Errorf("not a wav file")
	}

	wav := &WAV{}
	var haveFmt bool
	for {
		var chunk [8]byte
		if _, err := io.ReadFull(r, chunk[:]); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				break
			}
			return nil, fmt.Errorf("reading chunk header: %w", err)
		}
		id := string(chunk[0:4])
		size := binary.LittleEndian.Uint32(chunk[4:8])

		switch id {
		case "fmt ":
			body := make([]byte, size)
			if _, err := io.ReadFull(r, body); err != nil {
				return nil, fmt.Errorf("reading fmt chunk: %w", err)
			}
			if len(body) < 16 {
				return nil, fmt.Errorf("fmt chunk too short")
			}
			format := binary.LittleEndian.Uint16(body[0:2])
			bits := binary.LittleEndian.Uint16(body[14:16])
			if format != 1 || bits != 16 {
				return nil, fmt.Errorf("unsupported wav encoding (format %d, %d bits), expected 16-bit PCM", format, bits)
			}
			wav.Channels = int(binary.LittleEndian.Uint16(body[2:4]))
			wav.SampleRate = int(binary.LittleEndian.Uint32(body[4:8]))
			haveFmt = true
		case "data":
			if !haveFmt {
				return nil, fmt.Errorf("data chunk before fmt chunk")
			}
			wav.Data = make([]byte, size)
			if _, err := io.ReadFull(r, wav.Data); err != nil {
				return nil, fmt.Errorf("reading data chunk: %w", err)
			}
			return wav, nil
		default:
			// Chunk sizes are padded to even byte counts.
			skip := int64(size)
			if size%2 == 1 {
				skip++
			}
			if _, err := io.CopyN(io.Discard, r, skip); err != nil {
				return nil, fmt.Errorf("skipping %s chunk: %w", id, err)
			}
		}
	}
	return nil, fmt.Errorf("wav has no data chunk")
}

// DurationSeconds returns the audio duration.
func (w *WAV) DurationSeconds() float64 {
	if w.SampleRate == 0 || w.Channels == 0 {
		return 0
	}
	frames := len(w.Data) / (2 * w.Channels)
	return float64(frames) / float64(w.SampleRate)
}
