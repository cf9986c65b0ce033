package audio

import (
	"errors"
	"fmt"
	"io"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WriteWAV encodes a PCM16 payload as a 16-bit PCM WAV file.
func WriteWAV(w io.WriteSeeker, pcm []byte, sampleRate, channels int) error {
	if len(pcm)%BytesPerSample != 0 {
		return fmt.Errorf("pcm payload not aligned")
	}
	samples := make([]int, len(pcm)/BytesPerSample)
	for i, s := range Samples(pcm) {
		samples[i] = int(s)
	}
	buffer := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:           samples,
		SourceBitDepth: 16,
	}

	enc := wav.NewEncoder(w, sampleRate, 16, channels, 1)
	if err := enc.Write(buffer); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}

// EncodeWAV returns normalised samples as an in-memory WAV file.
func EncodeWAV(samples []float32, sampleRate int) ([]byte, error) {
	var buf memFile
	if err := WriteWAV(&buf, FromFloat32(samples), sampleRate, 1); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ReadWAV decodes a 16-bit WAV file into mono PCM16. Multi-channel input keeps the first channel.
func ReadWAV(r io.ReadSeeker) (pcm []byte, sampleRate int, err error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, 0, errors.New("invalid wav file")
	}
	if dec.BitDepth != 16 {
		return nil, 0, fmt.Errorf("unsupported wav bit depth %d", dec.BitDepth)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("decode wav: %w", err)
	}
	channels := int(dec.NumChans)
	if channels <= 0 {
		channels = 1
	}
	mono := make([]int16, 0, len(buf.Data)/channels)
	for i := 0; i < len(buf.Data); i += channels {
		mono = append(mono, int16(buf.Data[i]))
	}
	return Int16ToBytes(mono), int(dec.SampleRate), nil
}

// memFile is an in-memory io.WriteSeeker for the WAV encoder, which patches
// the header sizes after the data is written.
type memFile struct {
	data []byte
	pos  int
}

func (m *memFile) Write(p []byte) (int, error) {
	end := m.pos + len(p)
	if end > len(m.data) {
		m.data = append(m.data, make([]byte, end-len(m.data))...)
	}
	copy(m.data[m.pos:], p)
	m.pos = end
	return len(p), nil
}

func (m *memFile) Seek(offset int64, whence int) (int64, error) {
	var next int64
	switch whence {
	case io.SeekStart:
		next = offset
	case io.SeekCurrent:
		next = int64(m.pos) + offset
	case io.SeekEnd:
		next = int64(len(m.data)) + offset
	default:
		return 0, errors.New("invalid whence")
	}
	if next < 0 {
		return 0, errors.New("negative position")
	}
	m.pos = int(next)
	return next, nil
}

func (m *memFile) Bytes() []byte {
	return m.data
}
