package media

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
)

// SampleRate is the fixed pipeline sample rate. Sample offsets convert to
// seconds by dividing by this value.
const SampleRate = 16000

const (
	wavChannels      = 1
	wavBitsPerSample = 16
)

// ReadWAV reads a mono 16-bit PCM WAV file into normalized float32 samples
// in [-1, 1).
func ReadWAV(path string) ([]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open wav: %w", err)
	}
	defer f.Close()

	var riff [12]byte
	if _, err := io.ReadFull(f, riff[:]); err != nil {
		return nil, fmt.Errorf("failed to read RIFF header: %w", err)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return nil, fmt.Errorf("not a WAV file")
	}

	var (
		channels      uint16
		bitsPerSample uint16
		data          []byte
	)

	// Walk chunks until the data chunk; ffmpeg may emit LIST and fact chunks.
	for {
		var hdr [8]byte
		if _, err := io.ReadFull(f, hdr[:]); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				break
			}
			return nil, fmt.Errorf("failed to read chunk header: %w", err)
		}

		id := string(hdr[0:4])
		size := binary.LittleEndian.Uint32(hdr[4:8])

		switch id {
		case "fmt ":
			chunk := make([]byte, size)
			if _, err := io.ReadFull(f, chunk); err != nil {
				return nil, fmt.Errorf("failed to read fmt chunk: %w", err)
			}
			channels = binary.LittleEndian.Uint16(chunk[2:4])
			bitsPerSample = binary.LittleEndian.Uint16(chunk[14:16])
		case "data":
			data = make([]byte, size)
			if _, err := io.ReadFull(f, data); err != nil {
				return nil, fmt.Errorf("failed to read data chunk: %w", err)
			}
		default:
			if _, err := f.Seek(int64(size), io.SeekCurrent); err != nil {
				return nil, fmt.Errorf("failed to skip %s chunk: %w", id, err)
			}
		}

		if data != nil && channels != 0 {
			break
		}
	}

	if channels != wavChannels || bitsPerSample != wavBitsPerSample {
		return nil, fmt.Errorf("expected mono 16-bit PCM, got %d channels %d bits", channels, bitsPerSample)
	}
	if data == nil {
		return nil, fmt.Errorf("wav has no data chunk")
	}

	samples := make([]float32, len(data)/2)
	for i := range samples {
		s := int16(binary.LittleEndian.Uint16(data[i*2 : i*2+2]))
		samples[i] = float32(s) / 32768.0
	}

	return samples, nil
}

// WriteWAV writes normalized float32 samples as a mono 16 kHz 16-bit PCM WAV
// file. Used to hand individual speech intervals to the transcriber.
func WriteWAV(path string, samples []float32) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create wav: %w", err)
	}
	defer f.Close()

	dataSize := len(samples) * 2
	if err := writeWAVHeader(f, dataSize); err != nil {
		return fmt.Errorf("failed to write wav header: %w", err)
	}

	buf := make([]byte, dataSize)
	for i, s := range samples {
		v := math.Round(float64(s) * 32768.0)
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		binary.LittleEndian.PutUint16(buf[i*2:i*2+2], uint16(int16(v)))
	}

	if _, err := f.Write(buf); err != nil {
		return fmt.Errorf("failed to write wav data: %w", err)
	}

	return nil
}

func writeWAVHeader(f *os.File, dataSize int) error {
	byteRate := SampleRate * wavChannels * wavBitsPerSample / 8
	blockAlign := wavChannels * wavBitsPerSample / 8

	var hdr [44]byte
	copy(hdr[0:4], "RIFF")
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(36+dataSize))
	copy(hdr[8:12], "WAVE")
	copy(hdr[12:16], "fmt ")
	binary.LittleEndian.PutUint32(hdr[16:20], 16)
	binary.LittleEndian.PutUint16(hdr[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(hdr[22:24], wavChannels)
	binary.LittleEndian.PutUint32(hdr[24:28], SampleRate)
	binary.LittleEndian.PutUint32(hdr[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(hdr[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(hdr[34:36], wavBitsPerSample)
	copy(hdr[36:40], "data")
	binary.LittleEndian.PutUint32(hdr[40:44], uint32(dataSize))

	_, err := f.Write(hdr[:])
	return err
}
