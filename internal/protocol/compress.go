package protocol

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// compressThreshold — минимальный размер полезной нагрузки, при котором
// сжатие имеет смысл. Маленькие сообщения (Input, Ack) отправляются как есть.
const compressThreshold = 256

// Compressor инкапсулирует zstd кодер/декодер для полезных нагрузок.
// Потокобезопасен: EncodeAll/DecodeAll не имеют разделяемого состояния кадра.
type Compressor struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// NewCompressor создаёт компрессор с настройками по умолчанию
func NewCompressor() (*Compressor, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	return &Compressor{enc: enc, dec: dec}, nil
}

// Compress сжимает данные
func (c *Compressor) Compress(data []byte) []byte {
	return c.enc.EncodeAll(data, nil)
}

// Decompress распаковывает данные
func (c *Compressor) Decompress(data []byte) ([]byte, error) {
	return c.dec.DecodeAll(data, nil)
}

// Close освобождает ресурсы кодера
func (c *Compressor) Close() {
	c.enc.Close()
	c.dec.Close()
}
