package recorder

import (
	"bytes"

	"github.com/xitongsys/parquet-go/source"
)

// memoryFile implements the ParquetFile interface over a byte buffer so
// batches can be encoded without touching disk first.
type memoryFile struct {
	buffer *bytes.Buffer
}

func newMemoryFile() *memoryFile {
	return &memoryFile{buffer: &bytes.Buffer{}}
}

func (f *memoryFile) Create(string) (source.ParquetFile, error) {
	return f, nil
}

func (f *memoryFile) Open(string) (source.ParquetFile, error) {
	return f, nil
}

// Seek is a stub: the writer only appends.
func (f *memoryFile) Seek(int64, int) (int64, error) {
	return int64(f.buffer.Len()), nil
}

func (f *memoryFile) Read(b []byte) (int, error) {
	return f.buffer.Read(b)
}

func (f *memoryFile) Write(b []byte) (int, error) {
	return f.buffer.Write(b)
}

func (f *memoryFile) Close() error {
	return nil
}

func (f *memoryFile) Bytes() []byte {
	return f.buffer.Bytes()
}
