package builtin

import (
	"bytes"
	"errors"
	"io"
	"os"
	"unicode/utf8"
)

// cappedBuffer keeps the first limit bytes written to it and counts the rest.
// Writes never fail, so a chatty child is not killed by a short write.
type cappedBuffer struct {
	buf   bytes.Buffer
	limit int
	total int
}

func newCappedBuffer(limit int) *cappedBuffer {
	return &cappedBuffer{limit: limit}
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	b.total += len(p)
	if room := b.limit - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *cappedBuffer) String() string  { return b.buf.String() }
func (b *cappedBuffer) Total() int      { return b.total }
func (b *cappedBuffer) Truncated() bool { return b.total > b.buf.Len() }

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

const sniffLen = 8000

// isBinary reports whether data looks like a binary file: a NUL byte in the
// leading block.
func isBinary(data []byte) bool {
	if len(data) > sniffLen {
		data = data[:sniffLen]
	}
	return bytes.IndexByte(data, 0) >= 0
}

// isBinaryFile sniffs the head of the file at path. Unreadable files count
// as binary so that callers skip them.
func isBinaryFile(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return true
	}
	defer f.Close()
	head := make([]byte, sniffLen)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return true
	}
	return isBinary(head[:n])
}
