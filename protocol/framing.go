package protocol

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
)

const (
	contentLength = "Content-Length: "
	// MaxContentLength bounds a single message body
	MaxContentLength = 64 << 20
)

// Encode returns the framed wire form of msg
func Encode(msg *Message) ([]byte, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %v: %w", msg, err)
	}
	buf := bytes.NewBuffer(make([]byte, 0, len(body)+32))
	fmt.Fprintf(buf, "%s%d\r\n\r\n", contentLength, len(body))
	buf.Write(body)
	return buf.Bytes(), nil
}

// Writer writes framed messages; each message is flushed whole
type Writer struct {
	mu sync.Mutex
	w  *bufio.Writer
}

// NewWriter creates a writer
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: bufio.NewWriter(w)}
}

// Write frames and flushes msg
func (w *Writer) Write(msg *Message) error {
	frame, err := Encode(msg)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err = w.w.Write(frame); err != nil {
		return fmt.Errorf("failed to write %v: %w", msg, err)
	}
	if err = w.w.Flush(); err != nil {
		return fmt.Errorf("failed to flush %v: %w", msg, err)
	}
	return nil
}

// Reader reads framed messages, skipping malformed headers and undecodable bodies
type Reader struct {
	r      *bufio.Reader
	logger *slog.Logger
}

// NewReader creates a reader
func NewReader(r io.Reader, logger *slog.Logger) *Reader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reader{r: bufio.NewReader(r), logger: logger}
}

// Read returns the next well-formed message, or io.EOF once the stream ends
func (r *Reader) Read() (*Message, error) {
	for {
		length, err := r.header()
		if err != nil {
			return nil, err
		}
		body := make([]byte, length)
		if _, err = io.ReadFull(r.r, body); err != nil {
			if err == io.ErrUnexpectedEOF {
				return nil, io.EOF
			}
			return nil, err
		}
		msg := &Message{}
		if err = json.Unmarshal(body, msg); err != nil {
			r.logger.Warn("skipping undecodable message", slog.String("error", err.Error()), slog.Int("length", length))
			continue
		}
		return msg, nil
	}
}

// header consumes header lines up to the blank separator and returns the announced length
func (r *Reader) header() (int, error) {
	length := -1
	for {
		line, err := r.r.ReadString('\n')
		if err != nil {
			if err == io.EOF && strings.TrimSpace(line) != "" {
				r.logger.Warn("truncated header", slog.String("line", line))
			}
			return 0, err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			if length >= 0 {
				return length, nil
			}
			continue
		}
		index := strings.Index(line, contentLength)
		if index == -1 {
			continue
		}
		if index > 0 {
			r.logger.Warn("discarding bytes before header", slog.String("garbage", line[:index]))
		}
		value := strings.TrimSpace(line[index+len(contentLength):])
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 || n > MaxContentLength {
			r.logger.Warn("skipping malformed header", slog.String("line", line))
			length = -1
			continue
		}
		length = n
	}
}
