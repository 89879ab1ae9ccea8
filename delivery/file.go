package delivery

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/vinayprograms/activitykit/errors"
)

// FileSender appends each batch body as one line of a JSONL file.
// Useful for offline capture when no collector is running.
type FileSender struct {
	file *os.File
	mu   sync.Mutex
}

var _ Sender = (*FileSender)(nil)

// NewFileSender opens path for appending, creating it if needed.
func NewFileSender(path string) (*FileSender, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening batch file: %w", err)
	}
	return &FileSender{file: file}, nil
}

// Send writes p.Body followed by a newline.
func (s *FileSender) Send(_ context.Context, p Payload) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	line := make([]byte, 0, len(p.Body)+1)
	line = append(line, p.Body...)
	line = append(line, '\n')
	if _, err := s.file.Write(line); err != nil {
		return errors.WrapWithCode(err, errors.ErrCodeUnavailable, "writing batch file")
	}
	return nil
}

// Close syncs and closes the file.
func (s *FileSender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.file.Sync()
	return s.file.Close()
}
