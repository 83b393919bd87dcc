package sinks

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
	"github.com/tarungka/pipes/internal/logger"
)

type FileConfig struct {
	Path string `koanf:"path" json:"path"`
}

// fileLine is one appended message. Value is kept raw when it is JSON.
type fileLine struct {
	Key     string            `json:"key"`
	Value   json.RawMessage   `json:"value,omitempty"`
	Text    string            `json:"text,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

// FileAppender appends messages as JSON lines to a local file. It is an
// append target with a single partition.
type FileAppender struct {
	mu     sync.Mutex
	path   string
	file   *os.File
	logger zerolog.Logger
}

func NewFileAppender(cfg FileConfig) (*FileAppender, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("file sink: path is required")
	}
	l := logger.GetLogger("sink").With().Str("type", TypeFile).Str("file_path", cfg.Path).Logger()
	l.Trace().Msg("Opening file for writing")

	if dir := filepath.Dir(cfg.Path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			l.Err(err).Msg("Failed to create directories")
			return nil, err
		}
	}
	file, err := os.OpenFile(cfg.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		l.Err(err).Msg("Failed to open file")
		return nil, err
	}
	return &FileAppender{path: cfg.Path, file: file, logger: l}, nil
}

func (f *FileAppender) Append(_ context.Context, msgs []Message) []error {
	f.mu.Lock()
	defer f.mu.Unlock()
	errs := make([]error, len(msgs))
	if f.file == nil {
		for i := range errs {
			errs[i] = ErrClosed
		}
		return errs
	}

	w := bufio.NewWriter(f.file)
	for i, m := range msgs {
		line := fileLine{Key: m.Key, Headers: m.Headers}
		if json.Valid(m.Value) {
			line.Value = m.Value
		} else {
			line.Text = string(m.Value)
		}
		b, err := json.Marshal(line)
		if err != nil {
			errs[i] = Reject(err)
			continue
		}
		b = append(b, '\n')
		if _, err := w.Write(b); err != nil {
			errs[i] = err
		}
	}
	if err := w.Flush(); err != nil {
		f.logger.Err(err).Msg("Error writing to file")
		for i := range errs {
			if errs[i] == nil {
				errs[i] = err
			}
		}
	}
	return errs
}

func (f *FileAppender) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.file == nil {
		return nil
	}
	f.logger.Info().Msg("Closing file sink")
	err := f.file.Close()
	f.file = nil
	return err
}
