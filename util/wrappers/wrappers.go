// Package wrappers keeps the repl from closing the process' stdin and stdout
package wrappers

import (
	"errors"
	"io"
	"sync/atomic"
)

var ErrClosed = errors.New("closed")

// ReaderWrapper fails reads once closed without closing the wrapped reader
type ReaderWrapper struct {
	closed  atomic.Bool
	wrapped io.Reader
}

func NewReaderWrapper(wraps io.Reader) *ReaderWrapper {
	return &ReaderWrapper{wrapped: wraps}
}

// Close implements repl.ReadCloser.
func (r *ReaderWrapper) Close() error {
	r.closed.Store(true)
	return nil
}

// Read implements repl.ReadCloser.
func (r *ReaderWrapper) Read(p []byte) (n int, err error) {
	if r.closed.Load() {
		return 0, ErrClosed
	}
	return r.wrapped.Read(p)
}

// WriterWrapper fails writes once closed without closing the wrapped writer
type WriterWrapper struct {
	closed  atomic.Bool
	wrapped io.Writer
}

func NewWriterWrapper(wraps io.Writer) *WriterWrapper {
	return &WriterWrapper{wrapped: wraps}
}

func (w *WriterWrapper) Close() error {
	w.closed.Store(true)
	return nil
}

func (w *WriterWrapper) Write(p []byte) (n int, err error) {
	if w.closed.Load() {
		return 0, ErrClosed
	}
	return w.wrapped.Write(p)
}
