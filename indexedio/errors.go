package indexedio

import (
	"errors"
	"strings"
)

var (
	ErrNotFound          = errors.New("entry not found")
	ErrReadOnly          = errors.New("container is read-only")
	ErrIncompatibleEntry = errors.New("entry exists with a different type")
	ErrInvalidName       = errors.New("invalid entry name")
	ErrUnsupportedMode   = errors.New("unsupported mode")
	ErrClosed            = errors.New("container is closed")
	ErrCorrupt           = errors.New("corrupt container")
)

// EntryError names the container location an operation failed at.
type EntryError struct {
	File  string
	Path  []string
	Entry string
	Err   error
}

func entryErr(f *File, path []string, entry string, err error) error {
	if err == nil {
		return nil
	}
	var ee *EntryError
	if errors.As(err, &ee) {
		return err
	}
	if err == errIncompatible {
		err = ErrIncompatibleEntry
	}
	if err == errBucketNotFound {
		err = ErrNotFound
	}
	var name string
	if f != nil {
		name = f.name
	}
	return &EntryError{File: name, Path: path, Entry: entry, Err: err}
}

func (e *EntryError) Unwrap() error {
	return e.Err
}

func (e *EntryError) Error() string {
	var buf strings.Builder
	if e.File != "" {
		buf.WriteString(e.File)
		buf.WriteByte(':')
	}
	buf.WriteString(FormatPath(e.Path))
	if e.Entry != "" {
		if len(e.Path) > 0 {
			buf.WriteByte('/')
		}
		buf.WriteString(e.Entry)
	}
	if e.Err != nil {
		buf.WriteString(": ")
		buf.WriteString(e.Err.Error())
	}
	return buf.String()
}

// FormatPath renders a directory path as /a/b, or / for the root.
func FormatPath(path []string) string {
	if len(path) == 0 {
		return "/"
	}
	return "/" + strings.Join(path, "/")
}
