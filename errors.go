package scenecache

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/andreyvit/scenecache/indexedio"
)

var (
	ErrSceneNotFound   = errors.New("scene location not found")
	ErrIO              = errors.New("scene I/O error")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrOutOfOrderWrite = errors.New("out of order write")
	ErrLinkResolution  = errors.New("cannot resolve link")
	ErrCancelled       = errors.New("read cancelled")
)

// SceneError is returned by scene operations. Kind is one of the Err*
// sentinels; errors.Is matches both Kind and the underlying Err.
type SceneError struct {
	Kind  error
	File  string
	Path  Path
	Entry string
	Msg   string
	Err   error
}

func sceneErrf(kind error, file string, path Path, entry string, err error, format string, args ...any) error {
	var msg string
	if format != "" {
		msg = fmt.Sprintf(format, args...)
	}
	return &SceneError{Kind: kind, File: file, Path: path.Clone(), Entry: entry, Msg: msg, Err: err}
}

func (e *SceneError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func (e *SceneError) Error() string {
	var buf strings.Builder
	if e.File != "" {
		buf.WriteString(e.File)
		buf.WriteByte(':')
	}
	buf.WriteString(e.Path.String())
	if e.Entry != "" {
		buf.WriteString(" [")
		buf.WriteString(e.Entry)
		buf.WriteByte(']')
	}
	buf.WriteString(": ")
	if e.Msg != "" {
		buf.WriteString(e.Msg)
	} else {
		buf.WriteString(e.Kind.Error())
	}
	if e.Err != nil {
		buf.WriteString(": ")
		buf.WriteString(e.Err.Error())
	}
	return buf.String()
}

// LinkError reports a link whose target cannot be opened or navigated.
type LinkError struct {
	Path   Path
	Target string
	Err    error
}

func (e *LinkError) Unwrap() error {
	return e.Err
}

func (e *LinkError) Is(target error) bool {
	return target == ErrLinkResolution
}

func (e *LinkError) Error() string {
	return fmt.Sprintf("%v: cannot resolve link to %s: %v", e.Path, e.Target, e.Err)
}

// DataError reports undecodable stored bytes.
type DataError struct {
	Data []byte
	Off  int
	Err  error
	Msg  string
}

func dataErrf(data []byte, off int, err error, format string, args ...any) error {
	return &DataError{data, off, err, fmt.Sprintf(format, args...)}
}

func (e *DataError) Unwrap() error {
	return e.Err
}

func (e *DataError) Error() string {
	const prefixLen = 64
	const suffixLen = 32
	n := len(e.Data)
	if n <= prefixLen+suffixLen {
		if e.Err != nil {
			return fmt.Sprintf("%s: %v: (%d) %x", e.Msg, e.Err, n, e.Data)
		} else {
			return fmt.Sprintf("%s: (%d) %x", e.Msg, n, e.Data)
		}
	} else {
		p, s := e.Data[:prefixLen], e.Data[n-suffixLen:]
		if e.Err != nil {
			return fmt.Sprintf("%s: %v: (%d) %x...%x", e.Msg, e.Err, n, p, s)
		} else {
			return fmt.Sprintf("%s: (%d) %x...%x", e.Msg, n, p, s)
		}
	}
}

// classify maps container and codec failures onto the scene error kinds.
func classify(err error) error {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ErrCancelled
	case errors.Is(err, indexedio.ErrIncompatibleEntry), errors.Is(err, indexedio.ErrInvalidName),
		errors.Is(err, indexedio.ErrUnsupportedMode):
		return ErrInvalidArgument
	default:
		return ErrIO
	}
}

// wrapErr attaches a location to err, leaving scene and link errors intact.
func wrapErr(file string, path Path, entry string, err error) error {
	if err == nil {
		return nil
	}
	var se *SceneError
	var le *LinkError
	if errors.As(err, &se) || errors.As(err, &le) {
		return err
	}
	return sceneErrf(classify(err), file, path, entry, err, "")
}

func checkCtx(ctx context.Context, file string, path Path) error {
	if ctx == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return sceneErrf(ErrCancelled, file, path, "", err, "")
	}
	return nil
}
