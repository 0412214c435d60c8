// Package pagestore provides fixed size page storage for the record log.
package pagestore

import (
	"io"
	"os"
	"sync"

	"github.com/pkg/errors"
)

// DefaultPageSize is the page size of the record log media.
const DefaultPageSize = 512

// ErrPageSize is returned when the buffer is not exactly one page.
var ErrPageSize = errors.New("buffer is not one page")

// Driver reads and writes whole pages by page number. A non-nil error
// is a non-zero page status.
type Driver interface {
	PageSize() int
	ReadPage(page uint32, buf []byte) error
	WritePage(page uint32, buf []byte) error
}

func erase(buf []byte) {
	for i := range buf {
		buf[i] = 0xff
	}
}

// Mem is an in-memory Driver. Pages never written read as erased.
type Mem struct {
	Size int
	// Fail makes every access return the error.
	Fail error

	pages map[uint32][]byte
	lock  sync.Mutex
}

// NewMem creates an in-memory page store.
func NewMem(pageSize int) *Mem {
	return &Mem{Size: pageSize, pages: make(map[uint32][]byte)}
}

// PageSize implements Driver.
func (m *Mem) PageSize() int {
	return m.Size
}

// ReadPage implements Driver.
func (m *Mem) ReadPage(page uint32, buf []byte) error {
	if len(buf) != m.Size {
		return ErrPageSize
	}
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.Fail != nil {
		return m.Fail
	}
	if p, ok := m.pages[page]; ok {
		copy(buf, p)
	} else {
		erase(buf)
	}
	return nil
}

// WritePage implements Driver.
func (m *Mem) WritePage(page uint32, buf []byte) error {
	if len(buf) != m.Size {
		return ErrPageSize
	}
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.Fail != nil {
		return m.Fail
	}
	m.pages[page] = append([]byte(nil), buf...)
	return nil
}

// Pages returns the number of pages written.
func (m *Mem) Pages() int {
	m.lock.Lock()
	defer m.lock.Unlock()
	return len(m.pages)
}

// File is a Driver backed by a file, page N at offset N*PageSize.
type File struct {
	size int
	f    *os.File
	lock sync.Mutex
}

// OpenFile opens or creates the page file at path.
func OpenFile(path string, pageSize int) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, errors.Wrapf(err, "open page file %s", path)
	}
	return &File{size: pageSize, f: f}, nil
}

// PageSize implements Driver.
func (s *File) PageSize() int {
	return s.size
}

// ReadPage implements Driver.
func (s *File) ReadPage(page uint32, buf []byte) error {
	if len(buf) != s.size {
		return ErrPageSize
	}
	s.lock.Lock()
	defer s.lock.Unlock()
	n, err := s.f.ReadAt(buf, int64(page)*int64(s.size))
	if err != nil && err != io.EOF {
		return errors.Wrapf(err, "read page %d", page)
	}
	erase(buf[n:])
	return nil
}

// WritePage implements Driver.
func (s *File) WritePage(page uint32, buf []byte) error {
	if len(buf) != s.size {
		return ErrPageSize
	}
	s.lock.Lock()
	defer s.lock.Unlock()
	if _, err := s.f.WriteAt(buf, int64(page)*int64(s.size)); err != nil {
		return errors.Wrapf(err, "write page %d", page)
	}
	return nil
}

// Sync flushes the file to disk.
func (s *File) Sync() error {
	return errors.Wrap(s.f.Sync(), "sync page file")
}

// Close closes the file.
func (s *File) Close() error {
	return s.f.Close()
}
