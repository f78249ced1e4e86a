// Package tail follows a growing file by name and streams its lines.
//
// The file may not exist when the service opens, and it may be truncated or
// replaced while it is followed; reading resumes transparently in every case.
package tail

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/fsnotify/fsnotify"
	"github.com/gf2influx/gf2influx/keyvalue"
	"github.com/gf2influx/gf2influx/services/stats"
	"github.com/pkg/errors"
)

type Diagnostic interface {
	Error(msg string, err error, ctx ...keyvalue.T)
	WaitingForFile(path string)
	OpenedFile(path string, offset int64)
	Truncated(path string, offset int64)
	Recreated(path string)
	WatcherUnavailable(err error)
	ClosedService()
}

type Service struct {
	config Config
	path   string
	diag   Diagnostic

	lines   chan []byte
	errs    chan error
	wake    chan struct{}
	closing chan struct{}
	wg      sync.WaitGroup
	watcher *fsnotify.Watcher

	// reader state, owned by the follow goroutine
	f       *os.File
	r       *bufio.Reader
	offset  int64
	partial []byte
	waiting bool

	Clock   clock.Clock
	Metrics *stats.Metrics
}

func NewService(c Config, d Diagnostic) *Service {
	return &Service{
		config:  c,
		path:    filepath.Clean(c.Path),
		diag:    d,
		lines:   make(chan []byte, c.Buffer),
		errs:    make(chan error, 1),
		wake:    make(chan struct{}, 1),
		Clock:   clock.New(),
		Metrics: stats.NewLocalMetrics(),
	}
}

// Lines returns the stream of lines. Every line but a partial one left behind by
// truncation or replacement ends with a newline.
func (s *Service) Lines() <-chan []byte {
	return s.lines
}

// Ready reports whether a line can be received without blocking.
func (s *Service) Ready() bool {
	return len(s.lines) > 0
}

// Err returns a channel that receives an error when the stream is lost for good.
func (s *Service) Err() <-chan error {
	return s.errs
}

func (s *Service) Open() error {
	if s.closing != nil {
		return errors.New("service already open")
	}
	s.closing = make(chan struct{})

	w, err := fsnotify.NewWatcher()
	if err == nil {
		err = w.Add(filepath.Dir(s.path))
		if err != nil {
			w.Close()
		}
	}
	if err != nil {
		s.diag.WatcherUnavailable(err)
	} else {
		s.watcher = w
		s.wg.Add(1)
		go s.watch()
	}

	// The ticker is created here so that a mocked clock observes it before Open returns.
	ticker := s.Clock.Ticker(time.Duration(s.config.PollInterval))
	s.wg.Add(1)
	go s.follow(ticker)
	return nil
}

func (s *Service) Close() error {
	if s.closing == nil {
		return errors.New("service already closed")
	}
	close(s.closing)
	var err error
	if s.watcher != nil {
		err = s.watcher.Close()
	}
	s.wg.Wait()
	s.closing = nil
	s.watcher = nil
	s.diag.ClosedService()
	return err
}

func (s *Service) watch() {
	defer s.wg.Done()
	for {
		select {
		case <-s.closing:
			return
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != s.path {
				continue
			}
			select {
			case s.wake <- struct{}{}:
			default:
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			// Notifications only shorten the wait; polling keeps the file followed.
			s.diag.Error("file watcher error", err, keyvalue.KV("path", s.path))
		}
	}
}

func (s *Service) follow(ticker *clock.Ticker) {
	defer s.wg.Done()
	defer ticker.Stop()
	defer s.closeFile()

	startup := true
	for {
		if err := s.poll(startup); err != nil {
			s.diag.Error("lost followed file", err, keyvalue.KV("path", s.path))
			select {
			case s.errs <- err:
			default:
			}
			return
		}
		startup = false

		select {
		case <-s.closing:
			return
		case <-ticker.C:
		case <-s.wake:
		}
	}
}

// poll reads every complete line currently available and handles truncation
// and replacement of the file.
func (s *Service) poll(startup bool) error {
	for {
		if s.f == nil {
			opened, err := s.open(startup)
			startup = false
			if err != nil || !opened {
				return err
			}
		}
		if err := s.readLines(); err != nil {
			if err == errClosing {
				return nil
			}
			return err
		}
		changed, err := s.checkFile()
		if err != nil {
			return err
		}
		if !changed {
			return nil
		}
	}
}

var errClosing = errors.New("closing")

func (s *Service) open(startup bool) (bool, error) {
	f, err := os.Open(s.path)
	if os.IsNotExist(err) {
		if !s.waiting {
			s.waiting = true
			s.diag.WaitingForFile(s.path)
		}
		return false, nil
	} else if err != nil {
		return false, errors.Wrapf(err, "failed to open %s", s.path)
	}
	s.waiting = false

	var offset int64
	if startup && !s.config.FromStart {
		offset, err = f.Seek(0, io.SeekEnd)
		if err != nil {
			f.Close()
			return false, errors.Wrapf(err, "failed to seek to end of %s", s.path)
		}
	}
	s.f = f
	s.r = bufio.NewReaderSize(f, 64*1024)
	s.offset = offset
	s.diag.OpenedFile(s.path, offset)
	return true, nil
}

func (s *Service) readLines() error {
	for {
		data, err := s.r.ReadBytes('\n')
		s.offset += int64(len(data))
		s.Metrics.BytesRead.Add(float64(len(data)))
		if err == nil {
			line := data
			if len(s.partial) > 0 {
				line = append(s.partial, data...)
				s.partial = nil
			}
			if !s.emit(line) {
				return errClosing
			}
			continue
		}
		if err != io.EOF {
			return errors.Wrapf(err, "failed to read %s", s.path)
		}
		if len(data) > 0 {
			s.partial = append(s.partial, data...)
			if len(s.partial) > s.config.MaxLineSize {
				if !s.flushPartial() {
					return errClosing
				}
			}
		}
		return nil
	}
}

// checkFile compares the open handle with the path and reports whether reading
// must start over.
func (s *Service) checkFile() (bool, error) {
	current, err := s.f.Stat()
	if err != nil {
		return false, errors.Wrapf(err, "failed to stat open %s", s.path)
	}
	named, err := os.Stat(s.path)
	if os.IsNotExist(err) {
		// Removed; keep the handle until the path comes back.
		return false, nil
	} else if err != nil {
		return false, errors.Wrapf(err, "failed to stat %s", s.path)
	}

	if !os.SameFile(current, named) {
		s.Metrics.FileRotations.WithLabelValues("recreated").Inc()
		s.diag.Recreated(s.path)
		if !s.flushPartial() {
			return false, nil
		}
		s.closeFile()
		return true, nil
	}

	if current.Size() < s.offset {
		s.Metrics.FileRotations.WithLabelValues("truncated").Inc()
		s.diag.Truncated(s.path, s.offset)
		if !s.flushPartial() {
			return false, nil
		}
		if _, err := s.f.Seek(0, io.SeekStart); err != nil {
			return false, errors.Wrapf(err, "failed to rewind %s", s.path)
		}
		s.r.Reset(s.f)
		s.offset = 0
		return true, nil
	}
	return false, nil
}

// flushPartial delivers a line that will never be completed.
func (s *Service) flushPartial() bool {
	if len(s.partial) == 0 {
		return true
	}
	line := s.partial
	s.partial = nil
	return s.emit(line)
}

func (s *Service) emit(line []byte) bool {
	select {
	case s.lines <- line:
		s.Metrics.LinesRead.Inc()
		return true
	case <-s.closing:
		return false
	}
}

func (s *Service) closeFile() {
	if s.f != nil {
		s.f.Close()
		s.f = nil
		s.r = nil
	}
}
