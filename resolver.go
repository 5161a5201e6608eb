package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/Shimmur/loggenerator/cache"
	"github.com/nxadm/tail"
	log "github.com/sirupsen/logrus"
)

// How far back from the end of a file we start reading to find its last line
const lastLineWindow = 64 * 1024

// A ContinuationResolver finds the timestamp a new batch should follow on
// from. A missing or unusable timestamp is not an error: ok is false and the
// batch starts from the current time.
type ContinuationResolver interface {
	LastTimestamp(path string) (ts time.Time, ok bool, err error)
}

// ContinueFrom returns the first timestamp of a batch that follows a file
// whose last line was written at last.
func ContinueFrom(last time.Time) time.Time {
	return last.Add(time.Second)
}

// A TailResolver reads the last line of the file and pulls the bracketed
// timestamp out of it. This is a heuristic: lines in any other format are
// simply treated as having no timestamp.
type TailResolver struct {
	Window int64
}

func NewTailResolver() *TailResolver {
	return &TailResolver{Window: lastLineWindow}
}

func (r *TailResolver) LastTimestamp(path string) (time.Time, bool, error) {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		log.Debugf("No existing log at %s, starting from now", path)
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	if info.IsDir() {
		return time.Time{}, false, fmt.Errorf("failed to read last line of %s: is a directory", path)
	}

	if info.Size() == 0 {
		log.Debugf("Log at %s is empty, starting from now", path)
		return time.Time{}, false, nil
	}

	var offset int64
	if r.Window > 0 && info.Size() > r.Window {
		offset = info.Size() - r.Window
	}

	line, count, err := lastLine(path, offset)
	if err != nil {
		return time.Time{}, false, err
	}

	// The window only caught the tail end of one long line
	if count < 2 && offset > 0 {
		line, _, err = lastLine(path, 0)
		if err != nil {
			return time.Time{}, false, err
		}
	}

	ts, ok := parseLineTimestamp(line)
	if !ok {
		log.Debugf("No usable timestamp on last line of %s, starting from now", path)
	}

	return ts, ok, nil
}

// lastLine runs a non-following tail on the file from offset and returns the
// final line it saw, along with how many lines were read.
func lastLine(path string, offset int64) (string, int, error) {
	tailed, err := tail.TailFile(path, tail.Config{
		MustExist: true,
		Follow:    false,
		ReOpen:    false,
		Logger:    tail.DiscardingLogger,
		Location:  &tail.SeekInfo{Offset: offset, Whence: io.SeekStart},
	})
	if err != nil {
		return "", 0, fmt.Errorf("failed to read last line of %s: %w", path, err)
	}

	var (
		last    string
		count   int
		lineErr error
	)

	// Lines is closed once the tail reaches EOF
	for l := range tailed.Lines {
		if l.Err != nil {
			lineErr = l.Err
			continue
		}
		last = l.Text
		count++
	}

	if lineErr != nil {
		_ = tailed.Stop()
		return "", 0, fmt.Errorf("failed to read last line of %s: %w", path, lineErr)
	}

	// Read and seek failures kill the tail rather than arriving on a Line
	if err := tailed.Stop(); err != nil {
		return "", 0, fmt.Errorf("failed to read last line of %s: %w", path, err)
	}

	return last, count, nil
}

// parseLineTimestamp takes the text between the first '[' and the ']' that
// follows it and parses it as a log timestamp.
func parseLineTimestamp(line string) (time.Time, bool) {
	start := strings.IndexByte(line, '[')
	if start < 0 {
		return time.Time{}, false
	}

	end := strings.IndexByte(line[start+1:], ']')
	if end < 0 {
		return time.Time{}, false
	}

	ts, err := time.Parse(TimestampLayout, line[start+1:start+1+end])
	if err != nil {
		return time.Time{}, false
	}

	return ts, true
}

// A CachingResolver answers from the timestamps this process has already
// written, falling back to the wrapped resolver for files it has not touched.
type CachingResolver struct {
	resolver ContinuationResolver
	cache    *cache.Cache
}

func NewCachingResolver(resolver ContinuationResolver, cache *cache.Cache) *CachingResolver {
	return &CachingResolver{resolver: resolver, cache: cache}
}

func (r *CachingResolver) LastTimestamp(path string) (time.Time, bool, error) {
	if ts, ok := r.cache.Get(path); ok {
		return ts, true, nil
	}

	return r.resolver.LastTimestamp(path)
}

// Record stores the last timestamp written to path
func (r *CachingResolver) Record(path string, last time.Time) {
	r.cache.Add(path, last)
}
