package main

import (
	"context"
	"fmt"
	"io/ioutil"
	"os"
	"strings"
	"time"

	"github.com/Nitro/sidecar-executor/loghooks"
	limiter "github.com/sethvargo/go-limiter"
	"github.com/sethvargo/go-limiter/memorystore"
	log "github.com/sirupsen/logrus"
)

// A LogOutput receives each generated batch for one log file
type LogOutput interface {
	Log(lines []string) error
	Stop()
}

// An OutputFactory builds the output chain for one log file of one server
type OutputFactory func(serverName string, kind LogKind, path string) (LogOutput, error)

// A FileAppender appends batches to a file on disk. It never truncates: the
// file is opened for append on every batch and created if missing.
type FileAppender struct {
	Path string
}

func NewFileAppender(path string) *FileAppender {
	return &FileAppender{Path: path}
}

func (f *FileAppender) Log(lines []string) error {
	file, err := os.OpenFile(f.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", f.Path, err)
	}

	// Nothing to add, but the file should still exist afterward
	if len(lines) == 0 {
		return file.Close()
	}

	_, err = file.WriteString(strings.Join(lines, "\n") + "\n")
	if err != nil {
		file.Close()
		return fmt.Errorf("failed to append to %s: %w", f.Path, err)
	}

	if err := file.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", f.Path, err)
	}

	return nil
}

// Stop is a noop, files are closed after every batch
func (f *FileAppender) Stop() {}

// A TeeOutput hands every batch to each of its outputs in order
type TeeOutput []LogOutput

func (t TeeOutput) Log(lines []string) error {
	for _, output := range t {
		if err := output.Log(lines); err != nil {
			return err
		}
	}
	return nil
}

func (t TeeOutput) Stop() {
	for _, output := range t {
		output.Stop()
	}
}

// A UDPSyslogMirror relays generated lines as JSON events to a UDP syslog
// listener so they can be fed into a log pipeline as well as written to disk.
// Delivery is best effort.
type UDPSyslogMirror struct {
	syslogger *log.Entry
}

func NewUDPSyslogMirror(labels map[string]string, address string) (*UDPSyslogMirror, error) {
	syslogger := log.New()

	hook, err := loghooks.NewUDPHook(address)
	if err != nil {
		return nil, fmt.Errorf("failed to add syslog hook for %s: %w", address, err)
	}

	syslogger.Hooks.Add(hook)
	syslogger.SetFormatter(&log.JSONFormatter{
		FieldMap: log.FieldMap{
			log.FieldKeyTime:  "Timestamp",
			log.FieldKeyLevel: "Level",
			log.FieldKeyMsg:   "Payload",
			log.FieldKeyFunc:  "Func",
		},
	})
	syslogger.SetOutput(ioutil.Discard)

	fields := make(log.Fields, len(labels))
	for field, val := range labels {
		fields[field] = val
	}

	return &UDPSyslogMirror{
		syslogger: syslogger.WithFields(fields),
	}, nil
}

func (sysl *UDPSyslogMirror) Log(lines []string) error {
	for _, line := range lines {
		// Same heuristic as sidecar-executor for picking out errors
		lower := strings.ToLower(line)
		if strings.Contains(lower, "error") || strings.Contains(lower, "critical") {
			sysl.syslogger.Error(line)
			continue
		}

		sysl.syslogger.Info(line)
	}

	return nil
}

// Stop would clean up any resources if we needed to manage any
func (sysl *UDPSyslogMirror) Stop() { /* noop */ }

// A RateLimitingOutput wraps another LogOutput and holds the line rate down to
// a fixed number per second. Batches are handed downstream in chunks as the
// tokens become available.
type RateLimitingOutput struct {
	limitStore limiter.Store
	output     LogOutput
	limitKey   string

	linesPerSecond int
	sleep          func(time.Duration)
}

func NewRateLimitingOutput(linesPerSecond int, key string, output LogOutput) (*RateLimitingOutput, error) {
	store, err := memorystore.New(&memorystore.Config{
		// Number of tokens allowed per interval.
		Tokens: uint64(linesPerSecond),

		// Interval until tokens reset.
		Interval: time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("unable to create memory store: %w", err)
	}

	return &RateLimitingOutput{
		limitStore: store,
		output:     output,
		limitKey:   key,

		linesPerSecond: linesPerSecond,
		sleep:          time.Sleep,
	}, nil
}

// waitForToken blocks until the limiter hands out a token
func (r *RateLimitingOutput) waitForToken() error {
	for {
		limit, remaining, reset, ok, err := r.limitStore.Take(context.Background(), r.limitKey)
		log.Debugf("Checking rate limit: %d %d %d %t", limit, remaining, reset, ok)
		if err != nil {
			return fmt.Errorf("unable to fetch rate limit for %s: %w", r.limitKey, err)
		}

		if ok {
			return nil
		}

		r.sleep(time.Until(time.Unix(0, int64(reset))))
	}
}

func (r *RateLimitingOutput) Log(lines []string) error {
	start := 0
	for i := range lines {
		if err := r.waitForToken(); err != nil {
			return err
		}

		// Flush a chunk each time a full bucket's worth has gone by
		if r.chunkFull(i - start + 1) {
			if err := r.output.Log(lines[start : i+1]); err != nil {
				return err
			}
			start = i + 1
		}
	}

	if start < len(lines) || len(lines) == 0 {
		return r.output.Log(lines[start:])
	}

	return nil
}

func (r *RateLimitingOutput) chunkFull(pending int) bool {
	return pending >= r.linesPerSecond
}

// Stop cleans up our resources on shutdown
func (r *RateLimitingOutput) Stop() {
	_ = r.limitStore.Close(context.Background())
	r.output.Stop()
}
