package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	director "github.com/relistan/go-director"
	log "github.com/sirupsen/logrus"
)

var logKinds = []LogKind{AccessLog, ErrorLog}

// A timestampRecorder is told the last timestamp written to each file, so a
// resolver can answer later rounds without re-reading.
type timestampRecorder interface {
	Record(path string, last time.Time)
}

// A BatchSummary describes what one pass over all servers appended
type BatchSummary struct {
	LinesPerFile int
	Servers      int
	Files        int
	TotalLines   int
}

func (s *BatchSummary) String() string {
	return fmt.Sprintf("%d new log lines appended for %d servers.", s.LinesPerFile, s.Servers)
}

// A ServerFanout generates a batch for every log file of every configured
// server, one server at a time.
type ServerFanout struct {
	BaseDir      string
	ServerPrefix string
	NumServers   int
	LinesPerFile int

	synth    *Synthesizer
	resolver ContinuationResolver
	outputs  OutputFactory

	// Called after each batch is appended
	OnBatch func(serverName string, kind LogKind, lines int)
}

// NewServerFanout configures a ServerFanout from the config. A nil outputs
// factory means plain file appends.
func NewServerFanout(config *Config, synth *Synthesizer,
	resolver ContinuationResolver, outputs OutputFactory) *ServerFanout {

	if outputs == nil {
		outputs = FileOutputs
	}

	return &ServerFanout{
		BaseDir:      config.BaseDir,
		ServerPrefix: config.ServerPrefix,
		NumServers:   config.NumServers,
		LinesPerFile: config.LinesPerFile,
		synth:        synth,
		resolver:     resolver,
		outputs:      outputs,
	}
}

// FileOutputs is the OutputFactory that only appends to disk
func FileOutputs(_ string, _ LogKind, path string) (LogOutput, error) {
	return NewFileAppender(path), nil
}

// ServerName returns the directory name of server number i, counting from 1
func (f *ServerFanout) ServerName(i int) string {
	return fmt.Sprintf("%s_%d", f.ServerPrefix, i)
}

// RunOnce appends one batch to each log of every server. The first error
// stops the run.
func (f *ServerFanout) RunOnce() (*BatchSummary, error) {
	err := os.MkdirAll(f.BaseDir, 0755)
	if err != nil {
		return nil, fmt.Errorf("failed to create base dir %s: %w", f.BaseDir, err)
	}

	summary := &BatchSummary{LinesPerFile: f.LinesPerFile}

	for i := 1; i <= f.NumServers; i++ {
		serverName := f.ServerName(i)

		written, err := f.writeServer(serverName)
		if err != nil {
			return nil, err
		}

		summary.Servers++
		summary.Files += len(logKinds)
		summary.TotalLines += written
	}

	return summary, nil
}

// Run calls RunOnce on every iteration of the looper. Errors stop the looper
// and are returned from its Wait().
func (f *ServerFanout) Run(looper director.Looper, onRound func(*BatchSummary)) {
	looper.Loop(func() error {
		summary, err := f.RunOnce()
		if err != nil {
			log.Error(err.Error())
			return err
		}

		if onRound != nil {
			onRound(summary)
		}

		return nil
	})
}

func (f *ServerFanout) writeServer(serverName string) (int, error) {
	serverDir := filepath.Join(f.BaseDir, serverName)

	err := os.MkdirAll(serverDir, 0755)
	if err != nil {
		return 0, fmt.Errorf("failed to create server dir %s: %w", serverDir, err)
	}

	var written int
	for _, kind := range logKinds {
		n, err := f.writeLog(serverName, kind, filepath.Join(serverDir, kind.Filename()))
		if err != nil {
			return written, fmt.Errorf("failed writing %s log for %s: %w", kind, serverName, err)
		}
		written += n
	}

	return written, nil
}

func (f *ServerFanout) writeLog(serverName string, kind LogKind, path string) (int, error) {
	var start *time.Time

	last, ok, err := f.resolver.LastTimestamp(path)
	if err != nil {
		return 0, err
	}

	if ok {
		next := ContinueFrom(last)
		start = &next
		log.Debugf("Continuing %s from %s", path, next.Format(TimestampLayout))
	}

	// Pin the start so the recorded last timestamp matches what we wrote
	if start == nil {
		now := f.synth.clock().UTC().Truncate(time.Second)
		start = &now
	}

	lines := f.synth.Lines(kind, f.LinesPerFile, start)

	output, err := f.outputs(serverName, kind, path)
	if err != nil {
		return 0, err
	}
	defer output.Stop()

	err = output.Log(lines)
	if err != nil {
		return 0, err
	}

	if recorder, ok := f.resolver.(timestampRecorder); ok && len(lines) > 0 {
		recorder.Record(path, start.Add(time.Duration(len(lines)-1)*time.Second))
	}

	if f.OnBatch != nil {
		f.OnBatch(serverName, kind, len(lines))
	}

	log.Debugf("Appended %d lines to %s", len(lines), path)

	return len(lines), nil
}
