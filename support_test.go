package main

import (
	"bytes"
	"errors"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// LogCapture logs for async testing where we can't get a nice handle on thigns
func LogCapture(fn func()) string {
	capture := &bytes.Buffer{}
	log.SetOutput(capture)
	fn()
	log.SetOutput(os.Stdout)

	return capture.String()
}

// fixedClock returns a clock that always reads t
func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

// mockLogOutput implements the LogOutput interface, for testing
type mockLogOutput struct {
	sync.Mutex

	Batches       [][]string
	StopWasCalled bool
	ShouldError   bool
}

func (m *mockLogOutput) Log(lines []string) error {
	m.Lock()
	defer m.Unlock()

	if m.ShouldError {
		return errors.New("intentional test error")
	}

	batch := make([]string, len(lines))
	copy(batch, lines)
	m.Batches = append(m.Batches, batch)
	return nil
}

func (m *mockLogOutput) Stop() {
	m.Lock()
	defer m.Unlock()

	m.StopWasCalled = true
}

func (m *mockLogOutput) Lines() []string {
	m.Lock()
	defer m.Unlock()

	var all []string
	for _, batch := range m.Batches {
		all = append(all, batch...)
	}
	return all
}

// mockResolver implements the ContinuationResolver interface
type mockResolver struct {
	ShouldError bool

	Stamps map[string]time.Time
}

func (r *mockResolver) LastTimestamp(path string) (time.Time, bool, error) {
	if r.ShouldError {
		return time.Time{}, false, errors.New("intentional test error")
	}

	ts, ok := r.Stamps[path]
	return ts, ok, nil
}

// readLines returns the non-empty lines of a file
func readLines(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var lines []string
	for _, line := range strings.Split(string(data), "\n") {
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines, nil
}

// readUDP waits for a single packet on the listener
func readUDP(pc net.PacketConn) ([]byte, error) {
	_ = pc.SetReadDeadline(time.Now().Add(2 * time.Second))

	buf := make([]byte, 4096)
	n, _, err := pc.ReadFrom(buf)
	if err != nil {
		return nil, err
	}

	if n < 1 {
		return nil, errors.New("received nothing")
	}

	return buf[:n], nil
}
