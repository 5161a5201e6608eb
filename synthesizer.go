package main

import (
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"time"
)

// TimestampLayout is the Apache common log time format. The zone is always
// written as a literal +0000.
const TimestampLayout = "02/Jan/2006:15:04:05 +0000"

const referrer = "http://example.com"

type LogKind int

const (
	AccessLog LogKind = iota
	ErrorLog
)

func (k LogKind) Filename() string {
	if k == ErrorLog {
		return "error.log"
	}
	return "access.log"
}

func (k LogKind) String() string {
	if k == ErrorLog {
		return "error"
	}
	return "access"
}

var (
	methods = []string{"GET", "POST", "PUT", "DELETE"}

	paths = []string{
		"/index.html", "/login", "/dashboard", "/api/data", "/profile", "/settings", "/delete",
		"/search?q=test", "/contact", "/about", "/products", "/cart", "/checkout",
	}

	statuses = []int{200, 201, 302, 404, 500, 403, 204}

	userAgents = []string{
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64)",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7)",
		"Mozilla/5.0 (iPhone; CPU iPhone OS 14_0 like Mac OS X)",
		"Mozilla/5.0 (Linux; Android 11)",
		"Mozilla/5.0 (iPad; CPU OS 14_0 like Mac OS X)",
		"Mozilla/5.0 (Windows NT 6.1; WOW64; Trident/7.0; rv:11.0) like Gecko",
		"Mozilla/5.0 (X11; Linux x86_64; rv:91.0) Gecko/20100101 Firefox/91.0",
	}

	levels = []string{"ERROR", "WARN", "INFO", "DEBUG", "CRITICAL"}

	errorMessages = []string{
		"Client denied by server configuration",
		"File does not exist: /var/www/html/favicon.ico",
		"AH00126: Invalid URI in request GET / HTTP/1.1",
		"Connection reset by peer: mod_fcgid",
		"AH01630: client denied by server configuration",
		"Segmentation fault (core dumped)",
		"Memory allocation failed in mod_rewrite",
		"Disk quota exceeded",
		"SSL handshake failed: error:1408F10B:SSL routines:SSL3_GET_RECORD:wrong version number",
		"Could not establish connection to database",
	}
)

const (
	minBytes = 200
	maxBytes = 2000
)

// A Synthesizer produces batches of fake Apache log lines. All randomness
// comes from the injected source, so a fixed seed and a fixed clock always
// produce the same output.
type Synthesizer struct {
	rnd   *rand.Rand
	clock func() time.Time
}

// NewSynthesizer returns a Synthesizer drawing from rnd. A nil clock means
// time.Now.
func NewSynthesizer(rnd *rand.Rand, clock func() time.Time) *Synthesizer {
	if clock == nil {
		clock = time.Now
	}

	return &Synthesizer{rnd: rnd, clock: clock}
}

// NewSeededSynthesizer is a convenience for a Synthesizer on a fresh source.
// A zero seed is replaced with the current time.
func NewSeededSynthesizer(seed int64) *Synthesizer {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return NewSynthesizer(rand.New(rand.NewSource(seed)), nil)
}

// Timestamps returns n formatted timestamps, one second apart, starting at
// start or at the current time when start is nil.
func (s *Synthesizer) Timestamps(n int, start *time.Time) []string {
	if n <= 0 {
		return []string{}
	}

	base := s.clock().UTC()
	if start != nil {
		base = *start
	}

	stamps := make([]string, n)
	for i := range stamps {
		stamps[i] = base.Add(time.Duration(i) * time.Second).Format(TimestampLayout)
	}

	return stamps
}

// Lines generates a batch of the requested kind
func (s *Synthesizer) Lines(kind LogKind, n int, start *time.Time) []string {
	if kind == ErrorLog {
		return s.ErrorLines(n, start)
	}
	return s.AccessLines(n, start)
}

func (s *Synthesizer) AccessLines(n int, start *time.Time) []string {
	stamps := s.Timestamps(n, start)

	lines := make([]string, len(stamps))
	for i, ts := range stamps {
		lines[i] = fmt.Sprintf(`%s - - [%s] "%s %s HTTP/1.1" %d %d "%s" "%s"`,
			s.ip(), ts,
			s.pick(methods), s.pick(paths),
			statuses[s.rnd.Intn(len(statuses))],
			minBytes+s.rnd.Intn(maxBytes-minBytes+1),
			referrer, s.pick(userAgents),
		)
	}

	return lines
}

func (s *Synthesizer) ErrorLines(n int, start *time.Time) []string {
	stamps := s.Timestamps(n, start)

	lines := make([]string, len(stamps))
	for i, ts := range stamps {
		lines[i] = fmt.Sprintf("[%s] [%s] %s", ts, s.pick(levels), s.pick(errorMessages))
	}

	return lines
}

func (s *Synthesizer) ip() string {
	octets := make([]string, 4)
	for i := range octets {
		octets[i] = strconv.Itoa(s.rnd.Intn(256))
	}
	return strings.Join(octets, ".")
}

func (s *Synthesizer) pick(pool []string) string {
	return pool[s.rnd.Intn(len(pool))]
}
