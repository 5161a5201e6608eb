package reporter

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	cleanhttp "github.com/hashicorp/go-cleanhttp"
	loghttp "github.com/motemen/go-loghttp"
	director "github.com/relistan/go-director"
	log "github.com/sirupsen/logrus"
)

const EventType = "LogGeneratorBatch"

// A BatchReporter tracks how many log lines we have appended and reports
// them to New Relic as an Insights event, either on a timed loop or when
// flushed at the end of a run.
type BatchReporter struct {
	client    *http.Client
	BaseURL   string
	InsertKey string
	AccountID string

	appendedCount uint64
	ReportLooper  director.Looper
	hostname      string
}

// NewBatchReporter returns a properly configured reporter
func NewBatchReporter(url, insertKey, accountID string, interval time.Duration) *BatchReporter {
	client := cleanhttp.DefaultClient()

	hostname, err := os.Hostname()
	if err != nil {
		log.Warnf("Unable to determine hostname: %s", err)
		hostname = "unknown"
	}

	return &BatchReporter{
		client:       client,
		BaseURL:      url,
		InsertKey:    insertKey,
		AccountID:    accountID,
		ReportLooper: director.NewTimedLooper(director.FOREVER, interval, make(chan error)),
		hostname:     hostname,
	}
}

// EnableHTTPDebug logs every request and response made to New Relic
func (r *BatchReporter) EnableHTTPDebug() {
	r.client.Transport = &loghttp.Transport{
		LogRequest: func(req *http.Request) {
			log.Debugf("--> %s %s", req.Method, req.URL)
		},
		LogResponse: func(resp *http.Response) {
			log.Debugf("<-- %d %s", resp.StatusCode, resp.Request.URL)
		},
		Transport: r.client.Transport,
	}
}

// Add atomically increments the current count
func (r *BatchReporter) Add(lines int) {
	atomic.AddUint64(&r.appendedCount, uint64(lines))
}

// Run starts up a background goroutine that reports on each tick of the
// ReportLooper
func (r *BatchReporter) Run() {
	log.Infof("Starting up New Relic reporter for account '%s'", r.AccountID)

	go r.ReportLooper.Loop(func() error {
		r.Flush()
		return nil
	})
}

// Flush reports anything counted since the last report. Errors are logged
// and the count is dropped; we don't want reporting to stop generation.
func (r *BatchReporter) Flush() {
	// Get the current count, subtract it from the total using
	// atomic operations. This makes sure we don't lose any increments.
	count := atomic.LoadUint64(&r.appendedCount)
	atomic.AddUint64(&r.appendedCount, 0-count)

	if count == 0 {
		return
	}

	url := fmt.Sprintf("%s/%s/events", r.BaseURL, r.AccountID)
	err := r.sendEvent(url, count)
	if err != nil {
		log.Errorf("Error reporting to New Relic: %s", err)
	}
}

// sendEvent serializes JSON and sends it to New Relic Insights
func (r *BatchReporter) sendEvent(url string, count uint64) error {
	data, err := json.Marshal(struct {
		Time          string
		Hostname      string
		AppendedLines uint64
		EventType     string `json:"eventType"`
	}{
		Time:          time.Now().UTC().Format(time.RFC3339),
		Hostname:      r.hostname,
		AppendedLines: count,
		EventType:     EventType,
	})
	if err != nil {
		return fmt.Errorf("unable to encode JSON event: %w", err)
	}

	req, err := http.NewRequest("POST", url, bytes.NewBuffer(data))
	if err != nil {
		return fmt.Errorf("unable to create http request: %w", err)
	}
	req.Header.Add("X-Insert-Key", r.InsertKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed making HTTP request to New Relic: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := ioutil.ReadAll(resp.Body)
		return fmt.Errorf("bad response from New Relic: %s", string(body))
	}

	return nil
}
