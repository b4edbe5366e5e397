package batch

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bitfsorg/libpayplan-go/credit"
	"github.com/bitfsorg/libpayplan-go/metrics"
)

// AccountError is an infrastructure failure on one account.
type AccountError struct {
	Username string `json:"username"`
	Error    string `json:"error"`
}

// Summary holds the counters of one batch run. Done counts accounts that
// were credited, Skipped counts business rejections by reason, and Failed
// counts store failures. Credited includes generation income fanned out
// from the run's primary credits.
type Summary struct {
	Run      string                `json:"run"`
	Day      string                `json:"day,omitempty"`
	RunID    string                `json:"runId,omitempty"`
	Resumed  bool                  `json:"resumed,omitempty"`
	Started  time.Time             `json:"started"`
	Duration time.Duration         `json:"duration"`
	Done     int                   `json:"done"`
	Skipped  int                   `json:"skipped"`
	Failed   int                   `json:"failed"`
	Promoted int                   `json:"promoted,omitempty"`
	Credited decimal.Decimal       `json:"credited"`
	Reasons  map[credit.Reason]int `json:"reasons,omitempty"`
	Errors   []AccountError        `json:"errors,omitempty"`

	mu sync.Mutex
}

func newSummary(run, day string, started time.Time) *Summary {
	return &Summary{
		Run:      run,
		Day:      day,
		Started:  started,
		Credited: decimal.Zero,
		Reasons:  make(map[credit.Reason]int),
	}
}

// record folds one credit outcome into the summary.
func (s *Summary) record(username string, res credit.Result, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case err != nil:
		s.failLocked(username, err)
	case res.OK:
		s.Done++
		s.Credited = s.Credited.Add(res.Credited)
		metrics.BatchAccountsTotal.WithLabelValues(s.Run, "done").Inc()
	default:
		s.Skipped++
		s.Reasons[res.Reason]++
		metrics.BatchAccountsTotal.WithLabelValues(s.Run, "skipped").Inc()
	}
}

func (s *Summary) fail(username string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failLocked(username, err)
}

func (s *Summary) failLocked(username string, err error) {
	s.Failed++
	s.Errors = append(s.Errors, AccountError{Username: username, Error: err.Error()})
	metrics.BatchAccountsTotal.WithLabelValues(s.Run, "failed").Inc()
}

func (s *Summary) addCredited(amount decimal.Decimal) {
	s.mu.Lock()
	s.Credited = s.Credited.Add(amount)
	s.mu.Unlock()
}

func (s *Summary) promoted() {
	s.mu.Lock()
	s.Promoted++
	s.mu.Unlock()
}

func (s *Summary) counted(done bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if done {
		s.Done++
		metrics.BatchAccountsTotal.WithLabelValues(s.Run, "done").Inc()
		return
	}
	s.Skipped++
	metrics.BatchAccountsTotal.WithLabelValues(s.Run, "skipped").Inc()
}
