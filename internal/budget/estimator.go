package budget

import (
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Estimator turns text into an approximate token count.
type Estimator interface {
	Estimate(text string) int
	Name() string
}

// WordEstimator approximates tokens as ceil(1.3 × whitespace-separated words).
type WordEstimator struct{}

func (WordEstimator) Estimate(text string) int {
	words := len(strings.Fields(text))
	if words == 0 {
		return 0
	}
	return int(math.Ceil(float64(words) * 1.3))
}

func (WordEstimator) Name() string { return "words" }

// TiktokenEstimator counts cl100k_base tokens. The encoding is loaded lazily
// on first use; if it cannot be loaded the word estimate is used instead.
type TiktokenEstimator struct {
	encoding string
	enc      *tiktoken.Tiktoken
	once     sync.Once
	initErr  error
	fallback WordEstimator
}

// NewTiktokenEstimator returns an estimator for the given encoding
// ("" selects cl100k_base).
func NewTiktokenEstimator(encoding string) *TiktokenEstimator {
	if encoding == "" {
		encoding = "cl100k_base"
	}
	return &TiktokenEstimator{encoding: encoding}
}

func (t *TiktokenEstimator) init() error {
	t.once.Do(func() {
		enc, err := tiktoken.GetEncoding(t.encoding)
		if err != nil {
			t.initErr = fmt.Errorf("init tiktoken encoding %s: %w", t.encoding, err)
			return
		}
		t.enc = enc
	})
	return t.initErr
}

func (t *TiktokenEstimator) Estimate(text string) int {
	if err := t.init(); err != nil {
		return t.fallback.Estimate(text)
	}
	return len(t.enc.Encode(text, nil, nil))
}

func (t *TiktokenEstimator) Name() string {
	return fmt.Sprintf("tiktoken[%s]", t.encoding)
}

// EstimatorFor maps the runtime.budgets.estimator setting to an Estimator.
func EstimatorFor(name string) Estimator {
	if name == "tiktoken" {
		return NewTiktokenEstimator("")
	}
	return WordEstimator{}
}
