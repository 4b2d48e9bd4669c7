package resilience_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/jonwraymond/resaccess/resilience"
)

func ExampleClassifier_Classify() {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := resilience.NewClassifier(resilience.ClassifierConfig{
		Now: func() time.Time { return now },
	})

	h := http.Header{}
	h.Set("X-RateLimit-Reset", strconv.FormatInt(now.Add(5*time.Second).Unix(), 10))

	for _, f := range []resilience.Failure{
		{StatusCode: 503},
		{StatusCode: 429, Header: h},
		{StatusCode: 404},
	} {
		cl := c.Classify(f)
		fmt.Println(f.StatusCode, cl.Outcome, cl.RetryAfter)
	}
	// Output:
	// 503 transient 0s
	// 429 rate_limited 5s
	// 404 permanent 0s
}

func ExampleDo() {
	r := resilience.NewRetry(resilience.RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
	})

	calls := 0
	value, report, err := resilience.Do(context.Background(), r, func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", &resilience.StatusError{StatusCode: 502}
		}
		return "issue #42", nil
	})

	fmt.Println(value, report.Attempts, err)
	// Output:
	// issue #42 3 <nil>
}

func ExampleRetry_Execute_permanent() {
	r := resilience.NewRetry(resilience.RetryConfig{MaxAttempts: 5})

	err := r.Execute(context.Background(), func(ctx context.Context) error {
		return &resilience.StatusError{StatusCode: 404}
	})

	attempts, _ := resilience.Attempts(err)
	fmt.Println(errors.Is(err, resilience.ErrPermanent), attempts)
	// Output:
	// true 1
}
