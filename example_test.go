package goGuard_test

import (
	"context"
	"errors"
	"fmt"
	"time"

	goGuard "github.com/MrEthical07/goGuard"
	"github.com/redis/go-redis/v9"
)

func exampleConfig() goGuard.Config {
	cfg := goGuard.DefaultConfig()
	cfg.JWT.SigningMethod = "hs256"
	cfg.JWT.PrivateKey = []byte("example-secret-example-secret-32")
	return cfg
}

// ExampleNew demonstrates guard construction with a shared Redis backend.
func ExampleNew() {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:6379"})

	guard, err := goGuard.New().
		WithConfig(exampleConfig()).
		WithRedis(rdb).
		WithLatencyHistograms(true).
		Build()
	if err != nil {
		return
	}
	defer guard.Close()
	_ = guard.StartSweeper(10 * time.Minute)
}

// ExampleGuard_Evaluate runs the gate before checking a password.
func ExampleGuard_Evaluate() {
	guard, err := goGuard.New().WithConfig(exampleConfig()).Build()
	if err != nil {
		fmt.Println(err)
		return
	}
	defer guard.Close()

	ctx := context.Background()
	attempt := goGuard.Attempt{
		Identifier: "alice@example.com",
		Address:    "198.51.100.7",
		UserAgent:  "Mozilla/5.0 (X11; Linux x86_64; rv:128.0) Gecko/20100101 Firefox/128.0",
	}

	v, _ := guard.Evaluate(ctx, attempt)
	fmt.Println(v.Outcome)

	_, _ = guard.LockAccount(ctx, attempt.Identifier, "support ticket", time.Hour)
	v, _ = guard.Evaluate(ctx, attempt)
	fmt.Println(v.Outcome, v.Scope)

	var locked *goGuard.AccountLockedError
	fmt.Println(errors.As(v.Err(attempt), &locked))
	// Output:
	// allow
	// blocked account
	// true
}

// ExampleGuard_RotateCredentials shows the refresh flow and replay handling.
func ExampleGuard_RotateCredentials() {
	guard, err := goGuard.New().WithConfig(exampleConfig()).Build()
	if err != nil {
		fmt.Println(err)
		return
	}
	defer guard.Close()

	ctx := context.Background()
	first, _ := guard.IssueCredentials(ctx, "user-42", map[string]any{"role": "reader"})

	next, err := guard.RotateCredentials(ctx, first.RefreshToken)
	fmt.Println(err == nil, next.RefreshToken != first.RefreshToken)

	_, err = guard.RotateCredentials(ctx, first.RefreshToken)
	fmt.Println(errors.Is(err, goGuard.ErrTokenRevoked))
	// Output:
	// true true
	// true
}

// ExampleGuard_MetricsSnapshot shows how to read in-process counters.
func ExampleGuard_MetricsSnapshot() {
	var guard *goGuard.Guard
	snapshot := guard.MetricsSnapshot()
	_ = snapshot.Counters[goGuard.MetricGateAllowed]
}
