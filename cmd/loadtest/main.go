package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/VedanshGovind/FinGuard-AI/internal/codematch"
	"github.com/VedanshGovind/FinGuard-AI/internal/core"
	"github.com/VedanshGovind/FinGuard-AI/internal/decision"
	"github.com/VedanshGovind/FinGuard-AI/internal/fusion"
	"github.com/VedanshGovind/FinGuard-AI/internal/pipeline"
)

// LoadTestConfig holds load test parameters
type LoadTestConfig struct {
	NumSessions     int
	Concurrency     int
	ReportInterval  time.Duration
	MaxPipelineWait time.Duration
	FailureRate     float64
	Deadline        time.Duration
	BranchTimeout   time.Duration
}

// LoadTestStats tracks test metrics
type LoadTestStats struct {
	TotalSessions       uint64
	Passed              uint64
	Failed              uint64
	Inconclusive        uint64
	DeadlineOverruns    uint64
	TotalDuration       time.Duration
	AvgLatency          time.Duration
	MaxLatency          time.Duration
	MinLatency          time.Duration
	P95Latency          time.Duration
	P99Latency          time.Duration
	ThroughputPerSecond float64
}

func main() {
	numSessions := flag.Int("sessions", 1000, "Number of sessions to verify")
	concurrency := flag.Int("concurrency", 100, "Number of concurrent callers")
	reportInterval := flag.Duration("report", 5*time.Second, "Stats reporting interval")
	maxWait := flag.Duration("pipeline-wait", 50*time.Millisecond, "Upper bound of simulated pipeline latency")
	failureRate := flag.Float64("failure-rate", 0.02, "Probability that a simulated pipeline errors")
	deadline := flag.Duration("deadline", 2*time.Second, "Request deadline")
	branch := flag.Duration("branch-timeout", 1500*time.Millisecond, "Per-branch timeout")
	flag.Parse()

	cfg := LoadTestConfig{
		NumSessions:     *numSessions,
		Concurrency:     *concurrency,
		ReportInterval:  *reportInterval,
		MaxPipelineWait: *maxWait,
		FailureRate:     *failureRate,
		Deadline:        *deadline,
		BranchTimeout:   *branch,
	}

	slog.Info("[LoadTest] Starting fusion load test",
		"sessions", cfg.NumSessions,
		"concurrency", cfg.Concurrency,
		"pipeline_wait", cfg.MaxPipelineWait,
		"failure_rate", cfg.FailureRate,
	)

	stats, err := runLoadTest(cfg)
	if err != nil {
		slog.Error("[LoadTest] Setup failed", "error", err)
		os.Exit(1)
	}
	if !printResults(stats, cfg) {
		os.Exit(2)
	}
}

// simulatedScore answers after a random delay, honouring ctx, and fails
// with the configured probability.
func simulatedScore(cfg LoadTestConfig) pipeline.ScoreSource {
	return pipeline.ScoreSourceFunc(func(ctx context.Context, _ core.MediaRef) (pipeline.ScoreReport, error) {
		if err := sleep(ctx, jitter(cfg.MaxPipelineWait)); err != nil {
			return pipeline.ScoreReport{}, err
		}
		if rand.Float64() < cfg.FailureRate {
			return pipeline.ScoreReport{Status: core.StatusFailed, Error: "simulated pipeline failure"}, nil
		}
		return pipeline.OK(rand.Float64()), nil
	})
}

func simulatedTranscriber(cfg LoadTestConfig) pipeline.Transcriber {
	return pipeline.TranscriberFunc(func(ctx context.Context, _ core.MediaRef) (pipeline.TranscriptReport, error) {
		if err := sleep(ctx, jitter(cfg.MaxPipelineWait)); err != nil {
			return pipeline.TranscriptReport{}, err
		}
		if rand.Float64() < cfg.FailureRate {
			return pipeline.TranscriptReport{Status: core.StatusFailed, Error: "simulated transcription failure"}, nil
		}
		return pipeline.TranscriptReport{Status: core.StatusOK, Transcript: "A B 1 2 C D"}, nil
	})
}

func runLoadTest(cfg LoadTestConfig) (*LoadTestStats, error) {
	engine, err := decision.NewEngine(decision.Settings{
		Video:   decision.Thresholds{Low: 0.40, High: 0.75},
		Audio:   decision.Thresholds{Low: 0.30, High: 0.70},
		Offline: true,
	})
	if err != nil {
		return nil, err
	}
	matcher, err := codematch.NewMatcher(codematch.DefaultThreshold)
	if err != nil {
		return nil, err
	}
	orch, err := fusion.NewOrchestrator(engine, matcher,
		simulatedScore(cfg), simulatedScore(cfg), simulatedTranscriber(cfg),
		fusion.Settings{RequestDeadline: cfg.Deadline, BranchTimeout: cfg.BranchTimeout},
	)
	if err != nil {
		return nil, err
	}

	// Verdict logging would dominate the measurement.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})))

	stats := &LoadTestStats{MinLatency: time.Hour}
	var (
		latencies   []time.Duration
		latenciesMu sync.Mutex
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go reportStats(ctx, stats, cfg.ReportInterval)

	sessions := make(chan int, cfg.NumSessions)
	var wg sync.WaitGroup

	startTime := time.Now()
	for i := 0; i < cfg.Concurrency; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for n := range sessions {
				start := time.Now()
				sv := orch.Verify(ctx, fusion.Request{
					RequestID:    fmt.Sprintf("load-%d-%d", workerID, n),
					SessionID:    fmt.Sprintf("session-%d", n),
					ExpectedCode: "AB12CD",
					Recording:    fmt.Sprintf("mem://session-%d", n),
				})
				latency := time.Since(start)
				record(stats, sv, latency, cfg.Deadline)

				latenciesMu.Lock()
				latencies = append(latencies, latency)
				if latency > stats.MaxLatency {
					stats.MaxLatency = latency
				}
				if latency < stats.MinLatency {
					stats.MinLatency = latency
				}
				latenciesMu.Unlock()
			}
		}(i)
	}

	for i := 0; i < cfg.NumSessions; i++ {
		sessions <- i
	}
	close(sessions)
	wg.Wait()

	stats.TotalDuration = time.Since(startTime)
	stats.ThroughputPerSecond = float64(stats.TotalSessions) / stats.TotalDuration.Seconds()

	if len(latencies) > 0 {
		sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
		stats.AvgLatency = average(latencies)
		stats.P95Latency = percentile(latencies, 95)
		stats.P99Latency = percentile(latencies, 99)
	}
	return stats, nil
}

func record(stats *LoadTestStats, sv *fusion.SessionVerdict, latency, deadline time.Duration) {
	atomic.AddUint64(&stats.TotalSessions, 1)
	switch sv.Outcome {
	case fusion.OutcomePass:
		atomic.AddUint64(&stats.Passed, 1)
	case fusion.OutcomeFail:
		atomic.AddUint64(&stats.Failed, 1)
	default:
		atomic.AddUint64(&stats.Inconclusive, 1)
	}
	// Fan-in must never outlive the request deadline by more than scheduling noise.
	if latency > deadline+50*time.Millisecond {
		atomic.AddUint64(&stats.DeadlineOverruns, 1)
	}
}

func reportStats(ctx context.Context, stats *LoadTestStats, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			fmt.Fprintf(os.Stderr, "progress: sessions=%d pass=%d fail=%d inconclusive=%d\n",
				atomic.LoadUint64(&stats.TotalSessions),
				atomic.LoadUint64(&stats.Passed),
				atomic.LoadUint64(&stats.Failed),
				atomic.LoadUint64(&stats.Inconclusive),
			)
		case <-ctx.Done():
			return
		}
	}
}

// printResults reports the run and returns false when a target is missed.
func printResults(stats *LoadTestStats, cfg LoadTestConfig) bool {
	separator := "================================================================================"
	divider := "--------------------------------------------------------------------------------"
	pct := func(n uint64) float64 { return float64(n) / float64(stats.TotalSessions) * 100 }

	fmt.Println("\n" + separator)
	fmt.Println("FUSION LOAD TEST RESULTS")
	fmt.Println(separator)
	fmt.Printf("Total Sessions:         %d\n", stats.TotalSessions)
	fmt.Printf("PASS:                   %d (%.2f%%)\n", stats.Passed, pct(stats.Passed))
	fmt.Printf("FAIL:                   %d (%.2f%%)\n", stats.Failed, pct(stats.Failed))
	fmt.Printf("INCONCLUSIVE:           %d (%.2f%%)\n", stats.Inconclusive, pct(stats.Inconclusive))
	fmt.Println(divider)
	fmt.Printf("Total Duration:         %v\n", stats.TotalDuration)
	fmt.Printf("Throughput:             %.2f sessions/sec\n", stats.ThroughputPerSecond)
	fmt.Println(divider)
	fmt.Printf("Latency (min):          %v\n", stats.MinLatency)
	fmt.Printf("Latency (avg):          %v\n", stats.AvgLatency)
	fmt.Printf("Latency (p95):          %v\n", stats.P95Latency)
	fmt.Printf("Latency (p99):          %v\n", stats.P99Latency)
	fmt.Printf("Latency (max):          %v\n", stats.MaxLatency)
	fmt.Println(separator)

	ok := true
	if stats.DeadlineOverruns == 0 {
		fmt.Printf("PASS: every session decided within the %v deadline\n", cfg.Deadline)
	} else {
		fmt.Printf("FAIL: %d sessions overran the %v deadline\n", stats.DeadlineOverruns, cfg.Deadline)
		ok = false
	}

	budget := cfg.MaxPipelineWait + 100*time.Millisecond
	if stats.P95Latency < budget {
		fmt.Printf("PASS: P95 latency within %v\n", budget)
	} else {
		fmt.Printf("WARN: P95 latency above %v\n", budget)
	}
	fmt.Println(separator + "\n")
	return ok
}

func jitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	return rand.N(limit)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func average(latencies []time.Duration) time.Duration {
	var total time.Duration
	for _, l := range latencies {
		total += l
	}
	return total / time.Duration(len(latencies))
}

// percentile expects sorted input.
func percentile(sorted []time.Duration, p int) time.Duration {
	idx := int(float64(len(sorted)) * float64(p) / 100.0)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
