package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/craftpage/wizard-back/internal/cache"
	httpserver "github.com/craftpage/wizard-back/internal/http"
	"github.com/craftpage/wizard-back/internal/http/handlers"
	"github.com/craftpage/wizard-back/internal/prompt"
	"github.com/craftpage/wizard-back/internal/publish"
	"github.com/craftpage/wizard-back/internal/repository"
	"github.com/craftpage/wizard-back/internal/service"
)

type scenarioResult struct {
	Name          string   `json:"name"`
	Total         int      `json:"total"`
	Success       int      `json:"success"`
	Errors        int      `json:"errors"`
	P50MS         float64  `json:"p50_ms"`
	P95MS         float64  `json:"p95_ms"`
	P99MS         float64  `json:"p99_ms"`
	MaxMS         float64  `json:"max_ms"`
	ThroughputRPS float64  `json:"throughput_rps"`
	ErrorSamples  []string `json:"error_samples,omitempty"`
}

type runResult struct {
	GeneratedAtUTC string           `json:"generated_at_utc"`
	Environment    string           `json:"environment"`
	Results        []scenarioResult `json:"results"`
	SLOEvaluation  map[string]bool  `json:"slo_evaluation"`
}

func main() {
	stepsTotal := flag.Int("steps-total", 300, "total step save requests")
	stepsConcurrency := flag.Int("steps-concurrency", 24, "concurrency for step save requests")
	checksTotal := flag.Int("checks-total", 200, "total duplicate check requests")
	checksConcurrency := flag.Int("checks-concurrency", 20, "concurrency for duplicate check requests")
	enqueueTotal := flag.Int("enqueue-total", 200, "total queue enqueue requests")
	enqueueConcurrency := flag.Int("enqueue-concurrency", 24, "concurrency for queue enqueue requests")
	listTotal := flag.Int("list-total", 120, "total queue list requests")
	listConcurrency := flag.Int("list-concurrency", 16, "concurrency for queue list requests")
	outputPath := flag.String("output", "", "optional path to persist benchmark results JSON")
	flag.Parse()

	server, sessionIDs, err := startBenchmarkEnvironment(64)
	if err != nil {
		log.Fatalf("failed to start local benchmark environment: %v", err)
	}
	defer server.Close()

	client := &http.Client{Timeout: 10 * time.Second}
	var idCounter int64

	stepsScenario := runScenario("session_step_save", *stepsTotal, *stepsConcurrency, func(index int) error {
		sessionID := sessionIDs[index%len(sessionIDs)]
		payload := map[string]any{
			"data": map[string]any{
				"hero": map[string]any{"title": fmt.Sprintf("Headline %d", index)},
			},
		}
		headers := map[string]string{"X-Owner-Id": "bench-owner"}
		url := fmt.Sprintf("%s/v1/sessions/%s/steps/%d", server.URL, sessionID, (index%5)+1)
		return postJSON(client, url, payload, headers, http.StatusOK)
	})

	checksScenario := runScenario("duplicate_check", *checksTotal, *checksConcurrency, func(index int) error {
		payload := map[string]any{
			"site_name": fmt.Sprintf("bench-site-%d", index%48),
		}
		return postJSON(client, server.URL+"/v1/sessions/check-duplicate", payload, nil, http.StatusOK)
	})

	enqueueScenario := runScenario("queue_enqueue", *enqueueTotal, *enqueueConcurrency, func(index int) error {
		sessionID := sessionIDs[index%len(sessionIDs)]
		requestID := atomic.AddInt64(&idCounter, 1)
		payload := map[string]any{
			"session_id":   sessionID,
			"request_type": "hero",
			"payload":      map[string]any{"business": fmt.Sprintf("bench business %d", index)},
		}
		headers := map[string]string{
			"X-Owner-Id":      "bench-owner",
			"Idempotency-Key": fmt.Sprintf("bench-%d-%d", requestID, time.Now().UnixNano()),
		}
		return postJSON(client, server.URL+"/v1/queue", payload, headers, http.StatusAccepted)
	})

	listScenario := runScenario("queue_list", *listTotal, *listConcurrency, func(index int) error {
		query := fmt.Sprintf("%s/v1/queue?status=pending&page=%d&page_size=20", server.URL, (index%4)+1)
		return getJSON(client, query, http.StatusOK)
	})

	results := []scenarioResult{stepsScenario, checksScenario, enqueueScenario, listScenario}
	slo := map[string]bool{
		"step_save_p95_le_200ms":       stepsScenario.P95MS <= 200,
		"duplicate_check_p95_le_200ms": checksScenario.P95MS <= 200,
		"enqueue_p95_le_300ms":         enqueueScenario.P95MS <= 300,
	}

	report := runResult{
		GeneratedAtUTC: time.Now().UTC().Format(time.RFC3339Nano),
		Environment:    "local-httptest",
		Results:        results,
		SLOEvaluation:  slo,
	}

	encoded, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		log.Fatalf("failed to marshal benchmark report: %v", err)
	}

	if *outputPath != "" {
		if err := os.WriteFile(*outputPath, encoded, 0o644); err != nil {
			log.Fatalf("failed to write output file: %v", err)
		}
	}

	_, _ = fmt.Fprintln(os.Stdout, string(encoded))
}

func startBenchmarkEnvironment(sessionCount int) (*httptest.Server, []string, error) {
	logger := log.New(io.Discard, "", 0)

	sessionsRepo := repository.NewMemorySessionsRepository()
	requestsRepo := repository.NewMemoryRequestsRepository()
	notifier := publish.NewLogNotifier(logger)

	sessionsService := service.NewSessionsService(sessionsRepo, notifier, logger)
	bridge := service.NewBridge(sessionsRepo, notifier, logger)
	queueService := service.NewQueueService(requestsRepo, sessionsRepo, bridge, service.QueueConfig{}, logger)

	api := handlers.NewAPI(
		sessionsService,
		queueService,
		prompt.NewBuilder(),
		cache.NewTTLStore(cache.Config{MaxEntries: 100000}),
		cache.NewTTLStore(cache.Config{}),
		logger,
	)
	router := httpserver.NewRouter(httpserver.RouterDependencies{
		API:            api,
		Logger:         logger,
		RateLimitRPS:   20000,
		RateLimitBurst: 20000,
	})

	sessionIDs := make([]string, 0, sessionCount)
	for i := 0; i < sessionCount; i++ {
		session, err := sessionsService.CreateSession(context.Background(), "bench-owner", nil)
		if err != nil {
			return nil, nil, fmt.Errorf("seed session %d: %w", i, err)
		}
		sessionIDs = append(sessionIDs, session.ID)
	}

	server := httptest.NewServer(router)
	return server, sessionIDs, nil
}

func runScenario(
	name string,
	total int,
	concurrency int,
	requestFn func(index int) error,
) scenarioResult {
	if total <= 0 {
		return scenarioResult{Name: name}
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	startedAt := time.Now()
	type sample struct {
		durationMS float64
		err        string
	}

	jobs := make(chan int, total)
	results := make(chan sample, total)
	for i := 0; i < total; i++ {
		jobs <- i
	}
	close(jobs)

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for index := range jobs {
				requestStart := time.Now()
				err := requestFn(index)
				s := sample{
					durationMS: float64(time.Since(requestStart).Microseconds()) / 1000.0,
				}
				if err != nil {
					s.err = err.Error()
				}
				results <- s
			}
		}()
	}
	wg.Wait()
	close(results)

	durations := make([]float64, 0, total)
	errorSamples := make([]string, 0, 5)
	success := 0
	errorsCount := 0
	for item := range results {
		durations = append(durations, item.durationMS)
		if item.err == "" {
			success++
			continue
		}
		errorsCount++
		if len(errorSamples) < 5 {
			errorSamples = append(errorSamples, item.err)
		}
	}

	sort.Float64s(durations)
	elapsedSeconds := time.Since(startedAt).Seconds()
	throughput := 0.0
	if elapsedSeconds > 0 {
		throughput = float64(total) / elapsedSeconds
	}

	return scenarioResult{
		Name:          name,
		Total:         total,
		Success:       success,
		Errors:        errorsCount,
		P50MS:         percentile(durations, 0.50),
		P95MS:         percentile(durations, 0.95),
		P99MS:         percentile(durations, 0.99),
		MaxMS:         percentile(durations, 1.00),
		ThroughputRPS: round2(throughput),
		ErrorSamples:  errorSamples,
	}
}

func postJSON(
	client *http.Client,
	url string,
	payload any,
	headers map[string]string,
	expectedStatus int,
) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	request, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Accept", "application/json")
	for key, value := range headers {
		request.Header.Set(key, value)
	}

	response, err := client.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	if response.StatusCode != expectedStatus {
		body, _ := io.ReadAll(io.LimitReader(response.Body, 1024))
		return fmt.Errorf("unexpected status %d (expected %d): %s", response.StatusCode, expectedStatus, string(body))
	}
	_, _ = io.Copy(io.Discard, response.Body)
	return nil
}

func getJSON(client *http.Client, url string, expectedStatus int) error {
	request, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	request.Header.Set("Accept", "application/json")

	response, err := client.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	if response.StatusCode != expectedStatus {
		body, _ := io.ReadAll(io.LimitReader(response.Body, 1024))
		return fmt.Errorf("unexpected status %d (expected %d): %s", response.StatusCode, expectedStatus, string(body))
	}
	_, _ = io.Copy(io.Discard, response.Body)
	return nil
}

func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	if p <= 0 {
		return round2(values[0])
	}
	if p >= 1 {
		return round2(values[len(values)-1])
	}
	rank := int(math.Ceil(float64(len(values))*p)) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(values) {
		rank = len(values) - 1
	}
	return round2(values[rank])
}

func round2(value float64) float64 {
	return math.Round(value*100) / 100
}
