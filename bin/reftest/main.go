package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"snapshot-reftest/internal/capture"
	diffimage "snapshot-reftest/internal/diff/image"
	"snapshot-reftest/internal/env"
	"snapshot-reftest/internal/reftest"
	"snapshot-reftest/internal/retry"
	"snapshot-reftest/internal/snapshot"
	"snapshot-reftest/internal/source"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"
)

type CallbackPayload struct {
	Test            string `json:"test"`
	Reference       string `json:"reference"`
	Op              string `json:"op"`
	Fuzzy           string `json:"fuzzy,omitempty"`
	Passed          bool   `json:"passed"`
	DifferentPixels *int   `json:"differentPixels,omitempty"`
	MaxDelta        *int   `json:"maxDelta,omitempty"`
	Report          string `json:"report,omitempty"`
}

type headers []string

func (h *headers) String() string {
	return strings.Join(*h, ", ")
}

func (h *headers) Set(value string) error {
	*h = append(*h, value)
	return nil
}

type loader struct {
	source         source.Source
	capturer       capture.Capturer
	captureOptions capture.CaptureOptions
	retryStrategy  retry.Strategy
	log            logr.Logger
}

func isCapturable(target string) bool {
	return strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") || strings.HasPrefix(target, "file://")
}

// load captures URLs through the browser and reads everything else from the source.
func (l *loader) load(ctx context.Context, target string) (*snapshot.Snapshot, error) {
	if !isCapturable(target) {
		data, err := l.source.Get(ctx, target)
		if err != nil {
			return nil, xerrors.Errorf("failed to read %s: %w", target, err)
		}
		return snapshot.Decode(data)
	}

	var s *snapshot.Snapshot
	err := retry.Do(ctx, l.retryStrategy, func(ctx context.Context) error {
		result, err := l.capturer.Capture(ctx, target, l.captureOptions)
		if err != nil {
			l.log.Info("capture attempt failed", "url", target, "error", err.Error())
			return err
		}
		s = result
		return nil
	})
	if err != nil {
		return nil, xerrors.Errorf("failed to capture %s: %w", target, err)
	}
	return s, nil
}

func newLogger() (*slog.Logger, error) {
	logLevel := slog.LevelInfo
	if v, ok := os.LookupEnv("GO_LOG"); ok {
		if err := logLevel.UnmarshalText([]byte(v)); err != nil {
			return nil, xerrors.Errorf("failed to parse log level: %w", err)
		}
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
		// https://opentelemetry.io/docs/specs/otel/logs/data-model/
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			switch a.Key {
			case slog.LevelKey:
				a.Key = "severitytext"
			case slog.MessageKey:
				a.Key = "body"
			}
			return a
		},
	})), nil
}

func main() {
	if err := env.Load(); err != nil {
		log.Fatalf("Failed to load environment: %v", err)
	}

	var op string
	var fuzzy string
	var testName string
	var referenceName string
	var directory string
	var pixelCompare bool
	var withCaret bool
	var maskSelectors string
	var viewportWidth int
	var viewportHeight int
	var delay time.Duration
	var chromeDevtoolsProtocolURL string
	var captureRetries uint
	var callbackURL string
	var printJSON bool
	var headers headers
	flag.StringVar(&op, "op", env.OrDefault("OP", "=="), "Expected relation between test and reference (== or !=)")
	flag.StringVar(&fuzzy, "fuzzy", env.OrDefault("FUZZY", ""), "Tolerance as fuzzy(maxDiff,diffCount) or maxDiff,diffCount")
	flag.StringVar(&testName, "test-name", env.OrDefault("TEST_NAME", ""), "Name reported for the test snapshot (defaults to its path)")
	flag.StringVar(&referenceName, "reference-name", env.OrDefault("REFERENCE_NAME", ""), "Name reported for the reference snapshot (defaults to its path)")
	flag.StringVar(&directory, "directory", env.OrDefault("DIRECTORY", "."), "Directory relative snapshot paths are resolved against")
	flag.BoolVar(&pixelCompare, "pixel-compare", env.OrDefault("PIXEL_COMPARE", true), "Compare pixels; when false only serialized images are compared")
	flag.BoolVar(&withCaret, "with-caret", env.OrDefault("WITH_CARET", false), "Keep the text input caret visible in captured snapshots")
	flag.StringVar(&maskSelectors, "mask-selectors", env.OrDefault("MASK_SELECTORS", ""), "Comma-separated list of CSS selectors to mask during capture")
	flag.IntVar(&viewportWidth, "viewport-width", env.OrDefault("VIEWPORT_WIDTH", 800), "Viewport width in pixels")
	flag.IntVar(&viewportHeight, "viewport-height", env.OrDefault("VIEWPORT_HEIGHT", 1000), "Viewport height in pixels")
	flag.DurationVar(&delay, "delay", env.OrDefault("DELAY", 0*time.Second), "Delay before capturing")
	flag.StringVar(&chromeDevtoolsProtocolURL, "chrome-devtools-protocol-url", env.OrDefault("CHROME_DEVTOOLS_PROTOCOL_URL", ""), "Connect to existing browser via Chrome DevTools Protocol URL (e.g., http://localhost:9222)")
	flag.UintVar(&captureRetries, "capture-retries", env.OrDefault("CAPTURE_RETRIES", uint(2)), "Number of times a failed capture is retried")
	flag.StringVar(&callbackURL, "callback-url", env.OrDefault("CALLBACK_URL", ""), "URL the JSON result is PATCHed to")
	flag.BoolVar(&printJSON, "json", env.OrDefault("JSON", false), "Print the result as JSON instead of the report")
	flag.Var(&headers, "H", "Add HTTP header for captures (can be used multiple times)")

	flag.Parse()

	args := flag.Args()
	if len(args) != 2 {
		log.Fatalf("usage: reftest [flags] <test> <reference>")
	}
	testPath := args[0]
	referencePath := args[1]
	if testName == "" {
		testName = testPath
	}
	if referenceName == "" {
		referenceName = referencePath
	}

	var expectEqual bool
	switch op {
	case "==":
		expectEqual = true
	case "!=":
		expectEqual = false
	default:
		log.Fatalf("Unknown op: %s", op)
	}

	fuzz, err := reftest.ParseFuzz(fuzzy)
	if err != nil {
		log.Fatalf("Failed to parse fuzzy: %v", err)
	}

	slogger, err := newLogger()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	logger := logr.FromSlogHandler(slogger.Handler())

	ctx := context.Background()

	files, err := source.NewFileSource(ctx, source.FileConfig{
		Directory: directory,
	})
	if err != nil {
		log.Fatalf("Failed to create file source: %v", err)
	}
	router := &source.Router{Files: files}
	if strings.HasPrefix(testPath, "s3://") || strings.HasPrefix(referencePath, "s3://") {
		router.S3, err = source.NewS3Source(ctx, source.S3Config{})
		if err != nil {
			log.Fatalf("Failed to create S3 source: %v", err)
		}
	}

	var capturer capture.Capturer
	if isCapturable(testPath) || isCapturable(referencePath) {
		config := capture.DefaultPlaywrightConfig()
		config.ViewportWidth = viewportWidth
		config.ViewportHeight = viewportHeight
		config.Delay = delay
		config.ChromeDevtoolsProtocolURL = chromeDevtoolsProtocolURL
		if display := os.Getenv("DISPLAY"); display != "" {
			config.Headless = false
		}
		capturer, err = capture.NewPlaywrightCapturer(ctx, config)
		if err != nil {
			log.Fatalf("Failed to create capturer: %v", err)
		}
	}

	captureOptions := capture.CaptureOptions{WithCaret: withCaret}
	if maskSelectors != "" {
		for _, selector := range strings.Split(maskSelectors, ",") {
			captureOptions.MaskSelectors = append(captureOptions.MaskSelectors, strings.TrimSpace(selector))
		}
	}
	if len(headers) > 0 {
		captureOptions.Headers = make(map[string]string)
		for _, header := range headers {
			if key, value, ok := strings.Cut(header, ":"); ok {
				captureOptions.Headers[strings.TrimSpace(key)] = strings.TrimSpace(value)
			}
		}
	}

	l := &loader{
		source:         router,
		capturer:       capturer,
		captureOptions: captureOptions,
		retryStrategy:  retry.NewExponentialBackOff(500*time.Millisecond, 5*time.Second, captureRetries, nil),
		log:            logger.WithName("loader"),
	}

	var testSnapshot *snapshot.Snapshot
	var referenceSnapshot *snapshot.Snapshot
	{
		eg, ctx := errgroup.WithContext(ctx)

		eg.Go(func() error {
			s, err := l.load(ctx, testPath)
			if err != nil {
				return err
			}
			testSnapshot = s
			return nil
		})

		eg.Go(func() error {
			s, err := l.load(ctx, referencePath)
			if err != nil {
				return err
			}
			referenceSnapshot = s
			return nil
		})

		if err := eg.Wait(); err != nil {
			log.Fatalf("Failed to load snapshots: %v", err)
		}
	}

	opts := []reftest.Option{reftest.WithLogger(logger.WithName("comparator"))}
	if pixelCompare {
		opts = append(opts, reftest.WithPixelComparer(diffimage.NewPixelDiff()))
	}
	comparator := reftest.NewComparator(opts...)

	var report bytes.Buffer
	reporter := reftest.NewReporter(comparator, reftest.LogRecorder{Log: logger.WithName("reftest")}, &report)
	result := reporter.Check(testSnapshot, referenceSnapshot, expectEqual, fuzz, testName, referenceName)

	payload := CallbackPayload{
		Test:            testName,
		Reference:       referenceName,
		Op:              op,
		Fuzzy:           fuzz.String(),
		Passed:          result.Passed,
		DifferentPixels: result.DifferentPixels,
		MaxDelta:        result.MaxDelta,
		Report:          report.String(),
	}

	if printJSON {
		if err := json.NewEncoder(os.Stdout).Encode(payload); err != nil {
			log.Fatalf("Failed to write result: %v", err)
		}
	} else if _, err := os.Stdout.Write(report.Bytes()); err != nil {
		log.Fatalf("Failed to write report: %v", err)
	}

	if callbackURL != "" {
		if err := callback(ctx, callbackURL, payload); err != nil {
			log.Fatalf("Failed to send callback: %v", err)
		}
	}

	if !result.Passed {
		os.Exit(1)
	}
}

func callback(ctx context.Context, callbackURL string, payload CallbackPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return xerrors.Errorf("failed to marshal result: %w", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPatch, callbackURL, bytes.NewReader(data))
	if err != nil {
		return xerrors.Errorf("failed to create request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")

	client := &http.Client{
		Timeout: 5 * time.Second,
		Transport: &retry.Transport{
			Base:          http.DefaultTransport,
			RetryStrategy: retry.NewExponentialBackOff(10*time.Millisecond, 1*time.Second, 3, nil),
		},
	}

	response, err := client.Do(request)
	if err != nil {
		return xerrors.Errorf("failed to send request: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode >= 300 {
		return xerrors.Errorf("callback responded with %s", response.Status)
	}
	return nil
}
