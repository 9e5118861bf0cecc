package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log"
	"log/slog"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"runtime"
	diffimage "snapshot-reftest/internal/diff/image"
	"snapshot-reftest/internal/env"
	"snapshot-reftest/internal/myhttp"
	"snapshot-reftest/internal/reftest"
	"snapshot-reftest/internal/snapshot"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	otelpyroscope "github.com/grafana/otel-profiling-go"
	"github.com/grafana/pyroscope-go"
	pyroscopepprof "github.com/grafana/pyroscope-go/http/pprof"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	otelprometheus "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"golang.org/x/net/netutil"
	"golang.org/x/xerrors"
)

const maxUploadBytes = 32 << 20

type Server struct {
	address                string
	terminationGracePeriod time.Duration
	lameduck               time.Duration
	keepAlive              bool
	maxConnections         int

	pixelDiff   *diffimage.PixelDiff
	comparisons metric.Int64Counter
}

func NewServer() *Server {
	return &Server{
		address:                env.OrDefault("ADDRESS", "0.0.0.0:8383"),
		terminationGracePeriod: env.OrDefault("TERMINATION_GRACE_PERIOD", 10*time.Second),
		lameduck:               env.OrDefault("LAMEDUCK", 1*time.Second),
		keepAlive:              env.OrDefault("HTTP_KEEPALIVE", true),
		maxConnections:         env.OrDefault("MAX_CONNECTIONS", 65532),
		pixelDiff:              diffimage.NewPixelDiff(),
	}
}

var Debug = false

func (s *Server) Start(ctx context.Context) error {
	runtime.SetMutexProfileFraction(1)
	runtime.SetBlockProfileRate(1)

	profiler, err := pyroscope.Start(pyroscope.Config{
		ApplicationName: "reftest-server",
		ServerAddress:   os.Getenv("PYROSCOPE_ENDPOINT"),
		UploadRate:      60 * time.Second,
		ProfileTypes: []pyroscope.ProfileType{
			pyroscope.ProfileCPU,
			pyroscope.ProfileAllocObjects,
			pyroscope.ProfileAllocSpace,
			pyroscope.ProfileInuseObjects,
			pyroscope.ProfileInuseSpace,
			pyroscope.ProfileGoroutines,
		},
	})
	if err != nil {
		return xerrors.Errorf("failed to create profiler: %w", err)
	}

	otel.SetTextMapPropagator(propagation.TraceContext{})

	r, err := sdkresource.Merge(
		sdkresource.Default(),
		sdkresource.NewWithAttributes(semconv.SchemaURL, semconv.ServiceName("reftest-server")),
	)
	if err != nil {
		return xerrors.Errorf("failed to create resource: %w", err)
	}
	traceExporter, err := otlptracegrpc.New(ctx)
	if err != nil {
		return xerrors.Errorf("failed to create trace exporter: %w", err)
	}
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithResource(r),
		sdktrace.WithBatcher(traceExporter),
	)
	otel.SetTracerProvider(otelpyroscope.NewTracerProvider(traceProvider))

	exporter, err := otelprometheus.New()
	if err != nil {
		return xerrors.Errorf("failed to create exporter: %w", err)
	}
	// NOTE: Gauge(UpDownCounter), Summary or Untyped does not support exemplars
	// https://github.com/prometheus/client_golang/blob/v1.20.4/prometheus/metric.go#L200
	meter := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter)).Meter("reftest-server")
	httpRequestsDurationMicroSeconds, err := meter.Int64Histogram("http_requests_duration_micro_seconds")
	if err != nil {
		return xerrors.Errorf("failed to create histogram: %w", err)
	}
	s.comparisons, err = meter.Int64Counter("reftest_comparisons")
	if err != nil {
		return xerrors.Errorf("failed to create counter: %w", err)
	}

	logger, err := newLogger()
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	mux := myhttp.NewServerMux(logger, httpRequestsDurationMicroSeconds)

	mux.HandleFuncWithMiddleware("POST /compare", s.handleCompare)

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(http.StatusText(http.StatusOK)))
	})

	mux.Handle("GET /metrics", promhttp.InstrumentMetricHandler(
		prometheus.DefaultRegisterer, promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{
			EnableOpenMetrics: true,
		}),
	))

	if Debug {
		mux.HandleFunc("GET /debug/pprof/", pprof.Index)
		mux.HandleFunc("GET /debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("GET /debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("GET /debug/pprof/trace", pprof.Trace)
		mux.HandleFunc("GET /debug/pprof/profile", pyroscopepprof.Profile)
	}

	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		return xerrors.Errorf("failed to listen on address %s: %w", s.address, err)
	}

	server := &http.Server{
		Handler: mux,
	}
	server.SetKeepAlivesEnabled(s.keepAlive)

	go func() {
		if err := server.Serve(netutil.LimitListener(listener, s.maxConnections)); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("failed to serve HTTP", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM)
	<-quit
	time.Sleep(s.lameduck)

	ctx, cancel := context.WithTimeout(ctx, s.terminationGracePeriod)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return xerrors.Errorf("failed to shutdown server: %w", err)
	}

	if err := traceProvider.Shutdown(ctx); err != nil {
		return xerrors.Errorf("failed to shutdown trace provider: %w", err)
	}

	if err := profiler.Stop(); err != nil {
		return xerrors.Errorf("failed to shutdown profiler: %w", err)
	}

	return nil
}

func newLogger() (*slog.Logger, error) {
	logLevel := slog.LevelInfo
	if v, ok := os.LookupEnv("GO_LOG"); ok {
		if err := logLevel.UnmarshalText([]byte(v)); err != nil {
			return nil, xerrors.Errorf("failed to parse log level: %w", err)
		}
	}
	handlerOpts := &slog.HandlerOptions{
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
	}
	if Debug {
		return slog.New(slog.NewTextHandler(os.Stderr, handlerOpts)), nil
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, handlerOpts)), nil
}

type Record struct {
	Passed  bool   `json:"passed"`
	Message string `json:"message"`
}

type CompareResponse struct {
	Passed          bool     `json:"passed"`
	Reason          string   `json:"reason"`
	Message         string   `json:"message,omitempty"`
	DifferentPixels *int     `json:"differentPixels,omitempty"`
	MaxDelta        *int     `json:"maxDelta,omitempty"`
	Records         []Record `json:"records"`
	Report          string   `json:"report,omitempty"`
	DiffData        string   `json:"diffData,omitempty"`
}

func (s *Server) handleCompare(w http.ResponseWriter, r *http.Request) {
	logger := myhttp.Logger(r.Context())

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var expectEqual bool
	switch op := r.FormValue("op"); op {
	case "", "==":
		expectEqual = true
	case "!=":
		expectEqual = false
	default:
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	fuzz, err := reftest.ParseFuzz(r.FormValue("fuzzy"))
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	testSnapshot, testName, err := readSnapshot(r, "test")
	if err != nil {
		logger.Debug("failed to read test snapshot", "error", err)
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	referenceSnapshot, referenceName, err := readSnapshot(r, "reference")
	if err != nil {
		logger.Debug("failed to read reference snapshot", "error", err)
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	opts := []reftest.Option{reftest.WithLogger(logr.FromSlogHandler(logger.Handler()))}
	if r.FormValue("pixel-compare") != "false" {
		opts = append(opts, reftest.WithPixelComparer(s.pixelDiff))
	}

	response := CompareResponse{Records: []Record{}}
	var report bytes.Buffer
	reporter := reftest.NewReporter(reftest.NewComparator(opts...), reftest.RecorderFunc(func(passed bool, message string) {
		response.Records = append(response.Records, Record{Passed: passed, Message: message})
	}), &report)
	result := reporter.Check(testSnapshot, referenceSnapshot, expectEqual, fuzz, testName, referenceName)

	response.Passed = result.Passed
	response.Reason = result.Reason.String()
	response.Message = result.Message
	response.DifferentPixels = result.DifferentPixels
	response.MaxDelta = result.MaxDelta
	response.Report = report.String()

	if !result.Passed && result.DifferentPixels != nil {
		diffData, err := s.diffData(testSnapshot, referenceSnapshot)
		if err != nil {
			logger.Warn("failed to render diff image", "error", err)
		}
		response.DiffData = diffData
	}

	if s.comparisons != nil {
		s.comparisons.Add(r.Context(), 1, metric.WithAttributes(
			attribute.Key("passed").Bool(result.Passed),
			attribute.Key("reason").String(result.Reason.String()),
		))
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		logger.Error("Failed to encode response", "error", err)
	}
}

func (s *Server) diffData(test *snapshot.Snapshot, reference *snapshot.Snapshot) (string, error) {
	diffResult, err := s.pixelDiff.Calculate(test.Image(), reference.Image())
	if err != nil {
		return "", err
	}
	encoded, err := snapshot.New(diffResult.Image).PNG()
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(encoded), nil
}

// readSnapshot decodes the uploaded file field and returns it with the name to
// report, taken from the "<field>-name" form value or the uploaded filename.
func readSnapshot(r *http.Request, field string) (*snapshot.Snapshot, string, error) {
	file, header, err := r.FormFile(field)
	if err != nil {
		return nil, "", xerrors.Errorf("failed to read form file %s: %w", field, err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, "", xerrors.Errorf("failed to read %s: %w", field, err)
	}

	s, err := snapshot.Decode(data)
	if err != nil {
		return nil, "", err
	}

	name := r.FormValue(field + "-name")
	if name == "" {
		name = header.Filename
	}
	return s, name, nil
}

func main() {
	if err := env.Load(); err != nil {
		log.Fatalf("Failed to load environment: %v", err)
	}

	ctx := context.Background()

	server := NewServer()
	if err := server.Start(ctx); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
