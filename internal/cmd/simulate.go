package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ryhazerus/restbucket"
	"github.com/ryhazerus/restbucket/internal/discordtest"
	"github.com/ryhazerus/restbucket/store"
)

// simulateConfig describes a simulated workload.
type simulateConfig struct {
	Credential   string
	Requests     int
	Buckets      int
	Limit        int
	Window       time.Duration
	GlobalLimit  int
	GlobalWindow time.Duration
	Latency      time.Duration
	Workers      int
	MaxAttempts  int
	Pace         float64
}

func (c simulateConfig) validate() error {
	switch {
	case c.Requests <= 0:
		return errors.New("--requests must be positive")
	case c.Buckets <= 0:
		return errors.New("--buckets must be positive")
	case c.Limit <= 0:
		return errors.New("--limit must be positive")
	case c.Window <= 0:
		return errors.New("--window must be positive")
	}
	return nil
}

// bucketReport aggregates the requests sent to one channel.
type bucketReport struct {
	Channel    string
	Requests   int
	OK         int
	Failed     int
	MaxLatency time.Duration
}

type simulationReport struct {
	Elapsed    time.Duration
	Buckets    []bucketReport
	ServerHits int
	Server429s int
	Outcomes   map[string]float64
	Throttles  map[string]float64
}

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run a workload against a fake rate limited API",
	Long: `Run a workload against an in-process fake API that enforces per-channel
and optional global limits. When --sqlite or --redis is set, the global rate
limit state is shared through that store.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := simulateConfig{
			Credential:   viper.GetString("simulate.credential"),
			Requests:     viper.GetInt("simulate.requests"),
			Buckets:      viper.GetInt("simulate.buckets"),
			Limit:        viper.GetInt("simulate.limit"),
			Window:       viper.GetDuration("simulate.window"),
			GlobalLimit:  viper.GetInt("simulate.global_limit"),
			GlobalWindow: viper.GetDuration("simulate.global_window"),
			Latency:      viper.GetDuration("simulate.latency"),
			Workers:      viper.GetInt("simulate.workers"),
			MaxAttempts:  viper.GetInt("simulate.max_attempts"),
			Pace:         viper.GetFloat64("simulate.pace"),
		}
		if err := cfg.validate(); err != nil {
			return err
		}

		report, err := runSimulation(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		return writeReport(cmd.OutOrStdout(), report)
	},
}

func runSimulation(ctx context.Context, cfg simulateConfig) (*simulationReport, error) {
	srv := discordtest.NewServer(discordtest.Config{
		Limit:        cfg.Limit,
		Window:       cfg.Window,
		GlobalLimit:  cfg.GlobalLimit,
		GlobalWindow: cfg.GlobalWindow,
		Latency:      cfg.Latency,
	})
	defer srv.Close()

	var globalOpts []restbucket.GlobalOption
	s, err := openStore(ctx)
	switch {
	case err == nil:
		// Pending resets are served from memory; the shared store is consulted
		// for resets written by other processes.
		globalOpts = append(globalOpts, restbucket.WithStore(store.NewTieredStore(s)))
	case !errors.Is(err, errNoStore):
		return nil, err
	}
	if cfg.Pace > 0 {
		globalOpts = append(globalOpts, restbucket.WithPace(rate.Limit(cfg.Pace), 1))
	}
	global := restbucket.NewGlobalState(globalOpts...)
	defer global.Close()

	reg := prometheus.NewRegistry()
	limiter := restbucket.New(cfg.Credential,
		restbucket.WithGlobalState(global),
		restbucket.WithLogger(logger),
		restbucket.WithWorkers(cfg.Workers),
		restbucket.WithRetryPolicy(restbucket.RetryPolicy{MaxAttempts: cfg.MaxAttempts}),
		restbucket.WithMetrics(reg),
	)
	defer limiter.Close()

	client := &http.Client{Transport: limiter.Transport(nil, nil)}

	type result struct {
		channel string
		latency time.Duration
		ok      bool
	}
	results := make([]result, cfg.Requests)

	logger.Debug("starting simulation",
		zap.Int("requests", cfg.Requests),
		zap.Int("buckets", cfg.Buckets),
		zap.String("server", srv.URL))

	start := time.Now()
	var wg sync.WaitGroup
	for i := range results {
		channel := strconv.Itoa(i % cfg.Buckets)
		wg.Add(1)
		go func() {
			defer wg.Done()
			begin := time.Now()
			r := result{channel: channel}
			defer func() {
				r.latency = time.Since(begin)
				results[i] = r
			}()

			req, err := http.NewRequestWithContext(ctx, http.MethodPost,
				srv.URL+"/api/v10/channels/"+channel+"/messages",
				strings.NewReader(`{"content":"hello"}`))
			if err != nil {
				logger.Warn("build request", zap.Error(err))
				return
			}
			resp, err := client.Do(req)
			if err != nil {
				logger.Warn("request failed", zap.String("channel", channel), zap.Error(err))
				return
			}
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			r.ok = resp.StatusCode < 300
		}()
	}
	wg.Wait()

	report := &simulationReport{
		Elapsed:    time.Since(start),
		ServerHits: len(srv.Hits()),
		Server429s: srv.Throttled(),
	}

	byChannel := make(map[string]*bucketReport)
	for _, r := range results {
		b, ok := byChannel[r.channel]
		if !ok {
			b = &bucketReport{Channel: r.channel}
			byChannel[r.channel] = b
		}
		b.Requests++
		if r.ok {
			b.OK++
		} else {
			b.Failed++
		}
		b.MaxLatency = max(b.MaxLatency, r.latency)
	}
	for _, b := range byChannel {
		report.Buckets = append(report.Buckets, *b)
	}
	sort.Slice(report.Buckets, func(i, j int) bool {
		a, _ := strconv.Atoi(report.Buckets[i].Channel)
		b, _ := strconv.Atoi(report.Buckets[j].Channel)
		return a < b
	})

	report.Outcomes, err = gatherCounter(reg, "restbucket_requests_total", "outcome")
	if err != nil {
		return nil, err
	}
	report.Throttles, err = gatherCounter(reg, "restbucket_throttles_total", "scope")
	if err != nil {
		return nil, err
	}
	return report, nil
}

// gatherCounter reads a counter vector from reg, keyed by the given label.
func gatherCounter(reg prometheus.Gatherer, name, label string) (map[string]float64, error) {
	families, err := reg.Gather()
	if err != nil {
		return nil, fmt.Errorf("gather metrics: %w", err)
	}

	out := make(map[string]float64)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == label {
					out[lp.GetValue()] += m.GetCounter().GetValue()
				}
			}
		}
	}
	return out, nil
}

func writeReport(w io.Writer, r *simulationReport) error {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Channel", "Requests", "OK", "Failed", "Max Latency"})

	total, ok, failed := 0, 0, 0
	for _, b := range r.Buckets {
		t.AppendRow(table.Row{b.Channel, b.Requests, b.OK, b.Failed, b.MaxLatency.Round(time.Millisecond)})
		total += b.Requests
		ok += b.OK
		failed += b.Failed
	}
	t.AppendFooter(table.Row{"Total", total, ok, failed, r.Elapsed.Round(time.Millisecond)})
	t.Render()

	_, err := fmt.Fprintf(w, "Server calls: %d (%d rate limited)\n", r.ServerHits, r.Server429s)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "Outcomes: %s\nThrottles: %s\n", formatCounts(r.Outcomes), formatCounts(r.Throttles))
	return err
}

func formatCounts(m map[string]float64) string {
	if len(m) == 0 {
		return "-"
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%g", k, m[k]))
	}
	return strings.Join(parts, " ")
}

func init() {
	f := simulateCmd.Flags()
	f.Int("requests", 20, "Number of requests to send")
	f.Int("buckets", 2, "Number of channels the requests are spread over")
	f.Int("limit", 5, "Calls per window and channel allowed by the fake API")
	f.Duration("window", time.Second, "Length of a channel window")
	f.Int("global-limit", 0, "Calls per global window across all channels (0 disables)")
	f.Duration("global-window", time.Second, "Length of the global window")
	f.Duration("latency", 0, "Added latency per call")
	f.Int("workers", 16, "Maximum concurrent calls")
	f.Int("max-attempts", 0, "Give up after this many 429s per request (0 retries forever)")
	f.Float64("pace", 0, "Space calls to at most this many per second (0 disables)")
	f.String("credential", "Bot bucketctl", "Credential the simulated limiter runs as")

	for _, name := range []string{"requests", "buckets", "limit", "window", "latency", "workers", "pace", "credential"} {
		_ = viper.BindPFlag("simulate."+name, f.Lookup(name))
	}
	_ = viper.BindPFlag("simulate.global_limit", f.Lookup("global-limit"))
	_ = viper.BindPFlag("simulate.global_window", f.Lookup("global-window"))
	_ = viper.BindPFlag("simulate.max_attempts", f.Lookup("max-attempts"))

	rootCmd.AddCommand(simulateCmd)
}
