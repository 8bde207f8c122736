package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/freeeve/writing-arena/internal/harness"
)

func main() {
	var (
		baseURL   string
		humans    int
		synthetic string
		numRuns   int
		workers   int
		words     int
		ranked    bool
		useWS     bool
		timeout   time.Duration
		seed      uint64
		jsonOut   bool
		debug     bool
	)

	flag.StringVar(&baseURL, "url", "http://localhost:8009", "server base URL")
	flag.IntVar(&humans, "humans", 2, "real players per match")
	flag.StringVar(&synthetic, "synthetic", "novice,intermediate,advanced", "comma-separated skill tiers for synthetic seats")
	flag.IntVar(&numRuns, "n", 1, "number of matches to run")
	flag.IntVar(&workers, "workers", 1, "concurrency (parallel matches)")
	flag.IntVar(&words, "words", 150, "approximate words per submission")
	flag.BoolVar(&ranked, "ranked", false, "create ranked matches")
	flag.BoolVar(&useWS, "ws", true, "wait on WebSocket events between polls")
	flag.DurationVar(&timeout, "phase-timeout", 3*time.Minute, "max wait for a phase to advance")
	flag.Uint64Var(&seed, "seed", 0, "base seed (0 = random)")
	flag.BoolVar(&jsonOut, "json", false, "output results as JSON")
	flag.BoolVar(&debug, "debug", false, "enable debug logging")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	if debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	var tiers []string
	for _, t := range strings.Split(synthetic, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tiers = append(tiers, t)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		log.Info().Msg("Shutting down...")
		cancel()
	}()

	results := make([]*harness.Result, numRuns)
	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, max(1, workers))
	errCount := 0

	for i := 0; i < numRuns; i++ {
		wg.Add(1)
		sem <- struct{}{}

		go func(idx int) {
			defer wg.Done()
			defer func() { <-sem }()

			runSeed := seed
			if seed != 0 {
				runSeed = seed + uint64(idx)
			}
			r := harness.NewRunner(harness.Config{
				BaseURL:      baseURL,
				Label:        fmt.Sprintf("harness%d", idx+1),
				Humans:       humans,
				Synthetic:    tiers,
				Ranked:       ranked,
				Words:        words,
				PhaseTimeout: timeout,
				UseWS:        useWS,
				Seed:         runSeed,
			})
			res, err := r.Run(ctx)
			if err != nil {
				log.Error().Err(err).Int("run", idx+1).Msg("Match failed")
				mu.Lock()
				errCount++
				mu.Unlock()
				return
			}

			mu.Lock()
			results[idx] = res
			mu.Unlock()
			log.Info().Int("run", idx+1).Str("matchId", res.MatchID).Dur("elapsed", res.Elapsed).Msg("Match completed")
		}(i)
	}

	wg.Wait()

	if jsonOut {
		printJSON(results, numRuns, errCount)
	} else {
		printSummary(results, errCount)
	}
	if errCount > 0 {
		os.Exit(1)
	}
}

func printSummary(results []*harness.Result, errCount int) {
	type stats struct {
		total     float64
		n         int
		fallbacks int
	}
	byPhase := make(map[int]*stats)
	completed := 0
	var elapsed time.Duration
	for _, r := range results {
		if r == nil {
			continue
		}
		if r.Completed {
			completed++
		}
		elapsed += r.Elapsed
		for _, pr := range r.Phases {
			s := byPhase[pr.Phase]
			if s == nil {
				s = &stats{}
				byPhase[pr.Phase] = s
			}
			for _, o := range pr.Outcomes {
				s.total += o.Score
				s.n++
				if o.Fallback {
					s.fallbacks++
				}
			}
		}
	}

	fmt.Printf("\nResults (%d matches completed):\n", completed)
	if errCount > 0 {
		fmt.Printf("  (%d matches failed)\n", errCount)
	}
	phases := make([]int, 0, len(byPhase))
	for p := range byPhase {
		phases = append(phases, p)
	}
	sort.Ints(phases)
	for _, p := range phases {
		s := byPhase[p]
		fmt.Printf("  phase %d:  %d submissions, avg score %.1f, %d fallback\n",
			p, s.n, s.total/float64(s.n), s.fallbacks)
	}
	if completed > 0 {
		fmt.Printf("  avg match time: %s\n", (elapsed / time.Duration(completed)).Round(time.Second))
	}
}

func printJSON(results []*harness.Result, total, errCount int) {
	out := struct {
		Total   int               `json:"total"`
		Errors  int               `json:"errors"`
		Results []*harness.Result `json:"results"`
	}{
		Total:   total,
		Errors:  errCount,
		Results: results,
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(out)
}
