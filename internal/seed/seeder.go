// Package seed populates a running node with demonstration markets so a
// fresh deployment has something to browse and bet on.
package seed

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/veilmarket/veilmarket/internal/client"
)

// demoMarket is one canned market definition.
type demoMarket struct {
	question  string
	options   []string
	daysOpen  int
	minBetEth string
	maxBetEth string
}

// catalog holds the demo markets, seeded in order up to the configured count.
var catalog = []demoMarket{
	{
		question:  "Will ETH close above $5,000 by the end of the quarter?",
		options:   []string{"Yes", "No"},
		daysOpen:  30,
		minBetEth: "0.001",
		maxBetEth: "1",
	},
	{
		question:  "Which rollup settles the most transactions this month?",
		options:   []string{"Arbitrum", "Base", "Optimism", "zkSync"},
		daysOpen:  14,
		minBetEth: "0.001",
		maxBetEth: "0.5",
	},
	{
		question:  "Will the next protocol upgrade ship on schedule?",
		options:   []string{"On time", "Delayed", "Cancelled"},
		daysOpen:  60,
		minBetEth: "0.01",
		maxBetEth: "2",
	},
	{
		question:  "Will gas on mainnet average under 10 gwei next week?",
		options:   []string{"Yes", "No"},
		daysOpen:  7,
		minBetEth: "0.001",
		maxBetEth: "0.25",
	},
	{
		question:  "Total value locked in restaking at month end?",
		options:   []string{"Under $10B", "$10B to $20B", "Over $20B"},
		daysOpen:  21,
		minBetEth: "0.005",
		maxBetEth: "1",
	},
}

// Seeder creates demo markets through the SDK client, so seeded data passes
// exactly the same signature and fee checks as real submissions.
type Seeder struct {
	sdk    *client.Client
	count  int
	logger *slog.Logger
}

// NewSeeder creates a Seeder. count caps how many catalog markets are
// created; zero or negative means the whole catalog.
func NewSeeder(sdk *client.Client, count int, logger *slog.Logger) *Seeder {
	if count <= 0 || count > len(catalog) {
		count = len(catalog)
	}
	return &Seeder{
		sdk:    sdk,
		count:  count,
		logger: logger.With(slog.String("component", "seeder")),
	}
}

// WaitReady polls the node's health endpoint until it answers or the context
// is cancelled.
func (s *Seeder) WaitReady(ctx context.Context, nodeURL string) error {
	httpc := &http.Client{Timeout: 2 * time.Second}
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, nodeURL+"/api/health", nil)
		if err != nil {
			return fmt.Errorf("seed: build health request: %w", err)
		}
		resp, err := httpc.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("seed: node never became ready: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

// Run creates the demo markets one by one. A single failed creation aborts
// the run; markets already created stay.
func (s *Seeder) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "seeding demo markets",
		slog.Int("count", s.count),
		slog.String("creator", s.sdk.Address().Hex()),
	)

	for i, m := range catalog[:s.count] {
		receipt, err := s.sdk.CreateMarket(ctx, client.CreateMarketParams{
			Question:  m.question,
			Options:   m.options,
			EndTime:   time.Now().Add(time.Duration(m.daysOpen) * 24 * time.Hour),
			MinBetEth: m.minBetEth,
			MaxBetEth: m.maxBetEth,
		})
		if err != nil {
			return fmt.Errorf("seed: create market %d: %w", i+1, err)
		}
		s.logger.InfoContext(ctx, "market created",
			slog.Uint64("market_id", receipt.MarketID),
			slog.String("question", m.question),
		)
	}

	s.logger.InfoContext(ctx, "seeding complete", slog.Int("created", s.count))
	return nil
}
