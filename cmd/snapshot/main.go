package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"time"

	"movefeed/internal/rest"
)

func main() {
	baseURL := flag.String("base-url", "", "Gateway base URL, e.g. https://feed.example.com/v1")
	apiKey := flag.String("api-key", "", "Gateway API key")
	resource := flag.String("resource", "pools", "Snapshot resource: pools, trades, order-book, or nfts")
	coinType := flag.String("coin-type", "", "Coin type filter for pools")
	poolID := flag.String("pool-id", "", "Pool filter for trades")
	pair := flag.String("pair", "", "Trading pair, e.g. SUI/USDC")
	since := flag.String("since", "", "Trades start time (RFC3339)")
	depth := flag.Int("depth", 20, "Order book depth")
	collection := flag.String("collection", "", "NFT collection filter")
	owner := flag.String("owner", "", "NFT owner filter")
	page := flag.Int("page", 0, "Page number")
	limit := flag.Int("limit", 0, "Page size")
	timeout := flag.Duration("timeout", 30*time.Second, "Overall request timeout")

	flag.Parse()

	logger := log.New(os.Stderr, "[snapshot] ", log.LstdFlags)

	if *baseURL == "" || *apiKey == "" {
		logger.Fatal("--base-url and --api-key are required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	client := rest.NewClient(*baseURL, *apiKey)

	var (
		result any
		err    error
	)
	switch *resource {
	case "pools":
		result, err = client.Pools(ctx, rest.PoolsParams{CoinType: *coinType, Page: *page, Limit: *limit})
	case "trades":
		var sinceMs int64
		if *since != "" {
			t, perr := time.Parse(time.RFC3339, *since)
			if perr != nil {
				logger.Fatalf("Parse --since: %v", perr)
			}
			sinceMs = t.UnixMilli()
		}
		result, err = client.Trades(ctx, rest.TradesParams{PoolID: *poolID, Pair: *pair, SinceMs: sinceMs, Page: *page, Limit: *limit})
	case "order-book":
		if *pair == "" {
			logger.Fatal("--pair is required for order-book")
		}
		result, err = client.OrderBook(ctx, *pair, *depth)
	case "nfts":
		result, err = client.NFTs(ctx, rest.NFTParams{Collection: *collection, Owner: *owner, Page: *page, Limit: *limit})
	default:
		logger.Fatalf("Unknown resource: %s", *resource)
	}
	if err != nil {
		logger.Fatalf("Error: %v", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		logger.Fatalf("Encode result: %v", err)
	}
}
