package main

import (
	"context"
	"fmt"
	"net/http/httptest"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"Behavior-Chain/internal/api"
	"Behavior-Chain/internal/recorder"
	bundlecache "Behavior-Chain/internal/storage/redis"
	"Behavior-Chain/internal/symbol"
	"Behavior-Chain/sdk/go/behavior"
)

func main() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	server := api.NewServer(":0", api.Options{
		Recorder:   recorder.New(),
		Cache:      bundlecache.NewLocalBundleCache(0),
		Dictionary: symbol.NewDictionary(),
	})
	srv := httptest.NewServer(server.Handler(ctx))
	defer srv.Close()

	client, err := behavior.NewClient(srv.URL, srv.Client())
	if err != nil {
		panic(err)
	}

	trader := common.HexToAddress("0x00000000000000000000000000000000000000a1")
	for i, result := range []string{"profit", "profit", "loss", "profit"} {
		if _, err := client.RecordEvent(ctx, behavior.Event{
			Name:     "trade_executed",
			Actor:    trader,
			Sequence: uint32(i),
			Result:   result,
		}); err != nil {
			panic(err)
		}
	}

	bundle, err := client.GenerateProof(ctx, behavior.ProofRequest{
		Actor: trader,
		Agent: &behavior.AgentPattern{EventType: "trade_executed", ResultFilter: "profit", MinCount: 3},
	})
	if err != nil {
		panic(err)
	}
	fmt.Printf("bundle %s proves %d events under root %s\n", bundle.ID, len(bundle.Events), bundle.Root.Hex())

	verdict, err := client.VerifyProof(ctx, bundle.Raw)
	if err != nil {
		panic(err)
	}
	fmt.Printf("valid=%v\n", verdict.Valid)

	export, err := client.ExportProof(ctx, bundle.ID, behavior.ExportRequest{ChainID: 1, BlockNumber: 19_000_000})
	if err != nil {
		panic(err)
	}
	fmt.Printf("calldata: %d bytes\n", len(export.Calldata))
}
