package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"AgroSubsidy-Chain/sdk/go/agrosubsidy"
)

func main() {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(agrosubsidy.Status{
			Chain:    "hardhat",
			SchemeID: "scheme-001",
			Cursor:   128,
		})
	})
	mux.HandleFunc("/demo", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(agrosubsidy.TriggerAck{
			Status:  "queued",
			EventID: "demo-5f2b",
			Region:  "DemoDistrict",
		})
	})
	mux.HandleFunc("/logs", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(agrosubsidy.Logs{
			Now: time.Now().UnixMilli(),
			Entries: []agrosubsidy.LogEntry{
				{Timestamp: time.Now().UnixMilli(), Level: "info", Text: "检测到灾害事件"},
			},
		})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	client, err := agrosubsidy.NewClient(srv.URL, srv.Client())
	if err != nil {
		panic(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	status, err := client.Status(ctx)
	if err != nil {
		panic(err)
	}
	fmt.Printf("agent on %s, cursor at block %d\n", status.Chain, status.Cursor)

	ack, err := client.Demo(ctx)
	if err != nil {
		panic(err)
	}
	fmt.Printf("queued demo event %s for %s\n", ack.EventID, ack.Region)

	logs, err := client.Logs(ctx, 0, 10)
	if err != nil {
		panic(err)
	}
	for _, entry := range logs.Entries {
		fmt.Printf("[%s] %s\n", entry.Level, entry.Text)
	}
}
