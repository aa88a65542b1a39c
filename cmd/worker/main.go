// Command worker runs the Worker Engine: it registers with a master,
// accepts assigned shards, transcodes them with ffmpeg, and serves results
// back for collection. It generalizes torua's cmd/node to the transcode
// pipeline, replacing its fixed-retry registration with exponential
// backoff.
//
// Required environment:
//   - NODE_ID: unique identifier for this node
//   - MASTER_ADDR: base URL of the master to register with
//
// See internal/config for every other tunable and its default.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/dreamware/transcast/internal/cluster"
	"github.com/dreamware/transcast/internal/config"
	"github.com/dreamware/transcast/internal/storage"
	"github.com/dreamware/transcast/internal/worker"
)

func main() {
	nodeID := os.Getenv("NODE_ID")
	if nodeID == "" {
		log.Fatal("missing env NODE_ID")
	}
	masterAddr := os.Getenv("MASTER_ADDR")
	if masterAddr == "" {
		log.Fatal("missing env MASTER_ADDR")
	}

	cfg := config.FromEnv()

	store, err := storage.NewFileStore(cfg.DataDir + "/backup")
	if err != nil {
		log.Fatalf("open backup store: %v", err)
	}

	peerProvider := func() []cluster.NodeInfo {
		peers := make([]cluster.NodeInfo, 0, len(cfg.Peers))
		for _, addr := range cfg.Peers {
			peers = append(peers, cluster.NodeInfo{Addr: addr})
		}
		return peers
	}

	srv := worker.New(nodeID, cfg.ListenAddr, masterAddr, cfg, store, peerProvider)

	ctx, cancel := context.WithCancel(context.Background())
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-stop
		cancel()
	}()

	if err := srv.Run(ctx); err != nil {
		log.Fatalf("worker: %v", err)
	}
	log.Println("worker stopped")
}
