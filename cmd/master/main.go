// Command master runs the Master Engine: it accepts uploads, segments and
// dispatches shards to registered workers, collects and concatenates the
// results, and serves the finished artifact back to clients. It
// generalizes torua's cmd/coordinator to the transcode job pipeline.
//
// Required environment:
//   - NODE_ID: unique identifier for this node
//
// See internal/config for every other tunable and its default.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/dreamware/transcast/internal/config"
	"github.com/dreamware/transcast/internal/master"
	"github.com/dreamware/transcast/internal/storage"
)

func main() {
	nodeID := os.Getenv("NODE_ID")
	if nodeID == "" {
		log.Fatal("missing env NODE_ID")
	}

	cfg := config.FromEnv()

	store, err := storage.NewFileStore(cfg.DataDir + "/artifacts")
	if err != nil {
		log.Fatalf("open artifact store: %v", err)
	}

	srv := master.New(nodeID, cfg.ListenAddr, cfg, store)

	ctx, cancel := context.WithCancel(context.Background())
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-stop
		cancel()
	}()

	if err := srv.Run(ctx); err != nil {
		log.Fatalf("master: %v", err)
	}
	log.Println("master stopped")
}
