// Command gateway exposes the Master Engine's streamed RPCs over plain
// HTTP for browser clients: POST /upload, GET /status/{id}, GET
// /retrieve/{id}. It generalizes torua's handleData request-forwarding
// style (build a target URL, forward with a bounded timeout, stream the
// response back) to the transcode job's three client-facing operations.
package main

import (
	"context"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
)

func main() {
	listen := getenv("GATEWAY_LISTEN", ":8090")
	masterAddr := os.Getenv("MASTER_ADDR")
	if masterAddr == "" {
		log.Fatal("missing env MASTER_ADDR")
	}

	g := &gateway{masterAddr: strings.TrimRight(masterAddr, "/")}

	mux := http.NewServeMux()
	mux.HandleFunc("/upload", g.handleUpload)
	mux.HandleFunc("/status/", g.handleForwardGet("/status/"))
	mux.HandleFunc("/retrieve/", g.handleForwardGet("/retrieve/"))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{
		Addr:              listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Printf("gateway: listening on %s, forwarding to master %s", listen, g.masterAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("gateway: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("gateway: shutdown error: %v", err)
	}
	log.Println("gateway stopped")
}

type gateway struct {
	masterAddr string
	client     http.Client
}

// handleUpload forwards a browser's multipart upload straight through to
// the master's streamed Upload endpoint, relaying status and body
// verbatim rather than re-encoding it.
func (g *gateway) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Minute)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.masterAddr+"/upload", r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	req.Header.Set("Content-Type", r.Header.Get("Content-Type"))

	resp, err := g.client.Do(req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	relay(w, resp)
}

// handleForwardGet builds a GET-forwarding handler for a path prefix,
// generalizing torua's forwardGet to any of the master's read-only,
// ID-suffixed endpoints.
func (g *gateway) handleForwardGet(prefix string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, prefix)
		if id == "" {
			http.Error(w, "missing id", http.StatusBadRequest)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.masterAddr+prefix+id, http.NoBody)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}

		resp, err := g.client.Do(req)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		defer resp.Body.Close()

		relay(w, resp)
	}
}

func relay(w http.ResponseWriter, resp *http.Response) {
	for k, vs := range resp.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
