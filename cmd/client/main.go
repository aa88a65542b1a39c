// Command client is a small CLI against the Master Engine's streamed
// RPCs: submit a video for transcoding, poll its status, and retrieve the
// finished artifact. Exit codes follow §6: 0 success, 1 argument error,
// 2 network error, 3 job failed.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dreamware/transcast/internal/cluster"
)

const (
	exitSuccess     = 0
	exitArgError    = 1
	exitNetworkErr  = 2
	exitJobFailed   = 3
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: client <upload|status|retrieve> [flags]")
		return exitArgError
	}

	switch args[0] {
	case "upload":
		return cmdUpload(args[1:])
	case "status":
		return cmdStatus(args[1:])
	case "retrieve":
		return cmdRetrieve(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", args[0])
		return exitArgError
	}
}

func cmdUpload(args []string) int {
	fs := flag.NewFlagSet("upload", flag.ContinueOnError)
	master := fs.String("master", "", "master base URL")
	input := fs.String("input", "", "path to source video")
	width := fs.Int("width", 1280, "target width")
	height := fs.Int("height", 720, "target height")
	format := fs.String("format", "mp4", "target container format")
	if err := fs.Parse(args); err != nil {
		return exitArgError
	}
	if *master == "" || *input == "" {
		fmt.Fprintln(os.Stderr, "upload requires -master and -input")
		return exitArgError
	}

	f, err := os.Open(*input)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open input: %v\n", err)
		return exitArgError
	}
	defer f.Close()

	meta := cluster.UploadMeta{
		Filename: fileBase(*input),
		Width:    *width,
		Height:   *height,
		Format:   *format,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	resp, err := cluster.PostStream(ctx, strings.TrimRight(*master, "/")+"/upload", meta, f)
	if err != nil {
		fmt.Fprintf(os.Stderr, "upload: %v\n", err)
		return exitNetworkErr
	}
	defer resp.Body.Close()

	var ack cluster.UploadAck
	if err := decodeBody(resp, &ack); err != nil {
		fmt.Fprintf(os.Stderr, "decode response: %v\n", err)
		return exitNetworkErr
	}
	if !ack.Accepted {
		fmt.Fprintf(os.Stderr, "upload rejected: %s\n", ack.Reason)
		return exitJobFailed
	}

	fmt.Println(ack.JobID)
	return exitSuccess
}

func cmdStatus(args []string) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	master := fs.String("master", "", "master base URL")
	jobID := fs.String("job", "", "job id")
	if err := fs.Parse(args); err != nil {
		return exitArgError
	}
	if *master == "" || *jobID == "" {
		fmt.Fprintln(os.Stderr, "status requires -master and -job")
		return exitArgError
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var status cluster.StatusResponse
	if err := cluster.GetJSON(ctx, strings.TrimRight(*master, "/")+"/status/"+*jobID, &status); err != nil {
		fmt.Fprintf(os.Stderr, "status: %v\n", err)
		return exitNetworkErr
	}

	fmt.Printf("%s: %s %s\n", status.JobID, status.Status, status.Message)
	if strings.HasPrefix(status.Status, "failed:") {
		return exitJobFailed
	}
	return exitSuccess
}

func cmdRetrieve(args []string) int {
	fs := flag.NewFlagSet("retrieve", flag.ContinueOnError)
	master := fs.String("master", "", "master base URL")
	jobID := fs.String("job", "", "job id")
	output := fs.String("output", "", "path to write the retrieved artifact")
	if err := fs.Parse(args); err != nil {
		return exitArgError
	}
	if *master == "" || *jobID == "" || *output == "" {
		fmt.Fprintln(os.Stderr, "retrieve requires -master, -job, and -output")
		return exitArgError
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	resp, err := cluster.GetStream(ctx, strings.TrimRight(*master, "/")+"/retrieve/"+*jobID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "retrieve: %v\n", err)
		return exitNetworkErr
	}
	defer resp.Body.Close()

	out, err := os.Create(*output)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create output: %v\n", err)
		return exitArgError
	}
	defer out.Close()

	if _, err := copyBody(out, resp); err != nil {
		fmt.Fprintf(os.Stderr, "write output: %v\n", err)
		return exitNetworkErr
	}
	return exitSuccess
}

func fileBase(path string) string {
	parts := strings.Split(strings.ReplaceAll(path, "\\", "/"), "/")
	return parts[len(parts)-1]
}
