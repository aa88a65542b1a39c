package master

import (
	"io"
	"net/http"
	"time"
)

// idleTimeoutReader resets the connection's read deadline before every Read,
// so a client that stops sending chunks mid-upload fails the stream after
// timeout of silence instead of blocking the handler forever, per §5's
// "idle timeouts (default 30s) on chunk arrival."
type idleTimeoutReader struct {
	rc      *http.ResponseController
	r       io.Reader
	timeout time.Duration
}

func (d *idleTimeoutReader) Read(p []byte) (int, error) {
	if err := d.rc.SetReadDeadline(time.Now().Add(d.timeout)); err != nil {
		return 0, err
	}
	return d.r.Read(p)
}

// idleTimeoutResponseWriter is the write-side counterpart used on Retrieve:
// a client that stalls reading the response body fails the stream the same
// way, instead of pinning the handler goroutine indefinitely.
type idleTimeoutResponseWriter struct {
	http.ResponseWriter
	rc      *http.ResponseController
	timeout time.Duration
}

func (d *idleTimeoutResponseWriter) Write(p []byte) (int, error) {
	if err := d.rc.SetWriteDeadline(time.Now().Add(d.timeout)); err != nil {
		return 0, err
	}
	return d.ResponseWriter.Write(p)
}
