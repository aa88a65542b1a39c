package cluster

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"time"
)

// httpClient is shared by every unary RPC in the cluster. A 5-second
// timeout is generous for registration, score, and status calls, all of
// which are small JSON round trips; streamed calls use streamClient
// instead since they legitimately run for as long as a transcode does.
var httpClient = &http.Client{Timeout: 5 * time.Second}

// streamClient has no request timeout; callers are expected to bound a
// streamed call with a context deadline or cancellation instead, since the
// duration of a shard transcode is not predictable up front.
var streamClient = &http.Client{}

// PostJSON sends a JSON-encoded POST and decodes a JSON response. It is the
// transport for every unary RPC in the internal surface (RegisterWorker,
// ReportScore, ReportShardStatus, the election RPCs, GetCurrentMaster,
// GetNodeStats).
func PostJSON(ctx context.Context, url string, body, out any) error {
	reqBody, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("http %s: %d", url, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// GetJSON sends a GET and decodes a JSON response. Used for GetStatus,
// GetCurrentMaster, and registry introspection endpoints.
func GetJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return err
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("http %s: %d", url, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// PostStream sends a streamed RPC whose request carries a JSON metadata
// part and a binary data part, multiplexed as multipart/form-data so the
// body never has to be buffered in full to compute a boundary or length.
// The caller supplies data as an io.Reader; PostStream pipes it through a
// multipart.Writer on a background goroutine so a slow or large upload does
// not require loading it into memory first.
//
// The response body is returned unread and must be closed by the caller;
// callers that expect a JSON response should decode resp.Body themselves,
// and callers that expect a streamed binary response should copy from it.
func PostStream(ctx context.Context, url string, meta any, data io.Reader) (*http.Response, error) {
	metaBytes, err := json.Marshal(meta)
	if err != nil {
		return nil, err
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		err := func() error {
			metaPart, err := mw.CreateFormField("meta")
			if err != nil {
				return err
			}
			if _, err := metaPart.Write(metaBytes); err != nil {
				return err
			}

			dataPart, err := mw.CreateFormFile("data", "shard")
			if err != nil {
				return err
			}
			if _, err := io.Copy(dataPart, data); err != nil {
				return err
			}
			return mw.Close()
		}()
		pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, pr)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := streamClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, fmt.Errorf("http %s: %d", url, resp.StatusCode)
	}
	return resp, nil
}

// ReadStreamRequest parses a multipart request built by PostStream,
// decoding the "meta" field into metaOut and returning the "data" part as
// an io.Reader the handler can stream directly to disk or to the media
// executor's stdin without buffering. The returned closer must be called
// once the caller is done reading.
func ReadStreamRequest(r *http.Request, metaOut any) (io.Reader, io.Closer, error) {
	mediaType, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return nil, nil, fmt.Errorf("parse content-type: %w", err)
	}
	if mediaType != "multipart/form-data" {
		return nil, nil, fmt.Errorf("unexpected content-type %q", mediaType)
	}

	mr := multipart.NewReader(r.Body, params["boundary"])

	metaPart, err := mr.NextPart()
	if err != nil {
		return nil, nil, fmt.Errorf("read meta part: %w", err)
	}
	if metaPart.FormName() != "meta" {
		return nil, nil, fmt.Errorf("expected meta part first, got %q", metaPart.FormName())
	}
	if err := json.NewDecoder(metaPart).Decode(metaOut); err != nil {
		return nil, nil, fmt.Errorf("decode meta: %w", err)
	}

	dataPart, err := mr.NextPart()
	if err != nil {
		return nil, nil, fmt.Errorf("read data part: %w", err)
	}
	if dataPart.FormName() != "data" {
		return nil, nil, fmt.Errorf("expected data part second, got %q", dataPart.FormName())
	}

	return dataPart, r.Body, nil
}

// WriteStreamResponse writes a bare binary response with a small set of
// metadata headers, used for the "server streams bytes back" half of
// Retrieve, RequestShard, and SendBackup, where a full multipart envelope
// would be overkill for a response that is just bytes plus a status line.
func WriteStreamResponse(w http.ResponseWriter, headers map[string]string, contentType string, data io.Reader) error {
	for k, v := range headers {
		w.Header().Set(k, v)
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, err := io.Copy(w, data)
	return err
}

// GetStream issues a GET and returns the response for the caller to stream
// from, used by Retrieve, RequestShard, and SendBackup clients. The caller
// must close the returned response's body.
func GetStream(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, err
	}

	resp, err := streamClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, fmt.Errorf("http %s: %d", url, resp.StatusCode)
	}
	return resp, nil
}
