package media

import (
	"bytes"
	"log"
)

// lineWriter buffers ffmpeg's chatty stderr/stdout output and emits it one
// trimmed line at a time, prefixed with the operation label, following the
// same pattern the BitRiver-Live transcoder used for its own ffmpeg
// process output.
type lineWriter struct {
	prefix string
}

func newLineWriter(label, stream string) *lineWriter {
	return &lineWriter{prefix: "[" + label + "][" + stream + "] "}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	total := len(p)
	for len(p) > 0 {
		idx := bytes.IndexByte(p, '\n')
		var line []byte
		if idx == -1 {
			line = p
			p = nil
		} else {
			line = p[:idx]
			p = p[idx+1:]
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		log.Printf("%s%s", w.prefix, line)
	}
	return total, nil
}
