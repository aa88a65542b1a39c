// Package media shells out to ffmpeg/ffprobe for segmenting source files,
// transcoding individual shards, and concatenating finished shards back
// into one output. Every operation here is a separate short-lived process;
// nothing in this package keeps ffmpeg running across calls.
package media
