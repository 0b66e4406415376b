// ABOUTME: Incremental frame decoder with a carry-over buffer across network reads
// ABOUTME: Splits on the blank-line delimiter and parses each complete segment in order

package stream

import (
	"bytes"
)

var (
	delimiter = []byte("\n\n")
	crlf      = []byte("\r\n")
	lf        = []byte("\n")
	dataField = []byte("data:")
)

// Result is the outcome of decoding one segment: either a frame or a
// ProtocolError for that segment alone.
type Result struct {
	Frame Frame
	Err   error
}

// Decoder turns arbitrarily chunked bytes into frames. The zero value is
// ready to use. A Decoder is not safe for concurrent use.
type Decoder struct {
	buf []byte
}

// Feed appends a chunk and returns the results for every segment completed
// by it, in wire order. Incomplete trailing bytes are kept for the next call.
func (d *Decoder) Feed(chunk []byte) []Result {
	d.buf = append(d.buf, chunk...)
	// CRLF pairs split across chunks meet again here before being folded.
	if bytes.Contains(d.buf, crlf) {
		d.buf = bytes.ReplaceAll(d.buf, crlf, lf)
	}

	var results []Result
	for {
		idx := bytes.Index(d.buf, delimiter)
		if idx < 0 {
			break
		}
		segment := d.buf[:idx]
		d.buf = d.buf[idx+len(delimiter):]

		if r, ok := decodeSegment(segment); ok {
			results = append(results, r)
		}
	}

	// Keep the remainder in its own backing array so consumed bytes can be collected.
	d.buf = append([]byte(nil), d.buf...)
	return results
}

// Flush decodes whatever is left in the buffer once the stream has ended.
func (d *Decoder) Flush() []Result {
	segment := d.buf
	d.buf = nil
	if r, ok := decodeSegment(segment); ok {
		return []Result{r}
	}
	return nil
}

// Buffered returns the number of bytes waiting for a delimiter.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// decodeSegment parses a segment, skipping blank ones.
func decodeSegment(segment []byte) (Result, bool) {
	segment = bytes.TrimSpace(stripDataPrefix(segment))
	if len(segment) == 0 {
		return Result{}, false
	}
	frame, err := parseFrame(segment)
	if err != nil {
		return Result{Err: err}, true
	}
	return Result{Frame: frame}, true
}

// stripDataPrefix unwraps SSE style "data:" lines. Segments without the
// prefix are returned untouched.
func stripDataPrefix(segment []byte) []byte {
	trimmed := bytes.TrimLeft(segment, " \t\n")
	if !bytes.HasPrefix(trimmed, dataField) && !bytes.HasPrefix(trimmed, []byte(":")) && !bytes.HasPrefix(trimmed, []byte("event:")) {
		return segment
	}

	var out [][]byte
	for _, line := range bytes.Split(trimmed, lf) {
		if !bytes.HasPrefix(line, dataField) {
			// event names and ":" comments carry nothing the protocol uses
			continue
		}
		line = bytes.TrimPrefix(line, dataField)
		line = bytes.TrimPrefix(line, []byte(" "))
		out = append(out, line)
	}
	return bytes.Join(out, lf)
}
