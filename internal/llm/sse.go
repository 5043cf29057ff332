package llm

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"
)

// readChunks parses server-sent events from a generation response body and
// delivers one chunk per data frame on the returned channel. The channel is
// closed when the body is exhausted or ctx is cancelled; the body is closed
// when reading finishes.
//
// Format handled:
//   - "data: <json>" (or "data:<json>") lines carry the payload.
//   - Lines starting with ":" are comments and are skipped.
//   - An empty line terminates the current event; multiple data lines in one
//     event are joined with newlines before unmarshaling.
//   - Malformed JSON yields a chunk with Err set; reading continues.
func readChunks(ctx context.Context, body io.ReadCloser) <-chan chunk {
	ch := make(chan chunk)
	go func() {
		defer close(ch)
		defer body.Close()

		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		var dataBuf strings.Builder

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			if !scanner.Scan() {
				if dataBuf.Len() > 0 {
					emitChunk(ctx, ch, dataBuf.String())
				}
				return
			}

			line := scanner.Text()
			switch {
			case line == "":
				if dataBuf.Len() > 0 {
					emitChunk(ctx, ch, dataBuf.String())
					dataBuf.Reset()
				}
			case strings.HasPrefix(line, ":"):
				// comment
			case strings.HasPrefix(line, "data:"):
				payload := strings.TrimPrefix(line, "data:")
				payload = strings.TrimPrefix(payload, " ")
				if dataBuf.Len() > 0 {
					dataBuf.WriteByte('\n')
				}
				dataBuf.WriteString(payload)
			default:
				// unknown field, skip
			}
		}
	}()
	return ch
}

func emitChunk(ctx context.Context, ch chan<- chunk, raw string) {
	var c chunk
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		c = chunk{Err: "unmarshal chunk: " + err.Error()}
	}
	select {
	case ch <- c:
	case <-ctx.Done():
	}
}
