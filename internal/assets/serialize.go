package assets

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
)

const responsePrefix = "---HTTP-RESPONSE---\n"

// Serialize captures resp, body included, in HTTP/1.1 wire format.
// resp.Body is consumed and replaced with an in-memory copy, so the caller
// can still forward the response afterwards.
func Serialize(resp *http.Response) ([]byte, error) {
	var body []byte
	if resp.Body != nil {
		var err error
		body, err = io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read response body: %w", err)
		}
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))

	// frame the capture with Content-Length whatever the original transfer encoding was
	snapshot := *resp
	snapshot.Header = resp.Header.Clone()
	snapshot.Body = io.NopCloser(bytes.NewReader(body))
	snapshot.ContentLength = int64(len(body))
	snapshot.TransferEncoding = nil
	snapshot.Close = false
	snapshot.Request = nil
	if snapshot.ProtoMajor == 0 {
		snapshot.Proto, snapshot.ProtoMajor, snapshot.ProtoMinor = "HTTP/1.1", 1, 1
	}

	b, err := httputil.DumpResponse(&snapshot, true)
	if err != nil {
		return nil, err
	}
	return append([]byte(responsePrefix), b...), nil
}

// Deserialize parses a capture written by Serialize.
func Deserialize(b []byte) (*http.Response, error) {
	if !bytes.HasPrefix(b, []byte(responsePrefix)) {
		return nil, fmt.Errorf("invalid prefix: expected %q", responsePrefix)
	}

	resp, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(b[len(responsePrefix):])), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize response: %w", err)
	}
	return resp, nil
}
