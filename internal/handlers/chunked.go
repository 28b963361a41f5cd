package handlers

import (
	"bytes"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
)

// maxSizeLineLen bounds how far into a body we look for the first CRLF when
// sniffing for aws-chunked framing.
const maxSizeLineLen = 100

// MaybeDecodeChunked strips aws-chunked framing from a request body when
// present. Decoding is attempted when the request advertises it
// (x-amz-decoded-content-length or an aws-chunked Content-Encoding) or when
// the body itself looks framed. On any malformed structure the raw body is
// returned unchanged: better to store the client's bytes than to reject
// uploads from SDKs with slightly different framing.
func MaybeDecodeChunked(r *http.Request, body []byte) []byte {
	hasDecodedLen := r.Header.Get("x-amz-decoded-content-length") != ""
	hasAWSChunked := strings.Contains(r.Header.Get("Content-Encoding"), "aws-chunked")

	if !hasDecodedLen && !hasAWSChunked && !looksLikeChunked(body) {
		return body
	}

	decoded, ok := decodeChunkedBody(body)
	if !ok {
		return body
	}
	slog.Info("decoded chunked request body",
		"original_len", len(body), "decoded_len", len(decoded))
	return decoded
}

// looksLikeChunked sniffs whether body begins with a plausible chunk size
// line: a hex size (optionally followed by ;chunk-signature=...) within the
// first maxSizeLineLen bytes, naming no more data than the body holds.
func looksLikeChunked(body []byte) bool {
	if len(body) < 4 {
		return false
	}
	crlf := bytes.Index(body, []byte("\r\n"))
	if crlf <= 0 || crlf > maxSizeLineLen {
		return false
	}
	sizeHex, _, _ := strings.Cut(string(body[:crlf]), ";")
	size, err := strconv.ParseUint(strings.TrimSpace(sizeHex), 16, 64)
	if err != nil || size == 0 {
		return false
	}
	return size <= uint64(len(body)-(crlf+2))
}

// decodeChunkedBody walks the chunk framing: hex size line, CRLF, payload,
// CRLF, terminated by a zero-size chunk. Trailers after the terminator are
// ignored. Returns ok=false when the framing is malformed or decodes to
// nothing.
func decodeChunkedBody(body []byte) ([]byte, bool) {
	var decoded []byte
	pos := 0

	for pos < len(body) {
		rest := body[pos:]
		crlf := bytes.Index(rest, []byte("\r\n"))
		if crlf < 0 {
			return nil, false
		}
		if crlf == 0 {
			pos += 2
			continue
		}
		sizeHex, _, _ := strings.Cut(string(rest[:crlf]), ";")
		size, err := strconv.ParseUint(strings.TrimSpace(sizeHex), 16, 64)
		if err != nil {
			return nil, false
		}
		if size == 0 {
			break
		}
		dataStart := pos + crlf + 2
		dataEnd := dataStart + int(size)
		if dataEnd > len(body) {
			return nil, false
		}
		decoded = append(decoded, body[dataStart:dataEnd]...)
		pos = dataEnd
		if pos+2 <= len(body) && body[pos] == '\r' && body[pos+1] == '\n' {
			pos += 2
		}
	}

	if len(decoded) == 0 {
		return nil, false
	}
	return decoded, true
}
