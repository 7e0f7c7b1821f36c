package api

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

var (
	ErrMalformedRequest = errors.New("malformed request")
	ErrFileNotFound     = errors.New("file not found")
)

// Request is one parsed request. Header names are lower case.
type Request struct {
	Method  string
	Path    string
	Query   string
	Headers map[string]string
	Body    []byte
}

type Limits struct {
	MaxHeaderBytes int
	MaxBodyBytes   int
}

var DefaultLimits = Limits{MaxHeaderBytes: 4096, MaxBodyBytes: 4096}

func malformed(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrMalformedRequest, fmt.Sprintf(format, args...))
}

// ReadRequest parses a request line, headers and a Content-Length body. The body is
// read until the declared length arrives, however many reads that takes.
// io.EOF is returned untouched when the peer sends nothing.
func ReadRequest(r *bufio.Reader, limits Limits) (*Request, error) {
	budget := limits.MaxHeaderBytes

	line, err := readLine(r, &budget)
	if err != nil {
		return nil, err
	}

	parts := strings.Fields(line)
	if len(parts) < 2 {
		return nil, malformed("request line %q", line)
	}
	req := &Request{
		Method:  parts[0],
		Path:    parts[1],
		Headers: make(map[string]string),
	}
	if i := strings.IndexByte(req.Path, '?'); i >= 0 {
		req.Path, req.Query = req.Path[:i], req.Path[i+1:]
	}

	for {
		line, err := readLine(r, &budget)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, malformed("headers truncated")
			}
			return nil, err
		}
		if line == "" {
			break
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, malformed("header line %q", line)
		}
		req.Headers[strings.ToLower(strings.TrimSpace(name))] = strings.TrimSpace(value)
	}

	if te, ok := req.Headers["transfer-encoding"]; ok && !strings.EqualFold(te, "identity") {
		return nil, malformed("transfer-encoding %q not supported", te)
	}

	cl, ok := req.Headers["content-length"]
	if !ok {
		return req, nil
	}
	n, err := strconv.Atoi(cl)
	if err != nil || n < 0 {
		return nil, malformed("content-length %q", cl)
	}
	if n > limits.MaxBodyBytes {
		return nil, malformed("body of %d bytes exceeds limit %d", n, limits.MaxBodyBytes)
	}
	req.Body = make([]byte, n)
	if _, err := io.ReadFull(r, req.Body); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, malformed("body truncated")
		}
		return nil, err
	}
	return req, nil
}

// readLine returns one line without its terminator, charging it against budget.
func readLine(r *bufio.Reader, budget *int) (string, error) {
	var buf bytes.Buffer
	for {
		chunk, err := r.ReadSlice('\n')
		*budget -= len(chunk)
		if *budget < 0 {
			return "", malformed("header section too large")
		}
		buf.Write(chunk)
		if err == nil {
			break
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if errors.Is(err, io.EOF) && buf.Len() > 0 {
			return "", malformed("line truncated")
		}
		return "", err
	}
	return strings.TrimRight(buf.String(), "\r\n"), nil
}

type Response struct {
	Status      int
	ContentType string
	Body        []byte
}

var statusLines = map[int]string{
	200: "HTTP/1.1 200 OK",
	404: "HTTP/1.1 404 Not Found",
}

func OK(contentType string, body []byte) Response {
	return Response{Status: 200, ContentType: contentType, Body: body}
}

func NotFound(msg string) Response {
	return Response{Status: 404, ContentType: "text/plain", Body: []byte(msg + "\n")}
}

// WriteTo serialises the response. Every response closes the connection.
func (resp Response) WriteTo(w io.Writer) (int64, error) {
	line, ok := statusLines[resp.Status]
	if !ok {
		line = statusLines[404]
	}

	var b bytes.Buffer
	b.WriteString(line)
	b.WriteString("\r\n")
	if resp.ContentType != "" {
		fmt.Fprintf(&b, "Content-Type: %s\r\n", resp.ContentType)
	}
	fmt.Fprintf(&b, "Content-Length: %d\r\n", len(resp.Body))
	b.WriteString("Connection: close\r\n\r\n")
	b.Write(resp.Body)

	n, err := w.Write(b.Bytes())
	return int64(n), err
}
