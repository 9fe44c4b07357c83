package s3

import (
	"bufio"
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/xml"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const mockBucket = "mgi-reports"

// NewMockForTests returns a Store whose HTTP transport is an in-process
// bucket. It understands the object calls Store makes: PUT, GET, HEAD,
// DELETE and ListObjectsV2.
func NewMockForTests() *Store {
	bucket := &fakeBucket{objects: make(map[string]fakeObject), now: time.Now}
	cfg, _ := config.LoadDefaultConfig(context.Background(),
		config.WithRegion("us-east-1"),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("AKIDREPORTS", "reports-secret", "")),
		config.WithRequestChecksumCalculation(aws.RequestChecksumCalculationWhenRequired),
	)
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.HTTPClient = &http.Client{Transport: bucket}
		o.UsePathStyle = true
		o.BaseEndpoint = aws.String("https://s3.reports.test")
	})
	return &Store{client: client, bucket: mockBucket, presign: s3.NewPresignClient(client)}
}

type fakeObject struct {
	data     []byte
	header   http.Header
	modified time.Time
}

// fakeBucket serves a single path-style bucket from memory.
type fakeBucket struct {
	mu      sync.Mutex
	objects map[string]fakeObject
	now     func() time.Time
}

func (b *fakeBucket) RoundTrip(req *http.Request) (*http.Response, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, key, _ := strings.Cut(strings.TrimPrefix(req.URL.Path, "/"), "/")

	if req.Method == http.MethodGet && req.URL.Query().Get("list-type") == "2" {
		return b.list(req.URL.Query().Get("prefix"))
	}
	switch req.Method {
	case http.MethodPut:
		var data []byte
		if req.Body != nil {
			raw, err := io.ReadAll(req.Body)
			if err != nil {
				return nil, err
			}
			data = raw
		}
		if strings.Contains(req.Header.Get("Content-Encoding"), "aws-chunked") ||
			req.Header.Get("X-Amz-Decoded-Content-Length") != "" {
			if decoded, ok := dechunk(data); ok {
				data = decoded
			}
		}
		sum := md5.Sum(data)
		h := http.Header{}
		h.Set("ETag", `"`+hex.EncodeToString(sum[:])+`"`)
		if ct := req.Header.Get("Content-Type"); ct != "" {
			h.Set("Content-Type", ct)
		}
		if enc := withoutChunked(req.Header.Get("Content-Encoding")); enc != "" {
			h.Set("Content-Encoding", enc)
		}
		for name, values := range req.Header {
			if strings.HasPrefix(strings.ToLower(name), "x-amz-meta-") {
				h[name] = append([]string(nil), values...)
			}
		}
		b.objects[key] = fakeObject{data: data, header: h, modified: b.now().UTC()}
		return reply(http.StatusOK, nil, http.Header{"ETag": {h.Get("ETag")}}), nil
	case http.MethodHead, http.MethodGet:
		obj, ok := b.objects[key]
		if !ok {
			if req.Method == http.MethodHead {
				return reply(http.StatusNotFound, nil, nil), nil
			}
			return reply(http.StatusNotFound, []byte(noSuchKeyXML), http.Header{"Content-Type": {"application/xml"}}), nil
		}
		h := obj.header.Clone()
		h.Set("Content-Length", strconv.Itoa(len(obj.data)))
		h.Set("Last-Modified", obj.modified.Format(http.TimeFormat))
		if req.Method == http.MethodHead {
			return reply(http.StatusOK, nil, h), nil
		}
		return reply(http.StatusOK, obj.data, h), nil
	case http.MethodDelete:
		delete(b.objects, key)
		return reply(http.StatusNoContent, nil, nil), nil
	}
	return reply(http.StatusNotImplemented, nil, nil), nil
}

type listResult struct {
	XMLName     xml.Name      `xml:"ListBucketResult"`
	Name        string        `xml:"Name"`
	Prefix      string        `xml:"Prefix"`
	KeyCount    int           `xml:"KeyCount"`
	IsTruncated bool          `xml:"IsTruncated"`
	Contents    []listContent `xml:"Contents"`
}

type listContent struct {
	Key          string `xml:"Key"`
	Size         int    `xml:"Size"`
	ETag         string `xml:"ETag"`
	LastModified string `xml:"LastModified"`
}

func (b *fakeBucket) list(prefix string) (*http.Response, error) {
	out := listResult{Name: mockBucket, Prefix: prefix}
	for key, obj := range b.objects {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		out.Contents = append(out.Contents, listContent{
			Key:          key,
			Size:         len(obj.data),
			ETag:         obj.header.Get("ETag"),
			LastModified: obj.modified.Format(time.RFC3339),
		})
	}
	sort.Slice(out.Contents, func(i, j int) bool { return out.Contents[i].Key < out.Contents[j].Key })
	out.KeyCount = len(out.Contents)
	body, err := xml.Marshal(out)
	if err != nil {
		return nil, err
	}
	return reply(http.StatusOK, append([]byte(xml.Header), body...), http.Header{"Content-Type": {"application/xml"}}), nil
}

func reply(status int, body []byte, h http.Header) *http.Response {
	if h == nil {
		h = http.Header{}
	}
	return &http.Response{
		StatusCode:    status,
		Header:        h,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
	}
}

const noSuchKeyXML = `<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>The specified key does not exist.</Message></Error>`

func withoutChunked(enc string) string {
	var keep []string
	for _, part := range strings.Split(enc, ",") {
		if part = strings.TrimSpace(part); part != "" && part != "aws-chunked" {
			keep = append(keep, part)
		}
	}
	return strings.Join(keep, ",")
}

// dechunk strips aws-chunked framing: "<hex size>[;ext]\r\n<data>\r\n" repeated
// until a zero-size chunk, optionally followed by trailers.
func dechunk(raw []byte) ([]byte, bool) {
	r := bufio.NewReader(bytes.NewReader(raw))
	var out bytes.Buffer
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return nil, false
		}
		sizeField, _, _ := strings.Cut(strings.TrimRight(line, "\r\n"), ";")
		size, err := strconv.ParseInt(strings.TrimSpace(sizeField), 16, 64)
		if err != nil || size < 0 {
			return nil, false
		}
		if size == 0 {
			return out.Bytes(), true
		}
		if _, err := io.CopyN(&out, r, size); err != nil {
			return nil, false
		}
		if _, err := r.Discard(2); err != nil {
			return nil, false
		}
	}
}
