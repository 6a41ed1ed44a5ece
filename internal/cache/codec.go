package cache

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net/http"
)

// encodeResponse 以 HTTP/1.1 报文格式序列化快照：状态行 + 头部 + 空行 + 原始正文。
// 正文不做任何编码，体积与原响应一致。
func encodeResponse(resp *Response) []byte {
	buf := &bytes.Buffer{}
	fmt.Fprintf(buf, "HTTP/1.1 %d %s\r\n", resp.StatusCode, http.StatusText(resp.StatusCode))
	header := resp.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	// 长度由正文决定，写入时统一去掉旧值。
	header.Del("Content-Length")
	header.Del("Transfer-Encoding")
	_ = header.Write(buf)
	buf.WriteString("\r\n")
	buf.Write(resp.Body)
	return buf.Bytes()
}

func decodeResponse(raw []byte) (*Response, error) {
	res, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(raw)), nil)
	if err != nil {
		return nil, fmt.Errorf("decode cached response: %w", err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("read cached body: %w", err)
	}
	return &Response{
		StatusCode: res.StatusCode,
		Header:     res.Header,
		Body:       body,
	}, nil
}
