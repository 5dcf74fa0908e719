package fetcher

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/traditionalchinese"
	"golang.org/x/text/transform"
)

// Decode перекодирует тело страницы в UTF-8.
// "auto" определяет кодировку по Content-Type и <meta charset>.
func Decode(body []byte, name, contentType string) ([]byte, error) {
	var enc encoding.Encoding

	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "utf-8", "utf8":
		return body, nil
	case "gbk", "gb2312":
		enc = simplifiedchinese.GBK
	case "gb18030":
		enc = simplifiedchinese.GB18030
	case "big5":
		enc = traditionalchinese.Big5
	case "auto":
		detected, detectedName, _ := charset.DetermineEncoding(body, contentType)
		if detectedName == "utf-8" {
			return body, nil
		}
		enc = detected
	default:
		return nil, fmt.Errorf("unsupported encoding %q", name)
	}

	decoded, err := io.ReadAll(transform.NewReader(bytes.NewReader(body), enc.NewDecoder()))
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s body: %w", name, err)
	}
	return decoded, nil
}
