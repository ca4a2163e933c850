package nacional

import (
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"io"
)

// maxDocumentSize bounds a decompressed XML document
const maxDocumentSize = 5 << 20

// EncodeDocument gzips xml and encodes it as standard base64, the form the
// national API expects in *XmlGZipB64 fields
func EncodeDocument(xml []byte) (string, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(xml); err != nil {
		return "", err
	}
	if err := zw.Close(); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// DecodeDocument reverses EncodeDocument
func DecodeDocument(encoded string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, err
	}
	zr, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(io.LimitReader(zr, maxDocumentSize))
}
