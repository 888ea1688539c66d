package utils

import (
	"bytes"

	"github.com/pkg/errors"
	"golang.org/x/text/transform"

	"github.com/mogaika/mmd_runtime/config"
)

// BytesToString decodes nil-terminated legacy encoded field.
// Fixed size name fields are often cut in the middle of a multibyte
// character, decoder replaces such tail instead of failing.
func BytesToString(bs []byte) string {
	n := BytesStringLength(bs)

	s, _, err := transform.Bytes(config.GetEncoding().NewDecoder(), bs[0:n])
	if err != nil {
		return string(bs[0:n])
	}

	return string(s)
}

func BytesStringLength(bs []byte) int {
	if l := bytes.IndexByte(bs, 0); l == -1 {
		return len(bs)
	} else {
		return l
	}
}

// StringToBytesBuffer encodes s into fixed size field, truncating it when needed
func StringToBytesBuffer(s string, bufSize int) ([]byte, error) {
	bs, err := StringToBytes(s)
	if err != nil {
		return nil, err
	}
	r := make([]byte, bufSize)
	copy(r, bs)
	return r, nil
}

func StringToBytes(s string) ([]byte, error) {
	bs, _, err := transform.Bytes(config.GetEncoding().NewEncoder(), []byte(s))
	if err != nil {
		return nil, errors.Wrapf(err, "Failed to encode %q", s)
	}
	return bs, nil
}

func DecodeText(data []byte) (string, error) {
	s, _, err := transform.Bytes(config.GetEncoding().NewDecoder(), data)
	if err != nil {
		return "", errors.Wrapf(err, "Failed to decode text")
	}
	return string(s), nil
}
