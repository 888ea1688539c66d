package config

import (
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/japanese"
)

const DefaultEncoding = "shift_jis"

// names inside motion and pose files are stored in a legacy codepage,
// shift_jis for everything produced by MikuMikuDance
var currentEncoding encoding.Encoding = japanese.ShiftJIS

func lookupEncoding(name string) (encoding.Encoding, bool) {
	switch strings.ToLower(name) {
	case "", "shift_jis", "shift-jis", "sjis":
		return japanese.ShiftJIS, true
	case "euc-jp":
		return japanese.EUCJP, true
	}
	for _, enc := range charmap.All {
		if cm, ok := enc.(*charmap.Charmap); ok {
			if cm.String() == name {
				return cm, true
			}
		}
	}
	return nil, false
}

func SetEncoding(name string) error {
	if enc, ok := lookupEncoding(name); ok {
		currentEncoding = enc
		return nil
	}
	return errors.Errorf("Failed to find encoding %q", name)
}

func ListEncodings() []string {
	list := []string{"shift_jis", "euc-jp"}
	for _, enc := range charmap.All {
		if cm, ok := enc.(*charmap.Charmap); ok {
			list = append(list, cm.String())
		}
	}
	return list
}

func GetEncoding() encoding.Encoding {
	return currentEncoding
}
