package feed

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"unicode"

	"golang.org/x/net/html/charset"
)

var errTrailingContent = errors.New("content after document element")

// checkWellFormed runs a strict token pass over an XML feed. gofeed recovers
// from undefined entities and trailing garbage; a feed that needs recovery
// is rejected whole. Named HTML entities are accepted.
func checkWellFormed(body []byte) error {
	dec := xml.NewDecoder(bytes.NewReader(bytes.TrimPrefix(body, []byte("\xef\xbb\xbf"))))
	dec.Strict = true
	dec.Entity = xml.HTMLEntity
	dec.CharsetReader = charset.NewReaderLabel

	depth, roots := 0, 0
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("malformed xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if depth == 0 {
				roots++
				if roots > 1 {
					return errTrailingContent
				}
			}
			depth++
		case xml.EndElement:
			depth--
		case xml.CharData:
			if depth == 0 && len(bytes.TrimFunc(t, isSpaceOrBOM)) > 0 {
				return errTrailingContent
			}
		}
	}
	if roots == 0 {
		return errors.New("malformed xml: no document element")
	}
	return nil
}

func isSpaceOrBOM(r rune) bool {
	return unicode.IsSpace(r) || r == '\uFEFF'
}
