package pdfutil

import (
	"bytes"
	"errors"
	"fmt"

	pdf "github.com/ledongthuc/pdf"
)

var ErrPageOutOfRange = errors.New("page index beyond document")

// PageCount parses PDF bytes and returns the number of pages.
func PageCount(data []byte) (int, error) {
	reader := bytes.NewReader(data)
	doc, err := pdf.NewReader(reader, int64(len(data)))
	if err != nil {
		return 0, fmt.Errorf("new pdf reader: %w", err)
	}
	return doc.NumPage(), nil
}

// CheckPage validates a 1-based page index against the actual document, so a
// placement can never target a page the PDF does not have.
func CheckPage(data []byte, page int) error {
	total, err := PageCount(data)
	if err != nil {
		return err
	}
	if page < 1 || page > total {
		return fmt.Errorf("%w: page %d of %d", ErrPageOutOfRange, page, total)
	}
	return nil
}
