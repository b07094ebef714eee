package e2e

import (
	"archive/zip"
	"bytes"
	"encoding/csv"
	"encoding/xml"
	"fmt"

	"github.com/xuri/excelize/v2"
)

// FileExtensions are the formats the corpus is written in, rotated across documents.
// PDF is covered by internal/extract; producing one with extractable text needs a writer
// the module does not depend on.
var FileExtensions = []string{".txt", ".md", ".docx", ".xlsx", ".csv"}

// EncodeFile returns the bytes of a minimal file of the given extension holding text.
func EncodeFile(ext, title, text string) ([]byte, error) {
	switch ext {
	case ".txt":
		return []byte(title + "\n\n" + text), nil
	case ".md":
		return []byte("# " + title + "\n\n" + text + "\n"), nil
	case ".docx":
		return minimalDocx(title, text)
	case ".xlsx":
		return minimalXlsx(title, text)
	case ".csv":
		return minimalCSV(title, text)
	default:
		return nil, fmt.Errorf("no fixture encoder for %q", ext)
	}
}

func minimalDocx(title, text string) ([]byte, error) {
	var body bytes.Buffer
	body.WriteString(`<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>`)
	for _, para := range []string{title, text} {
		body.WriteString(`<w:p><w:r><w:t>`)
		if err := xml.EscapeText(&body, []byte(para)); err != nil {
			return nil, err
		}
		body.WriteString(`</w:t></w:r></w:p>`)
	}
	body.WriteString(`</w:body></w:document>`)

	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	fw, err := w.Create("word/document.xml")
	if err != nil {
		return nil, err
	}
	if _, err := fw.Write(body.Bytes()); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func minimalXlsx(title, text string) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetCellValue("Sheet1", "A1", title); err != nil {
		return nil, err
	}
	if err := f.SetCellValue("Sheet1", "A2", text); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func minimalCSV(title, text string) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write([]string{"title", "text"})
	_ = w.Write([]string{title, text})
	w.Flush()
	return buf.Bytes(), w.Error()
}
