package extract

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"path"
	"strings"
)

const (
	docxDefaultBody     = "word/document.xml"
	docxContentTypes    = "[Content_Types].xml"
	docxMainContentType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"
	wordNamespace       = "http://schemas.openxmlformats.org/wordprocessingml/2006/main"
)

// extractDOCX extracts text from .docx bytes. Runs (<w:t>) are concatenated within a
// paragraph, tabs and breaks become whitespace, and paragraphs are separated by newlines.
func extractDOCX(content []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("extract DOCX: not a zip: %w", err)
	}
	body := docxBodyPath(zr)
	f := findZipFile(zr, body)
	if f == nil {
		return "", fmt.Errorf("extract DOCX: %s not found", body)
	}
	rc, err := f.Open()
	if err != nil {
		return "", fmt.Errorf("extract DOCX: open %s: %w", body, err)
	}
	defer rc.Close()
	text, err := wordText(rc)
	if err != nil {
		return "", fmt.Errorf("extract DOCX: parse %s: %w", body, err)
	}
	return text, nil
}

// docxBodyPath resolves the main document part from [Content_Types].xml, falling back to
// word/document.xml.
func docxBodyPath(zr *zip.Reader) string {
	f := findZipFile(zr, docxContentTypes)
	if f == nil {
		return docxDefaultBody
	}
	rc, err := f.Open()
	if err != nil {
		return docxDefaultBody
	}
	defer rc.Close()

	var types struct {
		Overrides []struct {
			PartName    string `xml:"PartName,attr"`
			ContentType string `xml:"ContentType,attr"`
		} `xml:"Override"`
	}
	if err := xml.NewDecoder(rc).Decode(&types); err != nil {
		return docxDefaultBody
	}
	for _, o := range types.Overrides {
		if o.ContentType == docxMainContentType {
			return strings.TrimPrefix(path.Clean(o.PartName), "/")
		}
	}
	return docxDefaultBody
}

func findZipFile(zr *zip.Reader, name string) *zip.File {
	for _, f := range zr.File {
		if f.Name == name {
			return f
		}
	}
	return nil
}

func wordText(r io.Reader) (string, error) {
	dec := xml.NewDecoder(r)
	var out, para strings.Builder
	inText := false
	flush := func() {
		if p := strings.TrimSpace(para.String()); p != "" {
			if out.Len() > 0 {
				out.WriteByte('\n')
			}
			out.WriteString(p)
		}
		para.Reset()
	}
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Space != wordNamespace {
				continue
			}
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				para.WriteByte('\t')
			case "br", "cr":
				para.WriteByte(' ')
			}
		case xml.EndElement:
			if t.Name.Space != wordNamespace {
				continue
			}
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				flush()
			}
		case xml.CharData:
			if inText {
				para.Write(t)
			}
		}
	}
	flush()
	return out.String(), nil
}
