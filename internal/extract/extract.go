// Package extract converts uploaded artifact bytes into UTF-8 plain text.
// Extraction is synchronous and CPU-bound; callers run it off the request
// path. An unsupported MIME type yields an empty string, which the ingestion
// pipeline reports as "unsupported content".
package extract

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"io"
	"regexp"
	"strings"
)

// Text extracts plain text from data according to mime. It never returns an
// error for content it cannot handle; an empty result is the failure signal.
func Text(data []byte, mime string) string {
	switch normalize(mime) {
	case "text/plain", "text/markdown", "text/csv", "application/json",
		"text/html", "text/x-markdown", "application/xml", "text/xml":
		return sanitize(data)
	case "application/pdf":
		return pdfText(data)
	case "application/vnd.openxmlformats-officedocument.wordprocessingml.document":
		return docxText(data)
	case "image/png", "image/jpeg", "image/gif", "image/webp", "image/bmp":
		return ocrText(data)
	default:
		return ""
	}
}

// Supported reports whether mime maps to a known extractor.
func Supported(mime string) bool {
	switch normalize(mime) {
	case "text/plain", "text/markdown", "text/csv", "application/json",
		"text/html", "text/x-markdown", "application/xml", "text/xml",
		"application/pdf",
		"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
		"image/png", "image/jpeg", "image/gif", "image/webp", "image/bmp":
		return true
	}
	return false
}

func normalize(mime string) string {
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = mime[:i]
	}
	return strings.ToLower(strings.TrimSpace(mime))
}

// sanitize drops invalid UTF-8 sequences and NUL bytes so the result is safe
// to store in a text column.
func sanitize(data []byte) string {
	s := string(bytes.ToValidUTF8(data, nil))
	s = strings.ReplaceAll(s, "\x00", "")
	return strings.TrimSpace(s)
}

// pdfParen matches literal string runs inside PDF content streams. This is a
// best-effort scan of uncompressed text operators, not a full PDF parser;
// compressed streams yield nothing and the document is reported as empty.
var pdfParen = regexp.MustCompile(`\(((?:\\.|[^\\()])*)\)\s*T[jJ]`)

func pdfText(data []byte) string {
	matches := pdfParen.FindAllSubmatch(data, -1)
	if len(matches) == 0 {
		return ""
	}
	var b strings.Builder
	for _, m := range matches {
		b.WriteString(unescapePDF(string(m[1])))
		b.WriteByte(' ')
	}
	return sanitize([]byte(b.String()))
}

func unescapePDF(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			i++
			switch s[i] {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			case 'r':
				b.WriteByte('\r')
			default:
				b.WriteByte(s[i])
			}
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// docxText unzips the OOXML package and strips the markup from
// word/document.xml, inserting newlines at paragraph boundaries.
func docxText(data []byte) string {
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return ""
	}
	for _, f := range r.File {
		if f.Name != "word/document.xml" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return ""
		}
		defer rc.Close()
		return stripWordXML(rc)
	}
	return ""
}

func stripWordXML(r io.Reader) string {
	dec := xml.NewDecoder(r)
	var b strings.Builder
	for {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		switch t := tok.(type) {
		case xml.CharData:
			b.Write(t)
		case xml.EndElement:
			if t.Name.Local == "p" {
				b.WriteByte('\n')
			}
		case xml.StartElement:
			// w:tab and w:br carry no character data.
			if t.Name.Local == "tab" {
				b.WriteByte('\t')
			} else if t.Name.Local == "br" {
				b.WriteByte('\n')
			}
		}
	}
	return sanitize([]byte(b.String()))
}

// ocrText is a stub. Images are accepted by the pipeline but produce no text
// until an OCR backend is wired in.
func ocrText([]byte) string { return "" }
