package extract

import (
	"archive/zip"
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlainTextPassthrough(t *testing.T) {
	got := Text([]byte("  hello world\n"), "text/plain")
	assert.Equal(t, "hello world", got)
}

func TestMarkdownWithCharsetParameter(t *testing.T) {
	got := Text([]byte("# Title"), "text/markdown; charset=utf-8")
	assert.Equal(t, "# Title", got)
}

func TestInvalidUTF8IsDropped(t *testing.T) {
	got := Text([]byte("ok\xff\xfe\x00done"), "text/plain")
	assert.Equal(t, "okdone", got)
}

func TestUnsupportedMIMEReturnsEmpty(t *testing.T) {
	assert.Empty(t, Text([]byte("data"), "application/octet-stream"))
	assert.False(t, Supported("application/octet-stream"))
}

func TestImageOCRStubReturnsEmpty(t *testing.T) {
	assert.Empty(t, Text([]byte{0x89, 'P', 'N', 'G'}, "image/png"))
	assert.True(t, Supported("image/png"))
}

func TestPDFTextRuns(t *testing.T) {
	pdf := []byte("%PDF-1.4\nBT /F1 12 Tf (Hello) Tj (World\\)) Tj ET\n%%EOF")
	got := Text(pdf, "application/pdf")
	assert.Contains(t, got, "Hello")
	assert.Contains(t, got, "World)")
}

func TestPDFWithoutTextRunsIsEmpty(t *testing.T) {
	assert.Empty(t, Text([]byte("%PDF-1.4 stream ...binary... endstream"), "application/pdf"))
}

func TestDOCXParagraphs(t *testing.T) {
	doc := `<?xml version="1.0"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
  <w:body>
    <w:p><w:r><w:t>First paragraph</w:t></w:r></w:p>
    <w:p><w:r><w:t>Second</w:t><w:tab/><w:t>tabbed</w:t></w:r></w:p>
  </w:body>
</w:document>`
	got := Text(buildDocx(t, doc), docxMIME)
	assert.Contains(t, got, "First paragraph\n")
	assert.Contains(t, got, "Second\ttabbed")
}

func TestDOCXWithoutDocumentXMLIsEmpty(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/styles.xml")
	require.NoError(t, err)
	_, _ = w.Write([]byte("<styles/>"))
	require.NoError(t, zw.Close())
	assert.Empty(t, Text(buf.Bytes(), docxMIME))
}

func TestTruncatedZipIsEmpty(t *testing.T) {
	assert.Empty(t, Text([]byte("PK\x03\x04broken"), docxMIME))
}

const docxMIME = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"

func buildDocx(t *testing.T, documentXML string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/document.xml")
	require.NoError(t, err)
	_, err = w.Write([]byte(documentXML))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}
