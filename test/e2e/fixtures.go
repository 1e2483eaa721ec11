// Package e2e provides end-to-end tests; this file builds minimal binary files
// for the supported upload formats.
package e2e

import (
	"archive/zip"
	"bytes"

	"github.com/xuri/excelize/v2"
)

// SupportedFileExtensions is the list of file extensions used in file-based
// E2E tests. Covers plain text (.txt, .md, .rst) and OOXML (.docx, .xlsx).
// PDF is exercised by internal/extract tests; a minimal PDF with extractable
// text is not generated here.
var SupportedFileExtensions = []string{
	".txt", ".md", ".rst",
	".docx", ".xlsx",
}

// BuildMinimalFile returns the bytes of a minimal file of the given extension
// containing the given text. For plain types the content is the raw text; for
// binary types it is the full file.
func BuildMinimalFile(ext, text string) ([]byte, error) {
	switch ext {
	case ".docx":
		return minimalDocx(text), nil
	case ".xlsx":
		return minimalXlsx(text), nil
	default:
		return []byte(text), nil
	}
}

func minimalDocx(text string) []byte {
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	fw, _ := w.Create("word/document.xml")
	_, _ = fw.Write([]byte(`<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body><w:p><w:r><w:t>` + text + `</w:t></w:r></w:p></w:body></w:document>`))
	_ = w.Close()
	return buf.Bytes()
}

func minimalXlsx(text string) []byte {
	f := excelize.NewFile()
	defer f.Close()
	f.SetCellValue("Sheet1", "A1", text)
	var buf bytes.Buffer
	_, _ = f.WriteTo(&buf)
	return buf.Bytes()
}
