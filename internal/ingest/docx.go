package ingest

import (
	"archive/zip"
	"bytes"
	"fmt"
	"regexp"
	"strings"
)

// docxDocumentXMLPath is the conventional location of the document body
// inside a .docx package.
const docxDocumentXMLPath = "word/document.xml"

// contentTypesPath locates the OOXML part manifest.
const contentTypesPath = "[Content_Types].xml"

// docxMainContentType identifies the main document part in the manifest.
const docxMainContentType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"

// wpTag matches a whole paragraph element, attributes included.
var wpTag = regexp.MustCompile(`(?s)<w:p[ >].*?</w:p>`)

// wtTag matches <w:t>text</w:t> with any attributes (e.g. xml:space="preserve").
var wtTag = regexp.MustCompile(`<w:t[^>]*>([^<]*)</w:t>`)

// overrideRes extract the PartName for the main document from Override
// elements, covering both attribute orders.
var overrideRes = []*regexp.Regexp{
	regexp.MustCompile(`<Override[^>]+PartName="([^"]+)"[^>]+ContentType="` + regexp.QuoteMeta(docxMainContentType) + `"`),
	regexp.MustCompile(`<Override[^>]+ContentType="` + regexp.QuoteMeta(docxMainContentType) + `"[^>]+PartName="([^"]+)"`),
}

// findDocxMainDocumentPath resolves the main document path from
// [Content_Types].xml, or returns empty when the manifest is absent or silent.
func findDocxMainDocumentPath(zr *zip.Reader) string {
	data, err := readZipFile(zr, contentTypesPath)
	if err != nil {
		return ""
	}
	for _, re := range overrideRes {
		if m := re.FindSubmatch(data); len(m) > 1 {
			return strings.TrimPrefix(string(m[1]), "/")
		}
	}
	return ""
}

func readZipFile(zr *zip.Reader, name string) ([]byte, error) {
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, err
		}
		var buf bytes.Buffer
		_, err = buf.ReadFrom(rc)
		_ = rc.Close()
		if err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
	return nil, fmt.Errorf("%s not found in archive", name)
}

// extractDOCX extracts text from .docx bytes. DOCX is a ZIP containing an
// OOXML document; we take the inner text of every <w:t> node, joining runs
// within a paragraph directly and paragraphs with newlines so paragraph
// boundaries survive into chunking.
func extractDOCX(content []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("not a zip archive: %w", err)
	}

	docPath := findDocxMainDocumentPath(zr)
	if docPath == "" {
		docPath = docxDocumentXMLPath
	}
	docXML, err := readZipFile(zr, docPath)
	if err != nil {
		return "", err
	}

	paragraphs := wpTag.FindAll(docXML, -1)
	var b strings.Builder
	for _, p := range paragraphs {
		runs := wtTag.FindAllSubmatch(p, -1)
		if len(runs) == 0 {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		for _, r := range runs {
			b.Write(r[1])
		}
	}
	if b.Len() > 0 {
		return b.String(), nil
	}
	// Some producers emit paragraphs without attributes that the paragraph
	// regex misses; fall back to collecting all text nodes.
	runs := wtTag.FindAllSubmatch(docXML, -1)
	for i, r := range runs {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.Write(r[1])
	}
	return strings.TrimSpace(b.String()), nil
}
