package ingest

import (
	"archive/zip"
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/hyperjump/kaiwa/internal/models"
)

func buildDocx(t *testing.T, documentXML string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/document.xml")
	if err != nil {
		t.Fatalf("create zip entry: %v", err)
	}
	if _, err := w.Write([]byte(documentXML)); err != nil {
		t.Fatalf("write zip entry: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	return buf.Bytes()
}

func TestDetectFormat(t *testing.T) {
	docx := buildDocx(t, `<w:document><w:body></w:body></w:document>`)

	tests := []struct {
		name     string
		filename string
		content  []byte
		want     models.Format
		wantErr  error
	}{
		{"pdf by extension", "report.pdf", []byte("%PDF-1.7 ..."), models.FormatPDF, nil},
		{"pdf by magic despite txt extension", "report.txt", []byte("%PDF-1.7 ..."), models.FormatPDF, nil},
		{"docx by content", "report.docx", docx, models.FormatDOCX, nil},
		{"txt by extension", "notes.TXT", []byte("hello"), models.FormatTXT, nil},
		{"csv by extension", "data.csv", []byte("a,b\n1,2\n"), models.FormatCSV, nil},
		{"unsupported extension", "image.png", []byte{0x89, 0x50}, "", ErrUnsupportedFormat},
		{"no extension", "README", []byte("hello"), "", ErrUnsupportedFormat},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DetectFormat(tt.filename, tt.content)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("format = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExtractDOCX(t *testing.T) {
	doc := buildDocx(t, `<w:document><w:body>`+
		`<w:p w:rsidR="X"><w:r><w:t>First </w:t></w:r><w:r><w:t>paragraph.</w:t></w:r></w:p>`+
		`<w:p><w:r><w:t xml:space="preserve">Second paragraph.</w:t></w:r></w:p>`+
		`</w:body></w:document>`)

	text, err := ExtractText(models.FormatDOCX, doc)
	if err != nil {
		t.Fatalf("ExtractText: %v", err)
	}
	want := "First paragraph.\nSecond paragraph."
	if text != want {
		t.Errorf("text = %q, want %q", text, want)
	}
}

func TestExtractDOCX_NotAZip(t *testing.T) {
	_, err := ExtractText(models.FormatDOCX, []byte("not a zip"))
	if !errors.Is(err, ErrExtraction) {
		t.Fatalf("error = %v, want ErrExtraction", err)
	}
}

func TestExtractCSV(t *testing.T) {
	content := []byte("name,age\nAlice,30\nBob,41\n")
	text, err := ExtractText(models.FormatCSV, content)
	if err != nil {
		t.Fatalf("ExtractText: %v", err)
	}
	if !strings.Contains(text, "Columns: name, age") {
		t.Errorf("missing header line in %q", text)
	}
	if !strings.Contains(text, "name: Alice | age: 30") {
		t.Errorf("missing flattened row in %q", text)
	}
}

func TestExtractCSV_VariableWidthRows(t *testing.T) {
	content := []byte("name,age\nAlice,30,extra\nBob\n")
	text, err := ExtractText(models.FormatCSV, content)
	if err != nil {
		t.Fatalf("ExtractText: %v", err)
	}
	if !strings.Contains(text, "column 3: extra") {
		t.Errorf("unnamed overflow column missing in %q", text)
	}
	if !strings.Contains(text, "name: Bob") {
		t.Errorf("short row missing in %q", text)
	}
}

func TestExtractPlain(t *testing.T) {
	t.Run("utf8 passthrough", func(t *testing.T) {
		text, err := ExtractText(models.FormatTXT, []byte("héllo wörld"))
		if err != nil {
			t.Fatalf("ExtractText: %v", err)
		}
		if text != "héllo wörld" {
			t.Errorf("text = %q", text)
		}
	})

	t.Run("invalid utf8 replaced", func(t *testing.T) {
		text, err := ExtractText(models.FormatTXT, []byte{'a', 0xFF, 'b'})
		if err != nil {
			t.Fatalf("ExtractText: %v", err)
		}
		if !strings.Contains(text, "a") || !strings.Contains(text, "b") {
			t.Errorf("text = %q", text)
		}
		if strings.Contains(text, "\xFF") {
			t.Errorf("invalid byte survived: %q", text)
		}
	})

	t.Run("utf16 little endian", func(t *testing.T) {
		content := []byte{0xFF, 0xFE, 'h', 0, 'i', 0}
		text, err := ExtractText(models.FormatTXT, content)
		if err != nil {
			t.Fatalf("ExtractText: %v", err)
		}
		if text != "hi" {
			t.Errorf("text = %q, want %q", text, "hi")
		}
	})

	t.Run("utf16 big endian", func(t *testing.T) {
		content := []byte{0xFE, 0xFF, 0, 'h', 0, 'i'}
		text, err := ExtractText(models.FormatTXT, content)
		if err != nil {
			t.Fatalf("ExtractText: %v", err)
		}
		if text != "hi" {
			t.Errorf("text = %q, want %q", text, "hi")
		}
	})
}

func TestExtractText_UnknownFormat(t *testing.T) {
	_, err := ExtractText(models.Format("xlsx"), []byte("data"))
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("error = %v, want ErrUnsupportedFormat", err)
	}
}
