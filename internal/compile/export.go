package compile

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/dshills/typserve/internal/world"
)

// pdf page geometry (A4, points).
const (
	pdfPageWidth  = 595
	pdfPageHeight = 842
	pdfMargin     = 50
	pdfLeading    = 14
	pdfFontSize   = 11
)

// writePDF serializes the document's frames as a minimal single-font
// PDF, one page per run of lines that fits the page height.
func writePDF(doc *world.Document) ([]byte, error) {
	var lines []string
	for _, f := range doc.Frames {
		lines = append(lines, strings.Split(f.Text, "\n")...)
	}
	if len(lines) == 0 {
		lines = []string{""}
	}

	perPage := (pdfPageHeight - 2*pdfMargin) / pdfLeading
	var pages [][]string
	for len(lines) > 0 {
		n := min(perPage, len(lines))
		pages = append(pages, lines[:n])
		lines = lines[n:]
	}

	// Objects: 1 catalog, 2 pages, then per page one page object and
	// one content stream, finally the font.
	fontObj := 3 + 2*len(pages)

	var buf bytes.Buffer
	offsets := make([]int, 0, fontObj+1)
	obj := func(body string) {
		offsets = append(offsets, buf.Len())
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", len(offsets), body)
	}

	buf.WriteString("%PDF-1.4\n")

	obj("<< /Type /Catalog /Pages 2 0 R >>")

	kids := make([]string, len(pages))
	for i := range pages {
		kids[i] = fmt.Sprintf("%d 0 R", 3+2*i)
	}
	obj(fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>",
		strings.Join(kids, " "), len(pages)))

	for i, page := range pages {
		pageObj := 3 + 2*i
		obj(fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 %d %d] /Contents %d 0 R /Resources << /Font << /F1 %d 0 R >> >> >>",
			pdfPageWidth, pdfPageHeight, pageObj+1, fontObj))

		var content strings.Builder
		fmt.Fprintf(&content, "BT /F1 %d Tf %d %d Td %d TL\n",
			pdfFontSize, pdfMargin, pdfPageHeight-pdfMargin, pdfLeading)
		for _, line := range page {
			fmt.Fprintf(&content, "(%s) Tj T*\n", escapePDF(line))
		}
		content.WriteString("ET")
		obj(fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream",
			content.Len(), content.String()))
	}

	obj("<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>")

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(offsets)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n",
		len(offsets)+1, xref)

	return buf.Bytes(), nil
}

// escapePDF escapes PDF string literal delimiters.
func escapePDF(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `(`, `\(`, `)`, `\)`)
	return r.Replace(s)
}
