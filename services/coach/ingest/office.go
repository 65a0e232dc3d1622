// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ingest

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// maxPartBytes bounds a single decompressed archive member.
const maxPartBytes = 64 << 20

var (
	slidePartRe = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)
	sheetPartRe = regexp.MustCompile(`^xl/worksheets/sheet(\d+)\.xml$`)
)

func openArchive(data []byte) (*zip.Reader, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open zip: %w", err)
	}
	return zr, nil
}

func findPart(zr *zip.Reader, name string) *zip.File {
	for _, f := range zr.File {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// numberedParts returns the members matching re ordered by their captured
// number, so slide10 follows slide9.
func numberedParts(zr *zip.Reader, re *regexp.Regexp) []*zip.File {
	type part struct {
		n int
		f *zip.File
	}
	var parts []part
	for _, f := range zr.File {
		m := re.FindStringSubmatch(f.Name)
		if m == nil {
			continue
		}
		n, _ := strconv.Atoi(m[1])
		parts = append(parts, part{n, f})
	}
	sort.Slice(parts, func(i, j int) bool { return parts[i].n < parts[j].n })
	out := make([]*zip.File, len(parts))
	for i, p := range parts {
		out[i] = p.f
	}
	return out
}

func openPart(f *zip.File) (*xml.Decoder, io.Closer, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", f.Name, err)
	}
	return xml.NewDecoder(io.LimitReader(rc, maxPartBytes)), rc, nil
}

// paragraphText collects the character data of <t> elements, ending a line
// at every closing <p>. WordprocessingML and DrawingML share this shape.
func paragraphText(f *zip.File) (string, error) {
	dec, closer, err := openPart(f)
	if err != nil {
		return "", err
	}
	defer closer.Close()

	var (
		out  strings.Builder
		line strings.Builder
		inT  bool
	)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("parse %s: %w", f.Name, err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inT = true
			case "tab":
				line.WriteByte('\t')
			case "br":
				line.WriteByte('\n')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inT = false
			case "p":
				if s := strings.TrimSpace(line.String()); s != "" {
					out.WriteString(s)
					out.WriteByte('\n')
				}
				line.Reset()
			}
		case xml.CharData:
			if inT {
				line.Write(t)
			}
		}
	}
	if s := strings.TrimSpace(line.String()); s != "" {
		out.WriteString(s)
		out.WriteByte('\n')
	}
	return out.String(), nil
}

func extractDOCX(data []byte) (string, error) {
	zr, err := openArchive(data)
	if err != nil {
		return "", err
	}
	doc := findPart(zr, "word/document.xml")
	if doc == nil {
		return "", fmt.Errorf("word/document.xml not found in archive")
	}
	return paragraphText(doc)
}

func extractPPTX(data []byte) (string, error) {
	zr, err := openArchive(data)
	if err != nil {
		return "", err
	}
	slides := numberedParts(zr, slidePartRe)
	if len(slides) == 0 {
		return "", fmt.Errorf("no slides found in archive")
	}

	var b strings.Builder
	for i, s := range slides {
		text, err := paragraphText(s)
		if err != nil {
			return "", err
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		fmt.Fprintf(&b, "## Slide %d\n%s\n", i+1, text)
	}
	return b.String(), nil
}

func extractXLSX(data []byte) (string, error) {
	zr, err := openArchive(data)
	if err != nil {
		return "", err
	}

	var shared []string
	if f := findPart(zr, "xl/sharedStrings.xml"); f != nil {
		if shared, err = sharedStrings(f); err != nil {
			return "", err
		}
	}

	sheets := numberedParts(zr, sheetPartRe)
	if len(sheets) == 0 {
		return "", fmt.Errorf("no worksheets found in archive")
	}

	var b strings.Builder
	for i, s := range sheets {
		rows, err := sheetRows(s, shared)
		if err != nil {
			return "", err
		}
		if len(rows) == 0 {
			continue
		}
		fmt.Fprintf(&b, "## Sheet %d\n", i+1)
		for _, r := range rows {
			b.WriteString(strings.Join(r, "\t"))
			b.WriteByte('\n')
		}
		b.WriteByte('\n')
	}
	return b.String(), nil
}

// sharedStrings reads the workbook string table. Rich-text items made of
// several runs are concatenated.
func sharedStrings(f *zip.File) ([]string, error) {
	dec, closer, err := openPart(f)
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	var (
		out []string
		cur strings.Builder
		inT bool
	)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", f.Name, err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "si":
				cur.Reset()
			case "t":
				inT = true
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "si":
				out = append(out, cur.String())
			case "t":
				inT = false
			}
		case xml.CharData:
			if inT {
				cur.Write(t)
			}
		}
	}
}

// sheetRows returns the non-empty rows of a worksheet as cell strings.
func sheetRows(f *zip.File, shared []string) ([][]string, error) {
	dec, closer, err := openPart(f)
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	var (
		rows     [][]string
		row      []string
		cellType string
		value    strings.Builder
		inValue  bool
	)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return rows, nil
		}
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", f.Name, err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "row":
				row = row[:0:0]
			case "c":
				cellType = ""
				value.Reset()
				for _, a := range t.Attr {
					if a.Name.Local == "t" {
						cellType = a.Value
					}
				}
			case "v", "t":
				inValue = true
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "v", "t":
				inValue = false
			case "c":
				row = append(row, cellText(cellType, value.String(), shared))
			case "row":
				if hasContent(row) {
					rows = append(rows, row)
				}
			}
		case xml.CharData:
			if inValue {
				value.Write(t)
			}
		}
	}
}

func cellText(cellType, raw string, shared []string) string {
	raw = strings.TrimSpace(raw)
	if cellType != "s" {
		return raw
	}
	idx, err := strconv.Atoi(raw)
	if err != nil || idx < 0 || idx >= len(shared) {
		return ""
	}
	return shared[idx]
}

func hasContent(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return true
		}
	}
	return false
}
