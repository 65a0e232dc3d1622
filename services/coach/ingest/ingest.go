// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ingest extracts plain text from uploaded files and web pages so it
// can be stored on an uploaded material and placed in coaching prompts.
package ingest

import (
	"errors"
	"fmt"
	"mime"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/frontera-labs/frontera/services/coach/datatypes"
)

const (
	// MaxUploadBytes is the largest file accepted for upload.
	MaxUploadBytes = 10 << 20

	// MaxExtractedChars caps the text stored per material.
	MaxExtractedChars = 50_000
)

var (
	ErrUnsupportedType = errors.New("unsupported file type")
	ErrTooLarge        = errors.New("file exceeds upload limit")
	ErrNoText          = errors.New("no text content found")
)

// Kind identifies an extractor.
type Kind string

const (
	KindPDF  Kind = "pdf"
	KindDOCX Kind = "docx"
	KindXLSX Kind = "xlsx"
	KindPPTX Kind = "pptx"
	KindText Kind = "text"
)

var mimeKinds = map[string]Kind{
	"application/pdf": KindPDF,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document":   KindDOCX,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":         KindXLSX,
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": KindPPTX,
	"text/plain":       KindText,
	"text/markdown":    KindText,
	"text/csv":         KindText,
	"application/json": KindText,
}

var extKinds = map[string]Kind{
	".pdf":  KindPDF,
	".docx": KindDOCX,
	".xlsx": KindXLSX,
	".pptx": KindPPTX,
	".txt":  KindText,
	".md":   KindText,
	".csv":  KindText,
	".json": KindText,
}

// Detect resolves the extractor for an upload. The declared MIME type wins;
// generic types such as application/octet-stream fall back to the extension.
func Detect(filename, mimeType string) (Kind, bool) {
	if mt, _, err := mime.ParseMediaType(mimeType); err == nil {
		if k, ok := mimeKinds[strings.ToLower(mt)]; ok {
			return k, true
		}
	}
	k, ok := extKinds[strings.ToLower(filepath.Ext(filename))]
	return k, ok
}

// Allowed reports whether an upload of this name and type is accepted.
func Allowed(filename, mimeType string) bool {
	_, ok := Detect(filename, mimeType)
	return ok
}

// Extract returns the plain text of an uploaded file.
//
// # Inputs
//
//   - filename: Original file name, used when mimeType is generic.
//   - mimeType: Declared Content-Type of the upload.
//   - data: File contents.
//
// # Outputs
//
//   - string: Extracted text, whitespace-trimmed.
//   - error: ErrUnsupportedType, ErrTooLarge, ErrNoText or a parse failure.
func Extract(filename, mimeType string, data []byte) (string, error) {
	if len(data) > MaxUploadBytes {
		return "", ErrTooLarge
	}
	kind, ok := Detect(filename, mimeType)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedType, mimeType)
	}

	var (
		text string
		err  error
	)
	switch kind {
	case KindPDF:
		text, err = extractPDF(data)
	case KindDOCX:
		text, err = extractDOCX(data)
	case KindXLSX:
		text, err = extractXLSX(data)
	case KindPPTX:
		text, err = extractPPTX(data)
	default:
		if !utf8.Valid(data) {
			return "", fmt.Errorf("%s: not valid UTF-8 text", filename)
		}
		text = string(data)
	}
	if err != nil {
		return "", fmt.Errorf("extract %s: %w", kind, err)
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrNoText
	}
	return text, nil
}

// Truncate caps text at MaxExtractedChars characters and records the
// original length.
func Truncate(text string) datatypes.ExtractedContext {
	n := utf8.RuneCountInString(text)
	if n <= MaxExtractedChars {
		return datatypes.ExtractedContext{Text: text, OriginalLength: n}
	}
	runes := []rune(text)
	return datatypes.ExtractedContext{
		Text:           string(runes[:MaxExtractedChars]) + fmt.Sprintf("\n\n[Content truncated - original length %d characters]", n),
		OriginalLength: n,
		Truncated:      true,
	}
}
