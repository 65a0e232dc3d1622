// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"

	"github.com/gin-gonic/gin"

	"github.com/frontera-labs/frontera/pkg/extensions"
	"github.com/frontera-labs/frontera/services/coach/datatypes"
	"github.com/frontera-labs/frontera/services/coach/ingest"
	"github.com/frontera-labs/frontera/services/coach/storage"
)

// multipartOverhead is the room left above MaxUploadBytes for form fields
// and part headers.
const multipartOverhead = 1 << 20

// ListMaterials handles GET /api/conversations/:id/materials.
func (h *Handler) ListMaterials(c *gin.Context) {
	ctx := c.Request.Context()
	info := session(c)
	conv, err := h.loadConversation(ctx, info.OrgID, c.Param("id"))
	if err != nil {
		respondError(c, err, "Conversation")
		return
	}
	mats, err := h.store.ListMaterials(ctx, info.OrgID, conv.ID)
	if err != nil {
		respondError(c, err, "Conversation")
		return
	}
	c.JSON(http.StatusOK, gin.H{"materials": mats})
}

// Upload handles POST /api/upload.
//
// # Description
//
// Accepts a multipart form with "file" and "conversation_id". The file is
// recorded, its text extracted synchronously and truncated to
// ingest.MaxExtractedChars.
//
// # Outputs
//
//   - 201: Material with processing_status "completed"
//   - 400: Missing fields or unsupported file type
//   - 404: Conversation not found
//   - 413: File larger than ingest.MaxUploadBytes
//   - 422: Text could not be extracted; the material is stored as "failed"
func (h *Handler) Upload(c *gin.Context) {
	ctx := c.Request.Context()
	info := session(c)

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, ingest.MaxUploadBytes+multipartOverhead)
	fileHeader, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, datatypes.ErrorResponse{Error: "File exceeds the 10 MB limit"})
			return
		}
		respondError(c, badRequest("file is required"), "Material")
		return
	}
	if fileHeader.Size > ingest.MaxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, datatypes.ErrorResponse{Error: "File exceeds the 10 MB limit"})
		return
	}

	filename := filepath.Base(fileHeader.Filename)
	mimeType := fileHeader.Header.Get("Content-Type")
	if !ingest.Allowed(filename, mimeType) {
		respondError(c, badRequest("Unsupported file type"), "Material")
		return
	}

	conv, err := h.loadConversation(ctx, info.OrgID, c.PostForm("conversation_id"))
	if err != nil {
		respondError(c, err, "Conversation")
		return
	}

	f, err := fileHeader.Open()
	if err != nil {
		respondError(c, err, "Material")
		return
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, ingest.MaxUploadBytes+1))
	if err != nil {
		respondError(c, err, "Material")
		return
	}

	kind, _ := ingest.Detect(filename, mimeType)
	material := &datatypes.UploadedMaterial{
		ConversationID:   conv.ID,
		ClerkOrgID:       info.OrgID,
		UploadedBy:       info.UserID,
		Filename:         filename,
		FileType:         string(kind),
		FileSize:         int64(len(data)),
		ProcessingStatus: datatypes.MaterialProcessing,
	}
	if err := h.store.InsertMaterial(ctx, material); err != nil {
		respondError(c, err, "Material")
		return
	}

	text, extractErr := ingest.Extract(filename, mimeType, data)
	h.completeMaterial(ctx, c, info, material, text, extractErr)
}

// UploadURL handles POST /api/upload/url.
//
// The page is fetched, sanitised and converted to markdown, then stored as
// a material like an uploaded file. Private and loopback targets are
// refused with 400.
func (h *Handler) UploadURL(c *gin.Context) {
	ctx := c.Request.Context()
	info := session(c)

	var req datatypes.UploadURLRequest
	if err := bindJSON(c, &req, false); err != nil {
		respondError(c, err, "Material")
		return
	}
	conv, err := h.loadConversation(ctx, info.OrgID, req.ConversationID)
	if err != nil {
		respondError(c, err, "Conversation")
		return
	}

	page, err := h.fetcher.FetchURL(ctx, req.URL)
	switch {
	case errors.Is(err, ingest.ErrUnsafeURL):
		respondError(c, badRequest("URL is not allowed"), "Material")
		return
	case errors.Is(err, ingest.ErrTooLarge):
		c.JSON(http.StatusRequestEntityTooLarge, datatypes.ErrorResponse{Error: "Page exceeds the 10 MB limit"})
		return
	case errors.Is(err, ingest.ErrUnsupportedType):
		respondError(c, badRequest("URL does not point to a web page or text document"), "Material")
		return
	case err != nil && !errors.Is(err, ingest.ErrNoText):
		slog.Warn("URL fetch failed",
			"conversation_id", conv.ID,
			"error", err,
		)
		c.JSON(http.StatusUnprocessableEntity, datatypes.ErrorResponse{Error: "Could not fetch URL"})
		return
	}

	material := &datatypes.UploadedMaterial{
		ConversationID:   conv.ID,
		ClerkOrgID:       info.OrgID,
		UploadedBy:       info.UserID,
		Filename:         req.URL,
		FileType:         "url",
		SourceURL:        req.URL,
		ProcessingStatus: datatypes.MaterialProcessing,
	}
	text := ""
	if page != nil {
		material.Filename = page.Title
		material.SourceURL = page.URL
		material.FileSize = int64(len(page.Markdown))
		text = page.Markdown
	}
	if err := h.store.InsertMaterial(ctx, material); err != nil {
		respondError(c, err, "Material")
		return
	}
	h.completeMaterial(ctx, c, info, material, text, err)
}

// completeMaterial records the extraction outcome and writes the reply.
func (h *Handler) completeMaterial(ctx context.Context, c *gin.Context, info *extensions.AuthInfo, m *datatypes.UploadedMaterial, text string, extractErr error) {
	result := storage.MaterialResult{Status: datatypes.MaterialCompleted}
	if extractErr != nil {
		slog.Warn("Text extraction failed",
			"material_id", m.ID,
			"file_type", m.FileType,
			"error", extractErr,
		)
		result = storage.MaterialResult{
			Status:       datatypes.MaterialFailed,
			ErrorMessage: "Could not extract text from this file",
		}
	} else {
		var findings []ingest.Finding
		if h.redactor != nil {
			text, findings = h.redactor.Redact(text)
		}
		extracted := ingest.Truncate(text)
		extracted.Redactions = len(findings)
		result.Extracted = &extracted
		if len(findings) > 0 {
			slog.Info("Redacted sensitive content from material",
				"material_id", m.ID,
				"redactions", len(findings),
				"classification", findings[0].Classification,
			)
		}
	}

	if err := h.store.UpdateMaterialStatus(ctx, info.OrgID, m.ID, result); err != nil {
		respondError(c, err, "Material")
		return
	}
	m.ProcessingStatus = result.Status
	m.ExtractedContext = result.Extracted
	m.ErrorMessage = result.ErrorMessage

	if extractErr != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": result.ErrorMessage, "material": m})
		return
	}

	h.track(ctx, info, extensions.EventMaterialUploaded, map[string]any{
		"conversation_id": m.ConversationID,
		"file_type":       m.FileType,
		"file_size":       m.FileSize,
		"truncated":       m.ExtractedContext.Truncated,
		"redactions":      m.ExtractedContext.Redactions,
	})
	c.JSON(http.StatusCreated, m)
}
