package receipt

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// decodeEdits reads the optional approval body. Only fields of the receipt schema are accepted.
func decodeEdits(body io.Reader) (Edits, error) {
	var edits Edits
	if err := json.NewDecoder(body).Decode(&edits); err != nil {
		if errors.Is(err, io.EOF) {
			return Edits{}, nil
		}
		return Edits{}, fmt.Errorf("%w: %v", ErrInvalidEdits, err)
	}
	if edits.Items != nil {
		for i, item := range *edits.Items {
			if strings.TrimSpace(item.Description) == "" {
				return Edits{}, fmt.Errorf("%w: item %d has no description", ErrInvalidEdits, i)
			}
		}
	}
	return edits, nil
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleUploadReceipts saves the uploaded images into the inbox
func (s *Server) handleUploadReceipts(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "No file part in the request"})
		return
	}

	files := form.File["receipts"]
	if len(files) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No selected file"})
		return
	}

	uploaded := make([]string, 0, len(files))
	uploadErrors := make([]string, 0)
	for _, header := range files {
		if header.Size > maxUploadSize {
			uploadErrors = append(uploadErrors, fmt.Sprintf("%s: file is too large, maximum size is 50MB", header.Filename))
			continue
		}
		f, err := header.Open()
		if err != nil {
			uploadErrors = append(uploadErrors, fmt.Sprintf("%s: %v", header.Filename, err))
			continue
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			uploadErrors = append(uploadErrors, fmt.Sprintf("%s: %v", header.Filename, err))
			continue
		}
		name, err := s.service.Upload(header.Filename, data)
		if err != nil {
			slog.Error("Error saving upload", "filename", header.Filename, "error", err)
			uploadErrors = append(uploadErrors, fmt.Sprintf("%s: %v", header.Filename, err))
			continue
		}
		uploaded = append(uploaded, name)
	}

	if len(uploaded) == 0 {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "File upload failed", "details": uploadErrors})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":  fmt.Sprintf("%d file(s) uploaded", len(uploaded)),
		"uploaded": uploaded,
		"errors":   uploadErrors,
	})
}

// handleIngest runs one inbox sweep
func (s *Server) handleIngest(c *gin.Context) {
	report, err := s.service.IngestAll()
	if err != nil {
		slog.Error("Error running ingestion", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) handleListPending(c *gin.Context) {
	drafts, err := s.service.ListPending()
	if err != nil {
		slog.Error("Error listing pending receipts", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	c.JSON(http.StatusOK, drafts)
}

func (s *Server) handleGetPending(c *gin.Context) {
	draft, err := s.service.GetPending(c.Param("id"))
	if errors.Is(err, ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Receipt not found"})
		return
	}
	if err != nil {
		slog.Error("Error getting pending receipt", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	c.JSON(http.StatusOK, draft)
}

func (s *Server) handleDiscard(c *gin.Context) {
	err := s.service.Discard(c.Param("id"))
	if errors.Is(err, ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Receipt not found"})
		return
	}
	if err != nil {
		slog.Error("Error discarding receipt", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	c.Status(http.StatusNoContent)
}

// handleApprove promotes a draft; the body may carry corrections
func (s *Server) handleApprove(c *gin.Context) {
	edits, err := decodeEdits(c.Request.Body)
	if err != nil {
		slog.Warn("Rejected receipt edits", "receipt_id", c.Param("id"), "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid receipt edits"})
		return
	}

	verified, err := s.service.Approve(c.Param("id"), edits)
	switch {
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Receipt not found"})
	case errors.Is(err, ErrPromotionFailed):
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save receipt"})
	case err != nil:
		slog.Error("Error approving receipt", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	default:
		c.JSON(http.StatusOK, verified)
	}
}

func (s *Server) handleListApproved(c *gin.Context) {
	receipts, err := s.service.ListApproved()
	if err != nil {
		slog.Error("Error listing approved receipts", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	c.JSON(http.StatusOK, receipts)
}

// handleExport streams the ledger as an xlsx workbook
func (s *Server) handleExport(c *gin.Context) {
	receipts, err := s.service.ListApproved()
	if err != nil {
		slog.Error("Error listing approved receipts", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	fileName := fmt.Sprintf("receipts_%s.xlsx", time.Now().Format("20060102"))
	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s", fileName))
	c.Status(http.StatusOK)
	if err := WriteLedgerXLSX(c.Writer, receipts); err != nil {
		slog.Error("Error writing export", "error", err)
	}
}

func (s *Server) handleListCategories(c *gin.Context) {
	categories, err := s.categories.ListCategories()
	if err != nil {
		slog.Error("Error listing categories", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	c.JSON(http.StatusOK, categories)
}

func (s *Server) handleCreateCategory(c *gin.Context) {
	var req struct {
		Name        string `json:"name" binding:"required"`
		Description string `json:"description"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	category, err := s.categories.CreateCategory(req.Name, req.Description)
	if errors.Is(err, ErrDuplicateCategory) {
		c.JSON(http.StatusConflict, gin.H{"error": "Category already exists"})
		return
	}
	if err != nil {
		slog.Error("Error creating category", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	c.JSON(http.StatusCreated, category)
}
