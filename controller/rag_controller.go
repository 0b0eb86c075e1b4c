package controller

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github/itish2003/pdfqa/models"
	"github/itish2003/pdfqa/services"
)

// Version is reported by the health endpoint.
const Version = "1.0.0"

// Answerer answers one question from the ingested documents.
type Answerer interface {
	Answer(ctx context.Context, question string) (*services.Answer, error)
}

// DirectoryIngester ingests every PDF in a server-side directory.
type DirectoryIngester interface {
	IngestDirectory(ctx context.Context, dir string) (*services.IngestReport, error)
}

// RAGController handles the HTTP requests for the question answering API.
// The services do the work; the controller maps their results and typed
// errors onto status codes.
type RAGController struct {
	rag         Answerer
	indexer     DirectoryIngester
	serviceName string
}

// NewRAGController wires the handlers to their pipelines.
func NewRAGController(rag Answerer, indexer DirectoryIngester, serviceName string) *RAGController {
	return &RAGController{rag: rag, indexer: indexer, serviceName: serviceName}
}

// EmbedDirectory is the handler for POST /embed_directory.
func (c *RAGController) EmbedDirectory(ctx *gin.Context) {
	var req models.EmbedDirectoryRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, models.ErrorResponse{Detail: "Invalid request body: " + err.Error()})
		return
	}
	if strings.TrimSpace(req.Directory) == "" {
		ctx.JSON(http.StatusBadRequest, models.ErrorResponse{Detail: "Invalid directory path"})
		return
	}

	report, err := c.indexer.IngestDirectory(ctx.Request.Context(), req.Directory)
	if err != nil {
		var derr *services.InvalidDirectoryError
		if errors.As(err, &derr) {
			ctx.JSON(http.StatusBadRequest, models.ErrorResponse{Detail: "Invalid directory path"})
			return
		}
		logrus.WithField("directory", req.Directory).WithError(err).Error("ingestion failed")
		ctx.JSON(http.StatusInternalServerError, models.ErrorResponse{Detail: "Internal server error: " + err.Error()})
		return
	}

	ctx.JSON(http.StatusOK, ingestResponse(report))
}

func ingestResponse(report *services.IngestReport) models.EmbedDirectoryResponse {
	processed := report.Processed
	switch report.Outcome {
	case services.OutcomeNoFiles:
		return models.EmbedDirectoryResponse{Message: "No PDF files found in the directory", ProcessedFiles: &processed}
	case services.OutcomePartial:
		return models.EmbedDirectoryResponse{
			Message:         "Completed with some failures",
			FailedFiles:     report.FailedFiles,
			SuccessfulFiles: &processed,
		}
	default:
		return models.EmbedDirectoryResponse{Message: "Successfully processed all files", ProcessedFiles: &processed}
	}
}

// QueryRAG is the handler for POST /query.
func (c *RAGController) QueryRAG(ctx *gin.Context) {
	var req models.QueryTextRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, models.ErrorResponse{Detail: "Invalid request body: " + err.Error()})
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		ctx.JSON(http.StatusBadRequest, models.ErrorResponse{Detail: "Query must not be empty"})
		return
	}

	answer, err := c.rag.Answer(ctx.Request.Context(), req.Query)
	if err != nil {
		if errors.Is(err, services.ErrEmptyQuestion) {
			ctx.JSON(http.StatusBadRequest, models.ErrorResponse{Detail: "Query must not be empty"})
			return
		}
		logrus.WithError(err).Error("query failed")
		ctx.JSON(http.StatusInternalServerError, models.ErrorResponse{Detail: "Internal server error: " + err.Error()})
		return
	}

	resp := models.QueryRAGResponse{
		Answer:          answer.Answer,
		SourceDocuments: answer.SourceDocuments,
	}
	if req.IncludeMatches {
		for _, m := range answer.Matches {
			resp.Matches = append(resp.Matches, models.SourceChunk{
				ID:       m.ID,
				Text:     m.Text,
				Score:    m.Score,
				Metadata: m.Metadata,
			})
		}
	}
	ctx.JSON(http.StatusOK, resp)
}

// Home is the handler for GET /.
func (c *RAGController) Home(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{
		"message": "Welcome to the PDF question answering API",
		"endpoints": gin.H{
			"/embed_directory": "POST - ingest every PDF in a server-side directory",
			"/query":           "POST - ask a question about the ingested documents",
			"/health":          "GET - service health",
		},
	})
}

// Health is the handler for GET /health.
func (c *RAGController) Health(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, models.HealthResponse{Status: "healthy", Service: c.serviceName, Version: Version})
}
