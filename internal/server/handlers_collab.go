package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/jonathan/resume-tailor/internal/export"
	"github.com/jonathan/resume-tailor/internal/fetch"
	"github.com/jonathan/resume-tailor/internal/ingestion"
	"github.com/jonathan/resume-tailor/internal/llm"
	"github.com/jonathan/resume-tailor/internal/rewriting"
)

// healthTimeout bounds the model listing done by /health.
const healthTimeout = 5 * time.Second

// HealthResponse reports whether the configured model can serve requests.
type HealthResponse struct {
	Status       string `json:"status"`
	Provider     string `json:"provider,omitempty"`
	Model        string `json:"model"`
	LLMOK        bool   `json:"llm_ok"`
	ModelPresent bool   `json:"model_present"`
	Error        string `json:"error,omitempty"`
}

// ParseLocalRequest names a file on the server's filesystem.
type ParseLocalRequest struct {
	Path string `json:"path" validate:"notblank"`
}

// ResumeRequest carries resume text for the structuring step.
type ResumeRequest struct {
	ResumeText string `json:"resume_text" validate:"notblank"`
}

// TailorRequest carries the resume and job description. Blank fields are
// reported by the rewriting package with the names the front-end shows.
type TailorRequest struct {
	ResumeText string `json:"resume_text"`
	JDText     string `json:"jd_text"`
}

// ExportRequest asks for the tailored text as a downloadable file.
type ExportRequest struct {
	Text  string `json:"text"`
	Label string `json:"label"`
	Fmt   string `json:"fmt" validate:"required"`
	Store bool   `json:"store"`
}

// FetchJobRequest asks for the job description text behind a posting URL.
type FetchJobRequest struct {
	URL        string `json:"url" validate:"required"`
	UseBrowser bool   `json:"use_browser"`
}

// timedLLM runs fn and records its outcome under endpoint.
func (s *Server) timedLLM(endpoint string, fn func() error) error {
	start := time.Now()
	err := fn()
	s.recorder.ObserveLLM(endpoint, err, time.Since(start))
	return err
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:   "ok",
		Provider: string(s.provider),
		Model:    s.llm.GetModel(llm.TierAdvanced),
	}

	lister, ok := s.llm.(llm.ModelLister)
	if !ok {
		// Hosted providers have no cheap listing; assume the model exists.
		resp.LLMOK = true
		resp.ModelPresent = true
		s.jsonResponse(w, http.StatusOK, resp)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()
	models, err := lister.ListModels(ctx)
	if err != nil {
		resp.Error = err.Error()
		s.jsonResponse(w, http.StatusOK, resp)
		return
	}
	resp.LLMOK = true
	resp.ModelPresent = hasModel(models, resp.Model)
	s.jsonResponse(w, http.StatusOK, resp)
}

// hasModel matches installed model names, treating a bare name as :latest.
func hasModel(installed []string, model string) bool {
	for _, name := range installed {
		if name == model || name == model+":latest" || strings.TrimSuffix(name, ":latest") == model {
			return true
		}
	}
	return false
}

// handleParse extracts text from an uploaded resume in the "file" field.
func (s *Server) handleParse(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, fmt.Sprintf("Failed to parse file: %v", err))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, fmt.Sprintf("Failed to parse file: %v", err))
		return
	}

	doc, err := ingestion.ParseDocument(header.Filename, data)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, fmt.Sprintf("Failed to parse file: %v", err))
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"text": doc.Text, "metadata": doc.Metadata})
}

func (s *Server) handleParseLocal(w http.ResponseWriter, r *http.Request) {
	var req ParseLocalRequest
	if err := s.decodeJSON(r, &req); err != nil {
		s.handleError(w, err)
		return
	}

	if s.fs == nil {
		s.errorResponse(w, http.StatusNotFound, "parse-local is disabled; set PARSE_ROOT to enable it")
		return
	}

	doc, err := ingestion.ParseLocal(s.fs, s.localPath(req.Path))
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, fmt.Sprintf("Failed to parse file: %v", err))
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"text": doc.Text, "metadata": doc.Metadata})
}

// localPath maps an absolute path inside the parse root to the root-relative
// name the confined filesystem expects. Everything else is left as given and
// resolved under the root.
func (s *Server) localPath(path string) string {
	path = strings.TrimPrefix(strings.TrimSpace(path), ingestion.FilePrefix)
	if s.parseRoot == "" || !filepath.IsAbs(path) {
		return path
	}
	rel, err := filepath.Rel(s.parseRoot, filepath.Clean(path))
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return path
	}
	return rel
}

func (s *Server) handleParseStructured(w http.ResponseWriter, r *http.Request) {
	var req ResumeRequest
	if err := s.decodeJSON(r, &req); err != nil {
		s.handleError(w, err)
		return
	}

	var sections any
	err := s.timedLLM("parse_structured", func() error {
		res, err := ingestion.ExtractSections(r.Context(), s.llm, req.ResumeText)
		sections = res
		return err
	})
	if err != nil {
		s.handleError(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"structured_resume": sections})
}

func (s *Server) handleATSCheck(w http.ResponseWriter, r *http.Request) {
	var req TailorRequest
	if err := s.decodeJSON(r, &req); err != nil {
		s.handleError(w, err)
		return
	}

	var missing []string
	err := s.timedLLM("ats_check", func() error {
		var err error
		missing, err = ingestion.CheckATS(r.Context(), s.llm, req.ResumeText, req.JDText)
		return err
	})
	if err != nil {
		s.handleError(w, err)
		return
	}
	if missing == nil {
		missing = []string{}
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"missing_requirements": missing})
}

func (s *Server) handleTailor(w http.ResponseWriter, r *http.Request) {
	var req TailorRequest
	if err := s.decodeJSON(r, &req); err != nil {
		s.handleError(w, err)
		return
	}

	var result *rewriting.Tailored
	err := s.timedLLM("tailor", func() error {
		var err error
		result, err = rewriting.Tailor(r.Context(), s.llm, req.ResumeText, req.JDText)
		return err
	})
	if err != nil {
		s.handleError(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, result)
}

// handleTailorAll runs tailoring, keyword extraction and company inference
// concurrently for the editor.
func (s *Server) handleTailorAll(w http.ResponseWriter, r *http.Request) {
	var req TailorRequest
	if err := s.decodeJSON(r, &req); err != nil {
		s.handleError(w, err)
		return
	}

	var result *rewriting.All
	err := s.timedLLM("tailor_all", func() error {
		var err error
		result, err = rewriting.TailorAll(r.Context(), s.llm, req.ResumeText, req.JDText)
		return err
	})
	if err != nil {
		s.handleError(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, result)
}

func (s *Server) handleKeywords(w http.ResponseWriter, r *http.Request) {
	var req TailorRequest
	if err := s.decodeJSON(r, &req); err != nil {
		s.handleError(w, err)
		return
	}

	var report *rewriting.KeywordReport
	err := s.timedLLM("keywords", func() error {
		var err error
		report, err = rewriting.ExtractKeywords(r.Context(), s.llm, req.ResumeText, req.JDText)
		return err
	})
	if err != nil {
		s.handleError(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, report)
}

// handleInferCompany reads the jd_text form field, as the editor posts it.
func (s *Server) handleInferCompany(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		s.handleError(w, &ErrValidation{Field: "jd_text", Message: err.Error()})
		return
	}

	var company string
	err := s.timedLLM("infer_company", func() error {
		var err error
		company, err = rewriting.InferCompany(r.Context(), s.llm, r.FormValue("jd_text"))
		return err
	})
	if err != nil {
		s.handleError(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]string{"company": company})
}

// handleExport renders the text as docx or pdf. With store set and storage
// configured, the file is also uploaded and its key returned in a header.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	var req ExportRequest
	if err := s.decodeJSON(r, &req); err != nil {
		s.handleError(w, err)
		return
	}

	format, err := export.ParseFormat(req.Fmt)
	if err != nil {
		s.handleError(w, err)
		return
	}
	file, err := export.Render(req.Text, req.Label, format)
	if err != nil {
		s.handleError(w, err)
		return
	}

	stored := false
	if req.Store && s.uploader != nil {
		key, err := s.uploader.Upload(r.Context(), file.Name, file.ContentType, file.Data)
		if err != nil {
			log.Printf("[server] failed to store export %s: %v", file.Name, err)
		} else {
			stored = true
			w.Header().Set("X-Export-Key", key)
		}
	}
	s.recorder.IncExport(string(format), stored)

	w.Header().Set("Content-Type", file.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", file.Name))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(file.Data); err != nil {
		log.Printf("[server] failed to write export: %v", err)
	}
}

// handleFetchJob fills the job description step from a posting URL.
func (s *Server) handleFetchJob(w http.ResponseWriter, r *http.Request) {
	var req FetchJobRequest
	if err := s.decodeJSON(r, &req); err != nil {
		s.handleError(w, err)
		return
	}
	if err := fetch.ValidateURL(req.URL); err != nil {
		s.handleError(w, &ErrValidation{Field: "url", Message: err.Error()})
		return
	}

	doc, err := ingestion.IngestFromURL(r.Context(), s.fetcher, req.URL, req.UseBrowser && s.useBrowser)
	if err != nil {
		s.handleError(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"text": doc.Text, "metadata": doc.Metadata})
}
