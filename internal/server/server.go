package server

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"strings"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/TobiSchelling/marketaudit/internal/audit"
	"github.com/TobiSchelling/marketaudit/internal/database"
	"github.com/TobiSchelling/marketaudit/internal/render"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static/*
var staticFS embed.FS

// maxBody bounds JSON audit requests.
const maxBody = 1 << 20

// Auditor runs one audit. *pipeline.Pipeline satisfies it.
type Auditor interface {
	Run(ctx context.Context, inputs audit.Inputs) (string, *audit.FinalAuditRecord, error)
}

// Server is the HTTP front end for stored products and their audits.
type Server struct {
	db      *database.DB
	auditor Auditor
	pages   map[string]*template.Template
	mux     *http.ServeMux
}

// New creates a new Server.
func New(db *database.DB, auditor Auditor) (*Server, error) {
	funcMap := template.FuncMap{
		"markdown": renderMarkdown,
		"join":     strings.Join,
		"count":    humanize.Comma,
		"price": func(p float64) string {
			if p == 0 {
				return "free"
			}
			return "$" + humanize.CommafWithDigits(p, 2)
		},
	}

	// Parse base template first
	base, err := template.New("base.html").Funcs(funcMap).ParseFS(templateFS, "templates/base.html")
	if err != nil {
		return nil, fmt.Errorf("parsing base template: %w", err)
	}

	// Each page gets its own clone of base so {{define "content"}} does not collide.
	pageNames := []string{"index.html", "product.html", "report.html", "error.html"}
	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		clone, err := base.Clone()
		if err != nil {
			return nil, fmt.Errorf("cloning base for %s: %w", name, err)
		}
		_, err = clone.ParseFS(templateFS, "templates/"+name)
		if err != nil {
			return nil, fmt.Errorf("parsing template %s: %w", name, err)
		}
		pages[name] = clone
	}

	s := &Server{db: db, auditor: auditor, pages: pages, mux: http.NewServeMux()}
	s.routes()
	return s, nil
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	// Static files
	staticSub, _ := fs.Sub(staticFS, "static")
	s.mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(http.FS(staticSub))))

	s.mux.HandleFunc("GET /{$}", s.handleIndex)
	s.mux.HandleFunc("GET /products/{slug}", s.handleProduct)
	s.mux.HandleFunc("POST /products/{slug}/audit", s.handleProductAudit)
	s.mux.HandleFunc("POST /api/audit", s.handleAPIAudit)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	products, err := s.db.ListProducts()
	if err != nil {
		zap.L().Error("server: listing products", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	s.render(w, http.StatusOK, "index.html", map[string]any{
		"Products": products,
	})
}

func (s *Server) handleProduct(w http.ResponseWriter, r *http.Request) {
	inputs, ok := s.loadInputs(w, r)
	if !ok {
		return
	}
	s.render(w, http.StatusOK, "product.html", map[string]any{
		"Inputs": inputs,
	})
}

func (s *Server) handleProductAudit(w http.ResponseWriter, r *http.Request) {
	inputs, ok := s.loadInputs(w, r)
	if !ok {
		return
	}
	slug := inputs.Subject.Slug

	document, rec, err := s.auditor.Run(r.Context(), *inputs)
	if err != nil {
		status := auditStatus(err)
		zap.L().Warn("server: audit failed", zap.String("slug", slug), zap.Int("status", status), zap.Error(err))
		s.render(w, status, "error.html", map[string]any{
			"Slug":    slug,
			"Message": err.Error(),
		})
		return
	}

	s.render(w, http.StatusOK, "report.html", map[string]any{
		"Slug":     slug,
		"Name":     inputs.Subject.Name,
		"Document": document,
		"Stages":   render.StageRows(rec),
		"Warnings": rec.Warnings,
	})
}

func (s *Server) handleAPIAudit(w http.ResponseWriter, r *http.Request) {
	var inputs audit.Inputs
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	if err := dec.Decode(&inputs); err != nil {
		writeJSONError(w, http.StatusBadRequest, "decoding inputs: "+err.Error())
		return
	}
	if err := inputs.Validate(); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	document, rec, err := s.auditor.Run(r.Context(), inputs)
	if err != nil {
		status := auditStatus(err)
		zap.L().Warn("server: api audit failed", zap.String("product", inputs.Subject.Name), zap.Int("status", status), zap.Error(err))
		writeJSONError(w, status, err.Error())
		return
	}

	body, err := render.JSON(document, rec)
	if err != nil {
		zap.L().Error("server: encoding audit", zap.Error(err))
		writeJSONError(w, http.StatusInternalServerError, "encoding audit")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(body)
}

func (s *Server) loadInputs(w http.ResponseWriter, r *http.Request) (*audit.Inputs, bool) {
	slug := r.PathValue("slug")
	inputs, err := s.db.LoadInputs(slug)
	if errors.Is(err, database.ErrNotFound) {
		http.NotFound(w, r)
		return nil, false
	}
	if err != nil {
		zap.L().Error("server: loading inputs", zap.String("slug", slug), zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return nil, false
	}
	return inputs, true
}

// auditStatus maps a pipeline error to an HTTP status.
func auditStatus(err error) int {
	switch {
	case errors.Is(err, audit.ErrCanceled):
		// The client went away; the status is for the log.
		return http.StatusRequestTimeout
	case errors.Is(err, audit.ErrDraftGenerationFailed):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (s *Server) render(w http.ResponseWriter, status int, name string, data any) {
	tmpl, ok := s.pages[name]
	if !ok {
		zap.L().Error("server: template not found", zap.String("template", name))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	// Render to a buffer so a template error does not leave a half-written page.
	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "base.html", data); err != nil {
		zap.L().Error("server: rendering template", zap.String("template", name), zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	w.Write(buf.Bytes())
}

func renderMarkdown(text string) template.HTML {
	html, err := render.Fragment(text)
	if err != nil {
		return template.HTML(template.HTMLEscapeString(text))
	}
	return template.HTML(html) //nolint: gosec
}

// Serve starts the HTTP server on the given port.
func Serve(db *database.DB, auditor Auditor, port int) error {
	srv, err := New(db, auditor)
	if err != nil {
		return err
	}

	addr := fmt.Sprintf("127.0.0.1:%d", port)
	zap.L().Info("server: listening", zap.String("url", "http://"+addr))
	return http.ListenAndServe(addr, srv.Handler())
}
