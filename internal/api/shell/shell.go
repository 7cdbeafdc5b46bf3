// Package shell renders the single-page question form and serves its
// embedded assets.
package shell

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"path"
	"strings"

	"github.com/yuin/goldmark"

	"github.com/trendrbot/trendrbot/internal/assistant"
	"github.com/trendrbot/trendrbot/internal/observability"
)

//go:embed all:assets
var assetsFS embed.FS

var pageTemplate = template.Must(template.ParseFS(assetsFS, "assets/index.html.tmpl"))

// Examples are listed when the page is opened without a question.
var Examples = []string{
	"What are the top 10 trends in the US for the latest available data? Simply list them in bullet points.",
	"What's popular in Finland?",
	"What are the most popular celebrities in England?",
	"Are there noticeable differences in trends between European and Asian countries?",
}

type Asker interface {
	Ask(ctx context.Context, question string) (assistant.Answer, error)
}

type Config struct {
	Title    string
	ImageURL string
}

type page struct {
	Title    string
	ImageURL string
	Question string
	Answer   template.HTML
	Error    string
	Examples []string
}

type Shell struct {
	cfg      Config
	asker    Asker
	logger   *slog.Logger
	markdown goldmark.Markdown
	static   http.Handler
}

func New(cfg Config, asker Asker, logger *slog.Logger) *Shell {
	sub, err := fs.Sub(assetsFS, "assets")
	var static http.Handler = http.NotFoundHandler()
	if err == nil {
		static = http.StripPrefix("/static/", http.FileServer(http.FS(sub)))
	}
	if strings.TrimSpace(cfg.Title) == "" {
		cfg.Title = "Ask Google Trends"
	}
	return &Shell{
		cfg:      cfg,
		asker:    asker,
		logger:   logger,
		markdown: goldmark.New(),
		static:   static,
	}
}

func (s *Shell) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	cleanPath := path.Clean("/" + strings.TrimPrefix(r.URL.Path, "/"))
	switch {
	case cleanPath == "/":
		s.servePage(w, r)
	case strings.HasPrefix(cleanPath, "/static/") && !strings.HasSuffix(cleanPath, ".tmpl"):
		s.static.ServeHTTP(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (s *Shell) servePage(w http.ResponseWriter, r *http.Request) {
	question := strings.TrimSpace(r.FormValue("question"))
	view := page{
		Title:    s.cfg.Title,
		ImageURL: s.cfg.ImageURL,
		Question: question,
	}

	if question == "" {
		view.Examples = Examples
	} else if s.asker == nil {
		view.Error = "No assistant is configured."
	} else {
		answer, err := s.asker.Ask(r.Context(), question)
		switch {
		case err != nil:
			view.Error = errorText(err)
			observability.LoggerFor(r.Context(), s.logger).Warn("answer failed", slog.String("error", err.Error()))
		case strings.TrimSpace(answer.Text) != "":
			html, err := s.render(answer.Text)
			if err != nil {
				view.Error = "The answer could not be rendered."
				break
			}
			view.Answer = html
		}
	}

	var buf bytes.Buffer
	if err := pageTemplate.Execute(&buf, view); err != nil {
		http.Error(w, "render page", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// render converts model markdown to HTML. Raw HTML in the answer is
// dropped by goldmark's default renderer.
func (s *Shell) render(markdown string) (template.HTML, error) {
	var buf bytes.Buffer
	if err := s.markdown.Convert([]byte(markdown), &buf); err != nil {
		return "", err
	}
	return template.HTML(buf.String()), nil
}

func errorText(err error) string {
	if errors.Is(err, assistant.ErrEmptyQuestion) {
		return "Please enter a question."
	}
	return err.Error()
}
