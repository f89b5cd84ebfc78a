package templates

import (
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/labstack/echo/v4"
	"github.com/thoka/discourse-login-helper/config"
	"github.com/thoka/discourse-login-helper/services/logging"
	"go.uber.org/zap"
)

//go:embed pages/*.html
var embedded embed.FS

const layoutFile = "layout.html"

var ErrUnknownPage = errors.New("unknown page")

// Service renders the gateway's HTML pages. Every page is parsed together
// with the layout; files in Dir replace the embedded ones of the same name.
type Service struct {
	config *config.TemplatesConfig
	logger *logging.Service

	mu    sync.RWMutex
	pages map[string]*template.Template
}

func New(cfg *config.TemplatesConfig, logger *logging.Service) *Service {
	return &Service{
		config: cfg,
		logger: logger,
	}
}

func (s *Service) LoadTemplates() error {
	pages, err := s.parse()
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.pages = pages
	s.mu.Unlock()

	if s.logger != nil {
		s.logger.Debug("page templates loaded", zap.Int("count", len(pages)), zap.String("dir", s.config.Dir))
	}
	return nil
}

func (s *Service) read(name string) ([]byte, error) {
	if s.config.Dir != "" {
		content, err := os.ReadFile(filepath.Join(s.config.Dir, name))
		if err == nil {
			return content, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read template %s: %w", name, err)
		}
	}
	return embedded.ReadFile(path.Join("pages", name))
}

func (s *Service) parse() (map[string]*template.Template, error) {
	layout, err := s.read(layoutFile)
	if err != nil {
		return nil, err
	}

	files, err := fs.Glob(embedded, "pages/*.html")
	if err != nil {
		return nil, err
	}

	pages := make(map[string]*template.Template, len(files))
	for _, file := range files {
		base := path.Base(file)
		if base == layoutFile {
			continue
		}

		content, err := s.read(base)
		if err != nil {
			return nil, err
		}

		name := strings.TrimSuffix(base, ".html")
		tmpl, err := template.New(name).Parse(string(layout))
		if err != nil {
			return nil, fmt.Errorf("failed to parse layout for %s: %w", name, err)
		}
		if _, err := tmpl.Parse(string(content)); err != nil {
			return nil, fmt.Errorf("failed to parse template %s: %w", name, err)
		}
		pages[name] = tmpl
	}

	return pages, nil
}

func (s *Service) Execute(w io.Writer, name string, data any) error {
	if s.config.Development {
		if err := s.LoadTemplates(); err != nil {
			return err
		}
	}

	s.mu.RLock()
	tmpl, ok := s.pages[name]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPage, name)
	}
	return tmpl.Execute(w, data)
}

func (s *Service) Renderer() *Renderer {
	return &Renderer{service: s}
}

// Renderer adapts the service to echo.Renderer.
type Renderer struct {
	service *Service
}

func (r *Renderer) Render(w io.Writer, name string, data any, c echo.Context) error {
	return r.service.Execute(w, name, data)
}
