// Package provision materializes per-case working directories from a template tree.
package provision

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"go.uber.org/zap"

	"regrun/pkg/model"
)

// ErrOutsideWorkRoot rejects a case directory that would not be a child of WorkRoot.
var ErrOutsideWorkRoot = errors.New("path outside work root")

// OutLink is the symlink inside every case directory that points at its scratch area.
const OutLink = "out"

// ProvisionError reports a failed directory, symlink or template step. The case stays Pending.
type ProvisionError struct {
	Case string
	Step string
	Err  error
}

func (e *ProvisionError) Error() string {
	return fmt.Sprintf("provision %s: %s: %v", e.Case, e.Step, e.Err)
}

func (e *ProvisionError) Unwrap() error { return e.Err }

// TemplateData is what every template file is rendered with.
type TemplateData struct {
	Name string
	Data map[string]string
}

type Options struct {
	TemplateDir string
	WorkRoot    string
	ScratchRoot string
}

type Provisioner struct {
	opts   Options
	logger *zap.Logger
}

func New(opts Options, logger *zap.Logger) *Provisioner {
	return &Provisioner{opts: opts, logger: logger.Named("provision")}
}

// Create builds <WorkRoot>/<name>, links <dir>/out to <ScratchRoot>/<name> and
// renders the template tree into it. Existing directories and links are reused.
func (p *Provisioner) Create(tc model.TestCase) (string, error) {
	dir, err := p.caseDir(tc.Name)
	if err != nil {
		return "", &ProvisionError{Case: tc.Name, Step: "name", Err: err}
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", &ProvisionError{Case: tc.Name, Step: "mkdir", Err: err}
	}

	if p.opts.ScratchRoot != "" {
		scratch := filepath.Join(p.opts.ScratchRoot, tc.Name)
		if err := os.MkdirAll(scratch, 0o755); err != nil {
			return "", &ProvisionError{Case: tc.Name, Step: "scratch", Err: err}
		}
		link := filepath.Join(dir, OutLink)
		if _, err := os.Lstat(link); os.IsNotExist(err) {
			if err := os.Symlink(scratch, link); err != nil {
				return "", &ProvisionError{Case: tc.Name, Step: "symlink", Err: err}
			}
		}
	}

	data := TemplateData{Name: tc.Name, Data: make(map[string]string, len(tc.Config))}
	for _, param := range tc.Config {
		data.Data[param.Name] = param.Value
	}
	if err := p.render(dir, data); err != nil {
		return "", &ProvisionError{Case: tc.Name, Step: "template", Err: err}
	}

	p.logger.Info("case directory ready", zap.String("case", tc.Name), zap.String("dir", dir))
	return dir, nil
}

// caseDir maps a case name to its directory. Names come from uploaded
// matrices, so they must be a single path element.
func (p *Provisioner) caseDir(name string) (string, error) {
	if name == "" {
		return "", errors.New("empty case name")
	}
	if name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("case name %q: %w", name, ErrOutsideWorkRoot)
	}
	dir := filepath.Join(p.opts.WorkRoot, name)
	if !p.inWorkRoot(dir) {
		return "", fmt.Errorf("case name %q: %w", name, ErrOutsideWorkRoot)
	}
	return dir, nil
}

// inWorkRoot reports whether dir is strictly below WorkRoot.
func (p *Provisioner) inWorkRoot(dir string) bool {
	root, err := filepath.Abs(p.opts.WorkRoot)
	if err != nil {
		return false
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(root, abs)
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func (p *Provisioner) render(dir string, data TemplateData) error {
	if p.opts.TemplateDir == "" {
		return nil
	}
	return filepath.WalkDir(p.opts.TemplateDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(p.opts.TemplateDir, path)
		if err != nil {
			return err
		}

		raw, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		tmpl, err := template.New(rel).Option("missingkey=error").Parse(string(raw))
		if err != nil {
			return fmt.Errorf("parse %s: %w", rel, err)
		}
		var out bytes.Buffer
		if err := tmpl.Execute(&out, data); err != nil {
			return fmt.Errorf("render %s: %w", rel, err)
		}

		target := filepath.Join(dir, rel)
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		return os.WriteFile(target, out.Bytes(), 0o644)
	})
}

// Remove deletes a case directory. The scratch area behind the out link is kept.
func (p *Provisioner) Remove(dir string) error {
	if dir == "" {
		return fmt.Errorf("remove: empty directory")
	}
	if !p.inWorkRoot(dir) {
		return fmt.Errorf("remove %s: %w", dir, ErrOutsideWorkRoot)
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove %s: %w", dir, err)
	}
	p.logger.Info("case directory removed", zap.String("dir", dir))
	return nil
}
