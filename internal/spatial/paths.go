package spatial

import (
	"net/url"
	"path/filepath"
	"strings"
)

// Paths resolves input dataset names and code-artifact locations.
type Paths struct {
	// DataDir holds input datasets referenced by relative name.
	DataDir string
	// JarDir holds code artifacts referenced by relative name.
	JarDir string
	// Jars maps a target class to its code artifact.
	Jars map[string]string
}

// InputPath returns the absolute location of an input dataset. Absolute
// paths and URIs are returned unchanged.
func (p *Paths) InputPath(file string) string {
	return resolve(p.dataDir(), file)
}

// JarPath returns the artifact location for class, or "" when the engine
// already knows the class.
func (p *Paths) JarPath(class string) string {
	if p == nil {
		return ""
	}
	jar, ok := p.Jars[class]
	if !ok || jar == "" {
		return ""
	}
	return resolve(p.JarDir, jar)
}

// InputPaths resolves every file in order.
func (p *Paths) InputPaths(files []string) []string {
	out := make([]string, 0, len(files))
	for _, f := range files {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, p.InputPath(f))
		}
	}
	return out
}

func (p *Paths) dataDir() string {
	if p == nil {
		return ""
	}
	return p.DataDir
}

func resolve(dir, name string) string {
	if isURI(name) || filepath.IsAbs(name) || dir == "" {
		return name
	}
	return filepath.Join(dir, name)
}

func isURI(s string) bool {
	u, err := url.Parse(s)
	return err == nil && len(u.Scheme) > 1 && strings.HasPrefix(s, u.Scheme+"://")
}
