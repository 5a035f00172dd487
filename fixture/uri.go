package fixture

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
)

// NormalizeURI turns the location argument of [Editor.CreateModel] into the
// string the page parses. An absolute URI is kept exactly, anything else is a
// filesystem path and is prefixed with "file://". An empty location stays
// empty, leaving the editor to assign one.
func NormalizeURI(pathOrURI string) string {
	if pathOrURI == "" {
		return ""
	}
	if u, err := url.Parse(pathOrURI); err == nil && u.IsAbs() {
		return pathOrURI
	}
	return "file://" + pathOrURI
}

// fileURLPath converts a file URL into a local directory path.
func fileURLPath(u *url.URL) (string, error) {
	if u.Scheme != "file" {
		return "", fmt.Errorf("cwd must be a file URL, got scheme %q", u.Scheme)
	}
	if u.Host != "" && u.Host != "localhost" {
		return "", fmt.Errorf("cwd file URL has non-local host %q", u.Host)
	}
	if u.Path == "" {
		return "", errors.New("cwd file URL has no path")
	}
	return filepath.FromSlash(u.Path), nil
}

// OpenOptions controls how [Editor.Open] resolves its patterns.
type OpenOptions struct {
	// Cwd is the base directory. Takes precedence over CwdURL.
	Cwd string
	// CwdURL is the base directory as a file URL.
	CwdURL *url.URL
	// Dot includes files and directories whose names start with a dot.
	Dot bool
}

func (o OpenOptions) baseDir() (string, error) {
	switch {
	case o.Cwd != "":
		return filepath.Abs(o.Cwd)
	case o.CwdURL != nil:
		return fileURLPath(o.CwdURL)
	default:
		return os.Getwd()
	}
}
