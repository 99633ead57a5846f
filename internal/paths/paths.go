package paths

import (
	"net/url"
	"os"
	"path/filepath"
	"strings"

	rerrors "rscope/internal/errors"
)

// URIFromPath converts a filesystem path to a file:// URI.
func URIFromPath(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	slashed := filepath.ToSlash(abs)
	if !strings.HasPrefix(slashed, "/") {
		// windows drive paths
		slashed = "/" + slashed
	}
	u := url.URL{Scheme: "file", Path: slashed}
	return u.String()
}

// PathFromURI converts a file:// URI to a filesystem path.
func PathFromURI(uri string) (string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", rerrors.NewRscopeError(rerrors.InvalidURI, "malformed uri "+uri, err)
	}
	if u.Scheme != "file" {
		return "", rerrors.NewRscopeError(rerrors.InvalidURI, "not a file uri: "+uri, nil)
	}
	p := u.Path
	if len(p) >= 3 && p[0] == '/' && p[2] == ':' {
		p = p[1:]
	}
	return filepath.FromSlash(p), nil
}

// Context resolves paths written inside one file.
//
// WorkingDir is the file's own @lsp-cd override, InheritedWorkingDir the
// working directory inherited from the parent that sources it.
type Context struct {
	FilePath            string
	WorkingDir          string
	InheritedWorkingDir string
	WorkspaceRoot       string
}

// NewContext builds a context for filePath, resolving the raw working
// directory directive (if any) against the file's directory.
func NewContext(filePath, workspaceRoot, workingDirDirective string) Context {
	ctx := Context{FilePath: filePath, WorkspaceRoot: workspaceRoot}
	if workingDirDirective != "" {
		ctx.WorkingDir = ctx.resolveFrom(filepath.Dir(filePath), workingDirDirective)
	}
	return ctx
}

// Dir returns the directory containing the file.
func (c Context) Dir() string {
	return filepath.Dir(c.FilePath)
}

// EffectiveWorkingDir is the explicit override, else the inherited
// directory, else the file's own directory.
func (c Context) EffectiveWorkingDir() string {
	switch {
	case c.WorkingDir != "":
		return c.WorkingDir
	case c.InheritedWorkingDir != "":
		return c.InheritedWorkingDir
	}
	return c.Dir()
}

// Resolve resolves a forward inclusion path against the effective working
// directory.
func (c Context) Resolve(p string) string {
	return c.resolveFrom(c.EffectiveWorkingDir(), p)
}

// ResolveFromFile resolves a path relative to the file's own directory.
// Backward declarations use this and ignore working-directory overrides.
func (c Context) ResolveFromFile(p string) string {
	return c.resolveFrom(c.Dir(), p)
}

func (c Context) resolveFrom(base, p string) string {
	p = filepath.FromSlash(p)
	if strings.HasPrefix(p, string(filepath.Separator)) && c.WorkspaceRoot != "" {
		return filepath.Join(c.WorkspaceRoot, p[1:])
	}
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(base, p)
}

// ChildContext returns the context a sourced child inherits. With chdir the
// child runs in its own directory.
func (c Context) ChildContext(childPath string, chdir bool, childWorkingDirDirective string) Context {
	child := NewContext(childPath, c.WorkspaceRoot, childWorkingDirDirective)
	if chdir {
		child.InheritedWorkingDir = filepath.Dir(childPath)
	} else {
		child.InheritedWorkingDir = c.EffectiveWorkingDir()
	}
	return child
}

// CanonicalizePath converts an absolute path to a workspace-relative path
// with forward slashes, resolving symlinks where possible.
func CanonicalizePath(absolutePath string, root string) (string, error) {
	resolved, err := filepath.EvalSymlinks(absolutePath)
	if err != nil {
		if !os.IsNotExist(err) {
			return "", err
		}
		resolved = absolutePath
	}

	rootResolved, err := filepath.EvalSymlinks(root)
	if err != nil {
		if !os.IsNotExist(err) {
			return "", err
		}
		rootResolved = root
	}

	rel, err := filepath.Rel(rootResolved, resolved)
	if err != nil {
		return "", err
	}
	return filepath.ToSlash(rel), nil
}

// IsWithinWorkspace checks if a path is inside the workspace root
func IsWithinWorkspace(path string, root string) bool {
	canonical, err := CanonicalizePath(path, root)
	if err != nil {
		return false
	}
	return canonical != ".." && !strings.HasPrefix(canonical, "../")
}

// RelativeURI renders uri relative to root for messages, falling back to
// the uri itself.
func RelativeURI(uri, root string) string {
	p, err := PathFromURI(uri)
	if err != nil || root == "" {
		return uri
	}
	rel, err := CanonicalizePath(p, root)
	if err != nil || strings.HasPrefix(rel, "..") {
		return uri
	}
	return rel
}
