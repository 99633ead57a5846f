package paths

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestURIRoundTrip(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("posix paths")
	}
	path := "/work/my project/analysis.R"
	uri := URIFromPath(path)
	if uri != "file:///work/my%20project/analysis.R" {
		t.Errorf("URIFromPath = %q", uri)
	}
	back, err := PathFromURI(uri)
	if err != nil {
		t.Fatalf("PathFromURI failed: %v", err)
	}
	if back != path {
		t.Errorf("PathFromURI = %q, want %q", back, path)
	}
}

func TestPathFromURI_Invalid(t *testing.T) {
	for _, uri := range []string{"http://example.com/a.R", "::bad"} {
		if _, err := PathFromURI(uri); err == nil {
			t.Errorf("PathFromURI(%q) error = nil, want error", uri)
		}
	}
}

func TestContext_Resolve(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("posix paths")
	}
	root := "/ws"
	tests := []struct {
		name string
		ctx  Context
		path string
		want string
	}{
		{
			name: "relative to file dir",
			ctx:  NewContext("/ws/scripts/a.R", root, ""),
			path: "utils.R",
			want: "/ws/scripts/utils.R",
		},
		{
			name: "explicit working dir",
			ctx:  NewContext("/ws/scripts/a.R", root, ".."),
			path: "data/load.R",
			want: "/ws/data/load.R",
		},
		{
			name: "workspace-root relative",
			ctx:  NewContext("/ws/scripts/a.R", root, ""),
			path: "/R/helpers.R",
			want: "/ws/R/helpers.R",
		},
		{
			name: "inherited working dir",
			ctx:  Context{FilePath: "/ws/sub/child.R", InheritedWorkingDir: "/ws", WorkspaceRoot: root},
			path: "sub/other.R",
			want: "/ws/sub/other.R",
		},
		{
			name: "explicit beats inherited",
			ctx: Context{FilePath: "/ws/sub/child.R", WorkingDir: "/ws/sub",
				InheritedWorkingDir: "/ws", WorkspaceRoot: root},
			path: "other.R",
			want: "/ws/sub/other.R",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.ctx.Resolve(tt.path); got != tt.want {
				t.Errorf("Resolve(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

func TestContext_BackwardIgnoresWorkingDir(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("posix paths")
	}
	ctx := NewContext("/ws/sub/child.R", "/ws", "/elsewhere")
	if got := ctx.ResolveFromFile("../main.R"); got != "/ws/main.R" {
		t.Errorf("ResolveFromFile = %q, want /ws/main.R", got)
	}
}

func TestContext_ChildContext(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("posix paths")
	}
	parent := NewContext("/ws/main.R", "/ws", "")

	child := parent.ChildContext("/ws/sub/child.R", false, "")
	if got := child.EffectiveWorkingDir(); got != "/ws" {
		t.Errorf("inherited wd = %q, want /ws", got)
	}
	chdir := parent.ChildContext("/ws/sub/child.R", true, "")
	if got := chdir.EffectiveWorkingDir(); got != "/ws/sub" {
		t.Errorf("chdir wd = %q, want /ws/sub", got)
	}
}

func TestIsWithinWorkspace(t *testing.T) {
	root := t.TempDir()
	inside := filepath.Join(root, "a", "b.R")
	if err := os.MkdirAll(filepath.Dir(inside), 0o755); err != nil {
		t.Fatal(err)
	}
	if !IsWithinWorkspace(inside, root) {
		t.Errorf("IsWithinWorkspace(%q) = false", inside)
	}
	if IsWithinWorkspace(filepath.Dir(root), root) {
		t.Errorf("parent dir reported inside workspace")
	}
}
