package pathsafety

import (
	"os"
	"path/filepath"
	"testing"
)

func TestValidatorResolve(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "nested"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "nested", "ok.js"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	v, err := NewValidator(root, nil)
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}

	t.Run("accepts nested relative path", func(t *testing.T) {
		got, err := v.Resolve("nested/ok.js")
		if err != nil {
			t.Fatalf("Resolve: %v", err)
		}
		want := filepath.Join(v.Root(), "nested", "ok.js")
		if got != want {
			t.Errorf("got %q, want %q", got, want)
		}
	})

	t.Run("rejects dotdot traversal", func(t *testing.T) {
		if _, err := v.Resolve("../../etc/passwd"); err == nil {
			t.Fatal("expected traversal to be rejected")
		}
	})

	t.Run("rejects absolute path outside root", func(t *testing.T) {
		if _, err := v.Resolve("/etc/passwd"); err == nil {
			t.Fatal("expected outside-root absolute path to be rejected")
		}
	})

	t.Run("rejects symlink escaping root", func(t *testing.T) {
		outside := t.TempDir()
		target := filepath.Join(outside, "secret.txt")
		if err := os.WriteFile(target, []byte("s"), 0o644); err != nil {
			t.Fatal(err)
		}
		link := filepath.Join(root, "escape")
		if err := os.Symlink(target, link); err != nil {
			t.Skipf("symlinks unsupported: %v", err)
		}
		if _, err := v.Resolve("escape"); err == nil {
			t.Fatal("expected symlink escape to be rejected")
		}
	})

	t.Run("allows not-yet-created leaf under safe directory", func(t *testing.T) {
		got, err := v.Resolve("nested/new-file.txt")
		if err != nil {
			t.Fatalf("Resolve: %v", err)
		}
		if filepath.Dir(got) != filepath.Join(v.Root(), "nested") {
			t.Errorf("got %q in unexpected directory", got)
		}
	})

	t.Run("rejects shell metacharacters", func(t *testing.T) {
		if _, err := v.Resolve("nested/$(rm -rf).js"); err == nil {
			t.Fatal("expected shell metacharacter to be rejected")
		}
	})
}

func TestContainsShellMetacharacters(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"plain/path.js", false},
		{"evil;rm -rf /", true},
		{"$(whoami)", true},
		{"a[b].ts", true},
	}
	for _, c := range cases {
		if got := ContainsShellMetacharacters(c.in); got != c.want {
			t.Errorf("ContainsShellMetacharacters(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestIsAllowedExtension(t *testing.T) {
	for _, ext := range []string{".js", ".mjs", ".ts", ".jsx", ".tsx", ".json", ".yml", ".yaml"} {
		if !IsAllowedExtension(ext) {
			t.Errorf("IsAllowedExtension(%q) = false, want true", ext)
		}
	}
	for _, ext := range []string{".exe", ".sh", ".py", ""} {
		if IsAllowedExtension(ext) {
			t.Errorf("IsAllowedExtension(%q) = true, want false", ext)
		}
	}
}

func TestWalkSkipsDenylistedAndDisallowedExtensions(t *testing.T) {
	root := t.TempDir()
	files := map[string]string{
		"index.js":           "console.log(1)",
		"notes.txt":          "not scanned",
		"package-lock.json":  "{}",
		".hidden.js":         "hidden",
		"nested/app.ts":      "export {}",
	}
	for name, content := range files {
		full := filepath.Join(root, name)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	v, err := NewValidator(root, nil)
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}

	got, err := v.Walk()
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}

	var sawIndex, sawNested bool
	for _, f := range got {
		base := filepath.Base(f)
		if base == "notes.txt" || base == "package-lock.json" || base == ".hidden.js" {
			t.Errorf("Walk returned denylisted/disallowed file %q", f)
		}
		if base == "index.js" {
			sawIndex = true
		}
		if base == "app.ts" {
			sawNested = true
		}
	}
	if !sawIndex || !sawNested {
		t.Errorf("Walk missing expected files, got %v", got)
	}
}
