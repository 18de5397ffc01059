package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
)

// FrameworkInfo describes a detected dev-server setup: which framework
// the project uses, the port its dev server conventionally listens on,
// and the command that conventionally starts it.
type FrameworkInfo struct {
	Name       string
	Port       int
	DevCommand string
}

// jsFrameworks is checked in order; the first dependency hit wins.
// More specific frameworks come before the bundlers they sit on.
var jsFrameworks = []struct {
	dep  string
	name string
	port int
}{
	{"next", "nextjs", 3000},
	{"nuxt", "nuxt", 3000},
	{"@angular/core", "angular", 4200},
	{"astro", "astro", 4321},
	{"@sveltejs/kit", "sveltekit", 5173},
	{"react-scripts", "cra", 3000},
	{"vite", "vite", 5173},
}

// DetectFramework inspects marker files to guess what dev server the
// project runs. Returns nil when nothing recognizable is found.
func DetectFramework(root string) *FrameworkInfo {
	if fw := detectJSFramework(root); fw != nil {
		return fw
	}
	if fileExists(filepath.Join(root, "manage.py")) {
		return &FrameworkInfo{Name: "django", Port: 8000, DevCommand: "python manage.py runserver"}
	}
	if pythonDependsOn(root, "flask") {
		return &FrameworkInfo{Name: "flask", Port: 5000, DevCommand: "flask run"}
	}
	if fileExists(filepath.Join(root, "go.mod")) {
		return &FrameworkInfo{Name: "go", Port: 8080, DevCommand: "go run ."}
	}
	return nil
}

func detectJSFramework(root string) *FrameworkInfo {
	pkgPath := filepath.Join(root, "package.json")
	data, err := os.ReadFile(pkgPath)
	if err != nil {
		return nil
	}

	var pkg struct {
		Scripts         map[string]string `json:"scripts"`
		Dependencies    map[string]string `json:"dependencies"`
		DevDependencies map[string]string `json:"devDependencies"`
	}
	if err := json.Unmarshal(data, &pkg); err != nil {
		return nil
	}

	has := func(dep string) bool {
		_, inDeps := pkg.Dependencies[dep]
		_, inDev := pkg.DevDependencies[dep]
		return inDeps || inDev
	}

	runner := packageRunner(root)

	for _, fw := range jsFrameworks {
		if has(fw.dep) {
			return &FrameworkInfo{Name: fw.name, Port: fw.port, DevCommand: runner + " dev"}
		}
	}

	// Unknown stack but a dev script exists; 3000 is the usual suspect.
	if _, ok := pkg.Scripts["dev"]; ok {
		return &FrameworkInfo{Name: "node", Port: 3000, DevCommand: runner + " dev"}
	}
	return nil
}

// packageRunner picks the script runner from the lock file present.
func packageRunner(root string) string {
	if fileExists(filepath.Join(root, "bun.lock")) || fileExists(filepath.Join(root, "bun.lockb")) {
		return "bun run"
	}
	if fileExists(filepath.Join(root, "pnpm-lock.yaml")) {
		return "pnpm run"
	}
	if fileExists(filepath.Join(root, "yarn.lock")) {
		return "yarn"
	}
	return "npm run"
}

func pythonDependsOn(root, dep string) bool {
	for _, name := range []string{"pyproject.toml", "requirements.txt"} {
		data, err := os.ReadFile(filepath.Join(root, name))
		if err != nil {
			continue
		}
		if strings.Contains(strings.ToLower(string(data)), dep) {
			return true
		}
	}
	return false
}

// DetectHints builds the probe order used when no target is
// configured: the detected framework's port first (plus the vite
// preview port where that applies), then the common fallbacks.
func DetectHints(root string) []EndpointHint {
	seen := make(map[int]bool)
	var hints []EndpointHint
	add := func(port int) {
		if port == 0 || seen[port] {
			return
		}
		seen[port] = true
		hints = append(hints, EndpointHint{Default: port})
	}

	if fw := DetectFramework(root); fw != nil {
		add(fw.Port)
		if fw.Name == "vite" || fw.Name == "sveltekit" || fw.Name == "astro" {
			add(4173)
		}
	}
	for _, port := range []int{5173, 3000, 8080} {
		add(port)
	}
	return hints
}
