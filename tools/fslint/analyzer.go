// Package fslint reports filesystem access that bypasses the injected
// afero.Fs in settingsync's internal packages.
//
// Engine code reads and writes settings, history and state through env.Fs so
// tests can run on an in-memory filesystem. A call such as os.WriteFile in
// those packages silently escapes that, so it is reported unless the package
// is allowed or the line carries a nolint:fslint comment.
package fslint

import (
	_ "embed"
	"fmt"
	"go/ast"
	"go/token"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"golang.org/x/tools/go/analysis"
)

//go:embed fslint.toml
var defaultConfig []byte

// nolintDirective suppresses a report on the line it appears on.
const nolintDirective = "nolint:fslint"

var configFile string

// Config represents the fslint configuration.
type Config struct {
	ScanDirs        []string            `toml:"scan_dirs"`
	AllowedPackages []string            `toml:"allowed_packages"`
	ForbiddenCalls  map[string][]string `toml:"forbidden_calls"`
}

// Analyzer is the fslint analyzer.
var Analyzer = &analysis.Analyzer{
	Name: "fslint",
	Doc:  "reports direct filesystem calls in packages that must go through env.Fs",
	Run:  run,
}

func init() {
	Analyzer.Flags.StringVar(&configFile, "config", "", "path to an fslint config file (default: the built-in settingsync rules)")
}

// loadConfig reads the config at path, or the built-in rules when path is empty.
func loadConfig(path string) (*Config, error) {
	data := defaultConfig
	if path != "" {
		var err error
		if data, err = os.ReadFile(path); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return parseConfig(data)
}

func parseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return &cfg, nil
}

func run(pass *analysis.Pass) (any, error) {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return nil, err
	}

	pkgPath := pass.Pkg.Path()
	if !shouldScanPackage(pkgPath, cfg.ScanDirs) || isAllowedPackage(pkgPath, cfg.AllowedPackages) {
		return nil, nil
	}

	forbidden := make(map[string]map[string]bool)
	for pkg, funcs := range cfg.ForbiddenCalls {
		forbidden[pkg] = make(map[string]bool)
		for _, fn := range funcs {
			forbidden[pkg][fn] = true
		}
	}

	for _, file := range pass.Files {
		imports := buildImportMap(file)
		suppressed := suppressedLines(pass.Fset, file)

		ast.Inspect(file, func(n ast.Node) bool {
			call, ok := n.(*ast.CallExpr)
			if !ok {
				return true
			}
			sel, ok := call.Fun.(*ast.SelectorExpr)
			if !ok {
				return true
			}
			ident, ok := sel.X.(*ast.Ident)
			if !ok {
				return true
			}
			importPath, ok := imports[ident.Name]
			if !ok || !forbidden[importPath][sel.Sel.Name] {
				return true
			}
			if suppressed[pass.Fset.Position(call.Pos()).Line] {
				return true
			}
			pass.Reportf(call.Pos(), "%s.%s bypasses the injected filesystem (use env.Fs)", ident.Name, sel.Sel.Name)
			return true
		})
	}
	return nil, nil
}

// suppressedLines returns the lines of file that carry a nolint:fslint comment.
func suppressedLines(fset *token.FileSet, file *ast.File) map[int]bool {
	lines := make(map[int]bool)
	for _, group := range file.Comments {
		for _, c := range group.List {
			if strings.Contains(c.Text, nolintDirective) {
				lines[fset.Position(c.Slash).Line] = true
			}
		}
	}
	return lines
}

// shouldScanPackage checks if the package path should be scanned based on scan_dirs config.
func shouldScanPackage(pkgPath string, scanDirs []string) bool {
	for _, dir := range scanDirs {
		if strings.Contains(pkgPath, "/"+dir) || strings.HasPrefix(pkgPath, dir) {
			return true
		}
	}
	return false
}

// isAllowedPackage checks if pkgPath matches any allowed package or is a subpackage of it.
func isAllowedPackage(pkgPath string, allowedPackages []string) bool {
	for _, allowed := range allowedPackages {
		if matchesPackagePath(pkgPath, allowed) {
			return true
		}
	}
	return false
}

// matchesPackagePath checks if pkgPath is pattern or one of its subpackages.
// Pattern examples: "internal/transact", "internal/util".
func matchesPackagePath(pkgPath, pattern string) bool {
	return strings.HasSuffix(pkgPath, "/"+pattern) ||
		strings.Contains(pkgPath, "/"+pattern+"/") ||
		pkgPath == pattern ||
		strings.HasPrefix(pkgPath, pattern+"/")
}

// buildImportMap maps each import's local name to its path.
func buildImportMap(file *ast.File) map[string]string {
	imports := make(map[string]string)
	for _, imp := range file.Imports {
		path := strings.Trim(imp.Path.Value, `"`)
		var name string
		if imp.Name != nil {
			name = imp.Name.Name
		} else {
			parts := strings.Split(path, "/")
			name = parts[len(parts)-1]
		}
		imports[name] = path
	}
	return imports
}
