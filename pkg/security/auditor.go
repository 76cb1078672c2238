// Package security audits Python snippets before the script executor may
// run them. The audit is static: forbidden imports, interpreter escapes and
// out-of-policy file access are rejected without executing anything.
package security

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"

	"deskjarvis/agent/pkg/logger"
	"deskjarvis/agent/pkg/utils"
)

var forbiddenModules = map[string]bool{
	"os": true, "subprocess": true, "shutil": true, "sys": true,
	"platform": true, "ctypes": true, "multiprocessing": true,
	"threading": true, "__builtin__": true, "__builtins__": true,
	"builtins": true, "importlib": true, "imp": true, "pkgutil": true,
}

var forbiddenAttributes = map[string]bool{
	"__subclasses__": true, "__class__": true, "__bases__": true,
	"__mro__": true, "__builtins__": true, "__builtin__": true,
	"__dict__": true, "__globals__": true, "__code__": true,
	"__func__": true, "__self__": true, "__module__": true,
	"getattr": true, "setattr": true, "delattr": true, "hasattr": true,
	"__import__": true, "eval": true, "exec": true, "compile": true,
	"execfile": true,
}

var forbiddenFunctions = map[string]bool{
	"eval": true, "exec": true, "compile": true, "__import__": true,
	"file": true, "input": true, "raw_input": true,
}

// Home subdirectories scripts may read and write.
var allowedHomeSubdirs = map[string]bool{
	"Desktop": true, "Downloads": true, "Documents": true,
	"Pictures": true, "Movies": true, "Music": true,
}

// Home subdirectories that hold credentials or system state.
var forbiddenHomeSubdirs = map[string]bool{
	".ssh": true, "Library": true, ".config": true, ".local": true,
	".cache": true, ".gnupg": true, ".aws": true, ".kube": true,
	".docker": true, ".vagrant": true,
}

// Auditor checks Python source against the script safety policy.
type Auditor struct {
	parser     *sitter.Parser
	sandboxDir string
	log        logger.Logger
}

// NewAuditor creates an auditor bound to the given sandbox directory.
func NewAuditor(sandboxDir string, log logger.Logger) *Auditor {
	p := sitter.NewParser()
	p.SetLanguage(python.GetLanguage())
	return &Auditor{
		parser:     p,
		sandboxDir: sandboxDir,
		log:        log,
	}
}

// AuditScript reports whether the source passes the policy. Unparseable
// source passes; the interpreter will surface the syntax error itself.
func (a *Auditor) AuditScript(ctx context.Context, source string) (bool, string) {
	src := []byte(source)
	tree, err := a.parser.ParseCtx(ctx, nil, src)
	if err != nil {
		a.log.Warnf("Script audit could not parse source: %v", err)
		return true, ""
	}
	defer tree.Close()

	var violations []string
	a.walk(tree.RootNode(), src, &violations)

	if len(violations) == 0 {
		return true, ""
	}
	return false, strings.Join(violations, "; ")
}

func (a *Auditor) walk(node *sitter.Node, src []byte, violations *[]string) {
	if node == nil {
		return
	}

	switch node.Type() {
	case "import_statement":
		a.checkImport(node, src, violations)
	case "import_from_statement":
		a.checkImportFrom(node, src, violations)
	case "call":
		a.checkCall(node, src, violations)
	case "attribute":
		a.checkAttribute(node, src, violations)
	}

	for i := 0; i < int(node.NamedChildCount()); i++ {
		a.walk(node.NamedChild(i), src, violations)
	}
}

func (a *Auditor) checkImport(node *sitter.Node, src []byte, violations *[]string) {
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		name := ""
		switch child.Type() {
		case "dotted_name":
			name = text(child, src)
		case "aliased_import":
			if n := child.ChildByFieldName("name"); n != nil {
				name = text(n, src)
			}
		}
		if module := topSegment(name); forbiddenModules[module] {
			*violations = append(*violations, fmt.Sprintf("import of forbidden module %q", module))
		}
	}
}

func (a *Auditor) checkImportFrom(node *sitter.Node, src []byte, violations *[]string) {
	if n := node.ChildByFieldName("module_name"); n != nil {
		if module := topSegment(text(n, src)); forbiddenModules[module] {
			*violations = append(*violations, fmt.Sprintf("import from forbidden module %q", module))
		}
	}
}

func (a *Auditor) checkCall(node *sitter.Node, src []byte, violations *[]string) {
	fn := node.ChildByFieldName("function")
	if fn == nil {
		return
	}

	if fn.Type() == "identifier" {
		name := text(fn, src)
		if forbiddenFunctions[name] {
			*violations = append(*violations, fmt.Sprintf("call to forbidden function %q", name))
			return
		}
		switch name {
		case "getattr", "setattr", "delattr", "hasattr":
			a.checkReflectionCall(node, src, violations, name)
		case "open":
			a.checkOpenCall(node, src, violations)
		}
	}
}

func (a *Auditor) checkAttribute(node *sitter.Node, src []byte, violations *[]string) {
	attr := node.ChildByFieldName("attribute")
	if attr == nil {
		return
	}
	if name := text(attr, src); forbiddenAttributes[name] {
		*violations = append(*violations, fmt.Sprintf("access to forbidden attribute %q", name))
	}
}

// checkReflectionCall flags getattr-style calls that name a forbidden
// attribute as a constant, including getattr(builtins, "eval") escapes.
func (a *Auditor) checkReflectionCall(node *sitter.Node, src []byte, violations *[]string, name string) {
	args := node.ChildByFieldName("arguments")
	if args == nil || args.NamedChildCount() < 2 {
		return
	}
	target, ok := stringLiteral(args.NamedChild(1), src)
	if !ok {
		return
	}
	if forbiddenAttributes[target] || forbiddenFunctions[target] {
		*violations = append(*violations, fmt.Sprintf("%s call naming forbidden attribute %q", name, target))
		return
	}
	first := args.NamedChild(0)
	if first.Type() == "identifier" && forbiddenModules[text(first, src)] {
		*violations = append(*violations, fmt.Sprintf("%s call against forbidden module %q", name, text(first, src)))
	}
}

func (a *Auditor) checkOpenCall(node *sitter.Node, src []byte, violations *[]string) {
	args := node.ChildByFieldName("arguments")
	if args == nil || args.NamedChildCount() == 0 {
		return
	}
	path, ok := stringLiteral(args.NamedChild(0), src)
	if !ok {
		// Dynamic path; the path policy runs again at execution time.
		a.log.Warnf("Script audit: open() with non-literal path, skipping static check")
		return
	}
	if reason := a.checkOpenPath(path); reason != "" {
		*violations = append(*violations, reason)
	}
}

// checkOpenPath applies the file access policy to a literal open() path.
// Returns "" when the access is allowed.
func (a *Auditor) checkOpenPath(path string) string {
	expanded := utils.ExpandHome(path)
	if !filepath.IsAbs(expanded) {
		// Relative paths resolve inside the sandbox working directory.
		return ""
	}
	resolved := filepath.Clean(expanded)

	if a.sandboxDir != "" {
		sandbox, err := filepath.Abs(utils.ExpandHome(a.sandboxDir))
		if err == nil && within(resolved, sandbox) {
			return ""
		}
	}

	home, err := os.UserHomeDir()
	if err != nil || !within(resolved, home) {
		return fmt.Sprintf("open(%q) outside the allowed directories", path)
	}

	rel, err := filepath.Rel(home, resolved)
	if err != nil || rel == "." {
		return fmt.Sprintf("open(%q) outside the allowed directories", path)
	}
	first := strings.SplitN(rel, string(filepath.Separator), 2)[0]
	if forbiddenHomeSubdirs[first] {
		return fmt.Sprintf("open(%q) touches protected directory %q", path, first)
	}
	if allowedHomeSubdirs[first] {
		return ""
	}
	return fmt.Sprintf("open(%q) outside the allowed directories", path)
}

func text(node *sitter.Node, src []byte) string {
	if node == nil {
		return ""
	}
	return string(src[node.StartByte():node.EndByte()])
}

func topSegment(dotted string) string {
	return strings.SplitN(strings.TrimSpace(dotted), ".", 2)[0]
}

// stringLiteral extracts the value of a Python string literal node,
// stripping quotes and common prefixes.
func stringLiteral(node *sitter.Node, src []byte) (string, bool) {
	if node == nil || node.Type() != "string" {
		return "", false
	}
	raw := text(node, src)
	raw = strings.TrimLeft(raw, "rRbBuUfF")
	for _, quote := range []string{`"""`, `'''`, `"`, `'`} {
		if strings.HasPrefix(raw, quote) && strings.HasSuffix(raw, quote) && len(raw) >= 2*len(quote) {
			return raw[len(quote) : len(raw)-len(quote)], true
		}
	}
	return raw, true
}

func within(path string, root string) bool {
	root = filepath.Clean(root)
	if path == root {
		return true
	}
	return strings.HasPrefix(path, root+string(filepath.Separator))
}
