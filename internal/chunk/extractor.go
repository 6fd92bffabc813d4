package chunk

import (
	"strings"
)

// Extractor is the per-language capability used by the chunker to classify
// AST nodes and pull the name/signature/docstring a definition needs.
type Extractor interface {
	// DefinitionKinds returns the tree-sitter node types this language
	// treats as chunk-worthy definitions, mapped to the ChunkKind they
	// classify as.
	DefinitionKinds() map[string]ChunkKind

	// ExtractName returns the declared name of a definition node.
	ExtractName(n *Node, source []byte) (string, bool)

	// ExtractSignature returns the declaration line (up to the opening
	// brace, or the full header for colon-terminated languages).
	ExtractSignature(n *Node, source []byte, kind ChunkKind) (string, bool)

	// ExtractDocstring returns the leading doc comment (brace languages)
	// or the first string-literal statement in the body (Python-style
	// languages).
	ExtractDocstring(n *Node, source []byte) (string, bool)

	// Classify maps a matched node type to its ChunkKind.
	Classify(nodeType string) (ChunkKind, bool)
}

// ExtractorFor returns the capability extractor for a registered language
// name, or false if the language is not registered.
func ExtractorFor(registry *LanguageRegistry, language string) (Extractor, bool) {
	config, ok := registry.GetByName(language)
	if !ok {
		return nil, false
	}
	return newExtractorForLanguage(language, config), true
}

func newExtractorForLanguage(language string, config *LanguageConfig) Extractor {
	base := baseExtractor{config: config}
	switch language {
	case "go":
		return &goExtractor{baseExtractor: base}
	case "typescript", "tsx":
		return &typescriptExtractor{baseExtractor: base}
	case "javascript", "jsx":
		return &javascriptExtractor{baseExtractor: base}
	case "python":
		return &pythonExtractor{baseExtractor: base}
	default:
		return &genericExtractor{baseExtractor: base}
	}
}

// baseExtractor holds the shared definitionKinds/classify logic derived
// from a LanguageConfig's node-type lists.
type baseExtractor struct {
	config *LanguageConfig
}

func (b *baseExtractor) DefinitionKinds() map[string]ChunkKind {
	kinds := make(map[string]ChunkKind)
	for _, t := range b.config.FunctionTypes {
		kinds[t] = KindFunction
	}
	for _, t := range b.config.MethodTypes {
		kinds[t] = KindMethod
	}
	for _, t := range b.config.ClassTypes {
		kinds[t] = KindClass
	}
	for _, t := range b.config.InterfaceTypes {
		kinds[t] = KindInterface
	}
	for _, t := range b.config.TypeDefTypes {
		kinds[t] = KindTypeAlias
	}
	for _, t := range b.config.ConstantTypes {
		kinds[t] = KindConst
	}
	for _, t := range b.config.VariableTypes {
		kinds[t] = KindStatic
	}
	return kinds
}

func (b *baseExtractor) Classify(nodeType string) (ChunkKind, bool) {
	kind, ok := b.DefinitionKinds()[nodeType]
	return kind, ok
}

// extractSignatureGeneric extracts up to the opening brace for
// brace-terminated declarations, falling back to the first full line.
func extractSignatureGeneric(n *Node, source []byte) (string, bool) {
	content := n.GetContent(source)
	if content == "" {
		return "", false
	}
	firstLine := strings.SplitN(content, "\n", 2)[0]
	firstLine = strings.TrimSpace(firstLine)
	if idx := strings.Index(firstLine, "{"); idx != -1 {
		return strings.TrimSpace(firstLine[:idx]), true
	}
	return firstLine, firstLine != ""
}

// extractDocCommentBackward scans the line immediately preceding n for a
// single-line comment prefix, used by the brace-family languages.
func extractDocCommentBackward(n *Node, source []byte, prefix string) (string, bool) {
	if n.StartPoint.Row == 0 {
		return "", false
	}

	lineStart := int(n.StartByte)
	for lineStart > 0 && source[lineStart-1] != '\n' {
		lineStart--
	}
	if lineStart <= 1 {
		return "", false
	}

	prevLineEnd := lineStart - 1
	prevLineStart := prevLineEnd - 1
	for prevLineStart > 0 && source[prevLineStart-1] != '\n' {
		prevLineStart--
	}

	prevLine := strings.TrimSpace(string(source[prevLineStart:prevLineEnd]))
	if strings.HasPrefix(prevLine, prefix) {
		return strings.TrimSpace(strings.TrimPrefix(prevLine, prefix)), true
	}
	return "", false
}

func findChild(n *Node, nodeType string) *Node {
	for _, c := range n.Children {
		if c.Type == nodeType {
			return c
		}
	}
	return nil
}

func findDescendant(n *Node, nodeType string) *Node {
	for _, c := range n.Children {
		if c.Type == nodeType {
			return c
		}
		if d := findDescendant(c, nodeType); d != nil {
			return d
		}
	}
	return nil
}

// --- Go ---

type goExtractor struct {
	baseExtractor
}

func (g *goExtractor) ExtractName(n *Node, source []byte) (string, bool) {
	switch n.Type {
	case "function_declaration":
		if c := findChild(n, "identifier"); c != nil {
			return c.GetContent(source), true
		}
	case "method_declaration":
		if c := findChild(n, "field_identifier"); c != nil {
			return c.GetContent(source), true
		}
	case "type_declaration":
		if spec := findChild(n, "type_spec"); spec != nil {
			if c := findChild(spec, "type_identifier"); c != nil {
				return c.GetContent(source), true
			}
		}
	case "const_declaration":
		if spec := findChild(n, "const_spec"); spec != nil {
			if c := findChild(spec, "identifier"); c != nil {
				return c.GetContent(source), true
			}
		}
	case "var_declaration":
		if spec := findChild(n, "var_spec"); spec != nil {
			if c := findChild(spec, "identifier"); c != nil {
				return c.GetContent(source), true
			}
		}
	}
	return "", false
}

func (g *goExtractor) ExtractSignature(n *Node, source []byte, kind ChunkKind) (string, bool) {
	return extractSignatureGeneric(n, source)
}

func (g *goExtractor) ExtractDocstring(n *Node, source []byte) (string, bool) {
	return extractDocCommentBackward(n, source, "//")
}

// --- TypeScript / JavaScript (share the declarator-nesting shape) ---

type typescriptExtractor struct {
	baseExtractor
}

func (t *typescriptExtractor) ExtractName(n *Node, source []byte) (string, bool) {
	return extractJSFamilyName(n, source)
}

func (t *typescriptExtractor) ExtractSignature(n *Node, source []byte, kind ChunkKind) (string, bool) {
	return extractSignatureGeneric(n, source)
}

func (t *typescriptExtractor) ExtractDocstring(n *Node, source []byte) (string, bool) {
	return extractDocCommentBackward(n, source, "//")
}

type javascriptExtractor struct {
	baseExtractor
}

func (j *javascriptExtractor) ExtractName(n *Node, source []byte) (string, bool) {
	return extractJSFamilyName(n, source)
}

func (j *javascriptExtractor) ExtractSignature(n *Node, source []byte, kind ChunkKind) (string, bool) {
	return extractSignatureGeneric(n, source)
}

func (j *javascriptExtractor) ExtractDocstring(n *Node, source []byte) (string, bool) {
	return extractDocCommentBackward(n, source, "//")
}

func extractJSFamilyName(n *Node, source []byte) (string, bool) {
	if n.Type == "lexical_declaration" || n.Type == "variable_declaration" {
		if decl := findChild(n, "variable_declarator"); decl != nil {
			if c := findChild(decl, "identifier"); c != nil {
				return c.GetContent(source), true
			}
		}
		return "", false
	}
	if c := findChild(n, "identifier"); c != nil {
		return c.GetContent(source), true
	}
	if c := findChild(n, "type_identifier"); c != nil {
		return c.GetContent(source), true
	}
	return "", false
}

// --- Python ---

type pythonExtractor struct {
	baseExtractor
}

func (p *pythonExtractor) ExtractName(n *Node, source []byte) (string, bool) {
	if c := findChild(n, "identifier"); c != nil {
		return c.GetContent(source), true
	}
	return "", false
}

func (p *pythonExtractor) ExtractSignature(n *Node, source []byte, kind ChunkKind) (string, bool) {
	content := n.GetContent(source)
	if content == "" {
		return "", false
	}
	firstLine := strings.TrimSpace(strings.SplitN(content, "\n", 2)[0])
	return firstLine, firstLine != ""
}

// ExtractDocstring returns the leading string expression statement of the
// body block. Python docstrings live inside the body, not before it, so the
// backward comment scan used by the brace languages would not find them.
func (p *pythonExtractor) ExtractDocstring(n *Node, source []byte) (string, bool) {
	body := findChild(n, "block")
	if body == nil {
		return "", false
	}
	if len(body.Children) == 0 {
		return "", false
	}
	first := body.Children[0]
	if first.Type != "expression_statement" {
		return "", false
	}
	strNode := findDescendant(first, "string")
	if strNode == nil {
		return "", false
	}
	raw := strNode.GetContent(source)
	return cleanPythonDocstring(raw), true
}

func cleanPythonDocstring(raw string) string {
	s := strings.TrimSpace(raw)
	for _, q := range []string{`"""`, `'''`, `"`, `'`} {
		if strings.HasPrefix(s, q) && strings.HasSuffix(s, q) && len(s) >= 2*len(q) {
			s = s[len(q) : len(s)-len(q)]
			break
		}
	}
	return strings.TrimSpace(s)
}

// --- generic fallback ---

type genericExtractor struct {
	baseExtractor
}

func (g *genericExtractor) ExtractName(n *Node, source []byte) (string, bool) {
	if c := findChild(n, "identifier"); c != nil {
		return c.GetContent(source), true
	}
	return "", false
}

func (g *genericExtractor) ExtractSignature(n *Node, source []byte, kind ChunkKind) (string, bool) {
	return extractSignatureGeneric(n, source)
}

func (g *genericExtractor) ExtractDocstring(n *Node, source []byte) (string, bool) {
	return extractDocCommentBackward(n, source, "//")
}
