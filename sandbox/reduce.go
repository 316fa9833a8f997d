package sandbox

import (
	"fmt"
	"regexp"
	"strings"
)

// The functions in this file are best-effort text reducers. None of them
// parses its input; each one lists the input shapes it mishandles.

const (
	tsPrimitive = `(?:string|number|boolean|any|void|unknown|never|object|bigint|symbol)`
	tsNamed     = `[A-Z][\w$]*(?:\.[A-Z][\w$]*)*`
	tsSingle    = `(?:` + tsPrimitive + `|` + tsNamed + `)(?:<[^<>()]*>)?(?:\[\])*`
	tsType      = tsSingle + `(?:\s*\|\s*(?:` + tsSingle + `|null|undefined))*`
	jsIdent     = `[A-Za-z_$][\w$]*`
)

var (
	tsInterface   = regexp.MustCompile(`(?m)^[ \t]*(?:export\s+)?interface\s+` + jsIdent + `(?:\s*<[^>]*>)?(?:\s+extends\s+[\w$.,\s<>]+?)?\s*\{[^{}]*\}[ \t]*;?`)
	tsTypeAlias   = regexp.MustCompile(`(?m)^[ \t]*(?:export\s+)?type\s+` + jsIdent + `(?:\s*<[^>]*>)?\s*=[^;]+;`)
	tsAssertion   = regexp.MustCompile(`\s+as\s+(?:const\b|` + tsType + `)`)
	tsModifier    = regexp.MustCompile(`\b(?:public|private|protected|readonly)\s+`)
	tsReturnType  = regexp.MustCompile(`\)\s*:\s*` + tsType + `\s*(\{|=>)`)
	tsDeclarator  = regexp.MustCompile(`\b(let|const|var)\s+(` + jsIdent + `)\s*:\s*` + tsType + `(?:\s*\|\s*(?:null|undefined))*`)
	tsParameter   = regexp.MustCompile(`([(,]\s*)(\.\.\.)?(` + jsIdent + `)\??\s*:\s*` + tsType)
	tsClassField  = regexp.MustCompile(`(?m)^([ \t]*)(` + jsIdent + `)[?!]?\s*:\s*` + tsType + `\s*([=;])`)
	tsDeclGeneric = regexp.MustCompile(`\b(function\s*\*?\s*` + jsIdent + `|class\s+` + jsIdent + `)\s*<[^<>()]*>`)
	tsCallGeneric = regexp.MustCompile(`\b(` + jsIdent + `)<\s*` + tsSingle + `(?:\s*,\s*` + tsSingle + `)*\s*>\s*\(`)

	scriptBlock = regexp.MustCompile(`(?is)<script[^>]*>(.*?)</script>`)

	moduleImport     = regexp.MustCompile(`(?m)^[ \t]*import\s+[^;\n]*?\s+from\s+['"][^'"\n]+['"][ \t]*;?[ \t]*$`)
	moduleBareImport = regexp.MustCompile(`(?m)^[ \t]*import\s+['"][^'"\n]+['"][ \t]*;?[ \t]*$`)
	moduleDefault    = regexp.MustCompile(`\bexport\s+default\s+`)
	moduleNamed      = regexp.MustCompile(`(?m)^([ \t]*)export\s+`)

	componentDefault = regexp.MustCompile(`export\s+default\s+(\{[\s\S]*\})`)
	componentDefine  = regexp.MustCompile(`defineComponent\s*\(\s*(\{[\s\S]*\})\s*\)`)
)

// DefaultExportBinding is the local name an `export default` value is bound to
// by LowerModuleSyntax.
const DefaultExportBinding = "__default__"

// StripTypeScript reduces TypeScript source to plain script text by textual
// substitution. It removes single-level interfaces, type aliases ending in a
// semicolon, `as` assertions, access modifiers, generic parameter lists on
// declarations and calls, and annotations on declarators, parameters, class
// fields and return positions whose type is a primitive keyword or a
// Capitalised name (optionally generic, array or union).
//
// Known failure modes: interfaces with nested braces, lowercase user-defined
// type names, object-literal or inline types, multi-line type aliases without
// a terminating semicolon, `as` inside string literals, object literals whose
// values are Capitalised identifiers after a comma, and nested generics.
func StripTypeScript(code string) string {
	out := tsInterface.ReplaceAllString(code, "")
	out = tsTypeAlias.ReplaceAllString(out, "")
	out = tsAssertion.ReplaceAllString(out, "")
	out = tsModifier.ReplaceAllString(out, "")
	out = tsDeclGeneric.ReplaceAllString(out, "$1")
	out = tsCallGeneric.ReplaceAllString(out, "$1(")
	out = tsReturnType.ReplaceAllString(out, ") $1")
	out = tsDeclarator.ReplaceAllString(out, "$1 $2")
	out = tsParameter.ReplaceAllString(out, "$1$2$3")
	out = tsClassField.ReplaceAllString(out, "$1$2 $3")
	return out
}

// ExtractScriptBlock returns the contents of the first <script> block, found
// by a tag-bounded search. A "</script>" inside a string in the block ends it
// early.
func ExtractScriptBlock(code string) (string, bool) {
	m := scriptBlock.FindStringSubmatch(code)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// LowerModuleSyntax turns module-shaped text into a function body: single-line
// static imports are removed, `export default` binds the value to
// DefaultExportBinding and other `export` keywords at line start are dropped.
// Multi-line import lists are left in place and fail the syntax check.
func LowerModuleSyntax(code string) string {
	out := moduleImport.ReplaceAllString(code, "")
	out = moduleBareImport.ReplaceAllString(out, "")
	out = moduleDefault.ReplaceAllString(out, "const "+DefaultExportBinding+" = ")
	out = moduleNamed.ReplaceAllString(out, "$1")
	return out
}

// ExtractComponentLiteral returns the object literal text of an
// `export default {...}` or `defineComponent({...})`. The match runs from the
// first opening brace to the last closing brace in the text, so anything
// after the literal that contains a brace is swallowed into it.
func ExtractComponentLiteral(code string) (string, bool) {
	for _, re := range []*regexp.Regexp{componentDefault, componentDefine} {
		if m := re.FindStringSubmatch(code); m != nil {
			return m[1], true
		}
	}
	return "", false
}

// reduce turns a submission in language into a function body.
func reduce(language Language, code string) (string, error) {
	switch language {
	case LanguageJavaScript:
		return code, nil
	case LanguageTypeScript:
		return StripTypeScript(code), nil
	case LanguageVue:
		script, ok := ExtractScriptBlock(code)
		if !ok {
			return "", newError(KindValidation, "no script block found")
		}
		if strings.TrimSpace(script) == "" {
			return "", newError(KindValidation, "code is empty")
		}
		return LowerModuleSyntax(script), nil
	default:
		return "", newError(KindValidation, "%s", fmt.Sprintf("unsupported language: %s", language))
	}
}
