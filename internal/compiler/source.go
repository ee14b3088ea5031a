package compiler

import (
	"fmt"
	"strings"
)

// ABIImport is the package every assembled unit dot-imports.
const ABIImport = "github.com/mattjoyce/couchgo/pkg/abi"

// LineFile is the file name compiler diagnostics report for fragment lines.
const LineFile = "fragment.go"

const libsDirective = "//libs "

// Source is a fragment split into its parts.
type Source struct {
	// Prologue holds import declarations, comments and //go: directives in
	// their original order.
	Prologue string
	// Libs are the link flags collected from //libs lines.
	Libs string
	// Body is the rest of the fragment.
	Body string
	// BodyLine is the 1-based line of Body's first line in the fragment.
	BodyLine int
}

// SplitSource separates the leading directives of a fragment from its body.
func SplitSource(code string) Source {
	lines := strings.SplitAfter(code, "\n")

	var (
		prologue strings.Builder
		libs     []string
		inImport bool
	)
	i := 0
	for ; i < len(lines); i++ {
		ln := lines[i]
		trimmed := strings.TrimSpace(ln)

		if inImport {
			prologue.WriteString(withNewline(ln))
			if strings.HasPrefix(trimmed, ")") {
				inImport = false
			}
			continue
		}

		switch {
		case trimmed == "":
		case strings.HasPrefix(trimmed, libsDirective):
			libs = append(libs, strings.TrimSpace(strings.TrimPrefix(trimmed, libsDirective)))
		case strings.HasPrefix(trimmed, "//"):
			prologue.WriteString(withNewline(ln))
		case isImport(trimmed):
			prologue.WriteString(withNewline(ln))
			if strings.HasSuffix(trimmed, "(") {
				inImport = true
			}
		default:
			return Source{
				Prologue: prologue.String(),
				Libs:     strings.Join(libs, " "),
				Body:     strings.Join(lines[i:], ""),
				BodyLine: i + 1,
			}
		}
	}

	return Source{
		Prologue: prologue.String(),
		Libs:     strings.Join(libs, " "),
		BodyLine: i + 1,
	}
}

// Assemble wraps the fragment into a plugin main package.
func Assemble(src Source) string {
	var b strings.Builder
	b.WriteString("package main\n\n")
	b.WriteString(src.Prologue)
	fmt.Fprintf(&b, "import . %q\n\n", ABIImport)
	b.WriteString("type Handler struct{ Base }\n\n")
	b.WriteString("func NewProc() Proc { return &Handler{} }\n\n")
	fmt.Fprintf(&b, "//line %s:%d\n", LineFile, src.BodyLine)
	b.WriteString(withNewline(src.Body))
	return b.String()
}

func isImport(trimmed string) bool {
	if !strings.HasPrefix(trimmed, "import") {
		return false
	}
	rest := trimmed[len("import"):]
	return rest != "" && (rest[0] == ' ' || rest[0] == '\t' || rest[0] == '(' || rest[0] == '"')
}

func withNewline(s string) string {
	if s == "" || strings.HasSuffix(s, "\n") {
		return s
	}
	return s + "\n"
}
