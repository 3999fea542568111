// annotations.go defines the annotation syntax of the WGSL pre-processor. Annotations are single-line WGSL
// comments prefixed with @oxy: that splice registered sources into a module and select blocks by flag.
package shader

import (
	"fmt"
	"strings"
)

// annotationPrefix is the marker that identifies an annotation within a WGSL comment line.
// Every annotation must appear on a line beginning with "//" followed by this prefix.
const annotationPrefix = "@oxy:"

// AnnotationType identifies the kind of annotation parsed from a WGSL comment line.
type AnnotationType string

const (
	// AnnotationTypeInclude injects the registered source with the given name at the annotation site.
	// Included sources are processed too, so they may include others.
	//
	// Syntax: //@oxy:include <name>
	AnnotationTypeInclude AnnotationType = "include"

	// AnnotationTypeIf keeps the following lines only when the flag is set. A leading "!" negates it.
	//
	// Syntax: //@oxy:if <flag>
	AnnotationTypeIf AnnotationType = "if"

	// AnnotationTypeElse flips the innermost open if block.
	//
	// Syntax: //@oxy:else
	AnnotationTypeElse AnnotationType = "else"

	// AnnotationTypeEndIf closes the innermost open if block.
	//
	// Syntax: //@oxy:endif
	AnnotationTypeEndIf AnnotationType = "endif"
)

// argCount is the number of arguments each annotation type takes.
var argCount = map[AnnotationType]int{
	AnnotationTypeInclude: 1,
	AnnotationTypeIf:      1,
	AnnotationTypeElse:    0,
	AnnotationTypeEndIf:   0,
}

// Annotation is one parsed @oxy: annotation.
type Annotation struct {
	// Type identifies which annotation was parsed.
	Type AnnotationType

	// Arg is the source name of an include or the flag of an if. Empty for else and endif.
	Arg string

	// Line is the 1-based line number of the annotation in the source it was parsed from.
	Line int
}

// parseAnnotation parses one source line. Lines that are not annotations return nil and no error.
//
// Parameters:
//   - line: the raw source line
//   - lineNum: the 1-based line number, used for error reporting
//
// Returns:
//   - *Annotation: the parsed annotation, or nil
//   - error: an error if the line is a malformed annotation
func parseAnnotation(line string, lineNum int) (*Annotation, error) {
	trimmed := strings.TrimSpace(line)
	comment, ok := strings.CutPrefix(trimmed, "//")
	if !ok {
		return nil, nil
	}
	body, ok := strings.CutPrefix(strings.TrimSpace(comment), annotationPrefix)
	if !ok {
		return nil, nil
	}

	fields := strings.Fields(body)
	if len(fields) == 0 {
		return nil, fmt.Errorf("line %d: empty annotation", lineNum)
	}
	a := &Annotation{Type: AnnotationType(fields[0]), Line: lineNum}
	want, known := argCount[a.Type]
	if !known {
		return nil, fmt.Errorf("line %d: unknown annotation type %q", lineNum, a.Type)
	}
	if got := len(fields) - 1; got != want {
		return nil, fmt.Errorf("line %d: @oxy:%s takes %d argument(s), got %d", lineNum, a.Type, want, got)
	}
	if want == 1 {
		a.Arg = fields[1]
	}
	return a, nil
}
