// pre_processor.go implements the WGSL shader pre-processor. It scans shader source for @oxy: annotations,
// splices in registered sources and drops the blocks whose flag is not set, so one set of WGSL assets can
// produce every pipeline variant.
package shader

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// ErrUnknownSource is returned when an include names a source that was never registered.
var ErrUnknownSource = errors.New("shader: unknown source")

// ErrIncludeCycle is returned when a source includes itself, directly or through others.
var ErrIncludeCycle = errors.New("shader: include cycle")

// ErrUnbalancedBlock is returned for an else or endif without an if, or an if left open.
var ErrUnbalancedBlock = errors.New("shader: unbalanced if block")

// preProcessor is the implementation of the PreProcessor interface.
type preProcessor struct {
	// sources maps include names to their raw WGSL text.
	sources map[string]string
}

// PreProcessor expands @oxy: annotations in WGSL source.
type PreProcessor interface {
	// Register adds or replaces the source included under name.
	//
	// Parameters:
	//   - name: the include name
	//   - source: the raw WGSL text, which may itself hold annotations
	Register(name, source string)

	// Process expands every annotation in source. Included sources are expanded recursively with the
	// same flags.
	//
	// Parameters:
	//   - source: the raw WGSL source
	//   - flags: the flags that are set for if blocks
	//
	// Returns:
	//   - string: the expanded WGSL with every annotation line removed
	//   - error: a wrapped ErrUnknownSource, ErrIncludeCycle or ErrUnbalancedBlock, or a parse error
	Process(source string, flags ...string) (string, error)
}

var _ PreProcessor = &preProcessor{}

// NewPreProcessor creates a PreProcessor with the given sources registered.
//
// Parameters:
//   - options: functional options registering sources
//
// Returns:
//   - PreProcessor: a ready-to-use pre-processor instance
func NewPreProcessor(options ...PreProcessorBuilderOption) PreProcessor {
	p := &preProcessor{sources: make(map[string]string)}
	for _, option := range options {
		option(p)
	}
	return p
}

func (p *preProcessor) Register(name, source string) {
	p.sources[name] = source
}

func (p *preProcessor) Process(source string, flags ...string) (string, error) {
	var out []string
	if err := p.expand(source, "<root>", flags, nil, &out); err != nil {
		return "", err
	}
	return strings.Join(out, "\n"), nil
}

// block tracks one open if annotation.
type block struct {
	line     int
	taking   bool
	sawElse  bool
	outerOff bool
}

func (p *preProcessor) expand(source, name string, flags []string, stack []string, out *[]string) error {
	if slices.Contains(stack, name) {
		return fmt.Errorf("%w: %s -> %s", ErrIncludeCycle, strings.Join(stack, " -> "), name)
	}
	stack = append(stack, name)

	var blocks []block
	active := func() bool {
		return len(blocks) == 0 || blocks[len(blocks)-1].taking
	}

	for i, line := range strings.Split(source, "\n") {
		a, err := parseAnnotation(line, i+1)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		if a == nil {
			if active() {
				*out = append(*out, line)
			}
			continue
		}

		switch a.Type {
		case AnnotationTypeIf:
			outerOff := !active()
			blocks = append(blocks, block{line: a.Line, taking: !outerOff && flagSet(a.Arg, flags), outerOff: outerOff})
		case AnnotationTypeElse:
			if len(blocks) == 0 || blocks[len(blocks)-1].sawElse {
				return fmt.Errorf("%w: %s line %d: unexpected else", ErrUnbalancedBlock, name, a.Line)
			}
			b := &blocks[len(blocks)-1]
			b.sawElse = true
			b.taking = !b.outerOff && !b.taking
		case AnnotationTypeEndIf:
			if len(blocks) == 0 {
				return fmt.Errorf("%w: %s line %d: unexpected endif", ErrUnbalancedBlock, name, a.Line)
			}
			blocks = blocks[:len(blocks)-1]
		case AnnotationTypeInclude:
			if !active() {
				continue
			}
			src, ok := p.sources[a.Arg]
			if !ok {
				return fmt.Errorf("%w: %s line %d includes %q", ErrUnknownSource, name, a.Line, a.Arg)
			}
			if err := p.expand(src, a.Arg, flags, stack, out); err != nil {
				return err
			}
		}
	}
	if len(blocks) > 0 {
		return fmt.Errorf("%w: %s line %d: if never closed", ErrUnbalancedBlock, name, blocks[len(blocks)-1].line)
	}
	return nil
}

func flagSet(arg string, flags []string) bool {
	if negated, ok := strings.CutPrefix(arg, "!"); ok {
		return !slices.Contains(flags, negated)
	}
	return slices.Contains(flags, arg)
}

// MustProcess is Process for embedded sources known to be well formed. It panics on error.
func MustProcess(p PreProcessor, source string, flags ...string) string {
	out, err := p.Process(source, flags...)
	if err != nil {
		panic(fmt.Sprintf("shader pre-processing failed: %v", err))
	}
	return out
}
