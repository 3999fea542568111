package shader

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAnnotation(t *testing.T) {
	a, err := parseAnnotation("  //@oxy:include types", 3)
	require.NoError(t, err)
	assert.Equal(t, &Annotation{Type: AnnotationTypeInclude, Arg: "types", Line: 3}, a)

	a, err = parseAnnotation("// @oxy:endif", 1)
	require.NoError(t, err)
	assert.Equal(t, AnnotationTypeEndIf, a.Type)

	a, err = parseAnnotation("// plain comment", 1)
	assert.NoError(t, err)
	assert.Nil(t, a)

	_, err = parseAnnotation("//@oxy:include", 7)
	assert.ErrorContains(t, err, "line 7")
	_, err = parseAnnotation("//@oxy:group 0 0", 1)
	assert.ErrorContains(t, err, "unknown annotation type")
}

func TestProcessIncludesRecursively(t *testing.T) {
	p := NewPreProcessor(
		WithSource("types", "struct A { x: f32 }"),
		WithSource("helpers", "//@oxy:include types\nfn f() {}"),
	)
	out, err := p.Process("//@oxy:include helpers\n@fragment fn main() {}")
	require.NoError(t, err)
	assert.Equal(t, "struct A { x: f32 }\nfn f() {}\n@fragment fn main() {}", out)
}

func TestProcessSelectsBlocks(t *testing.T) {
	p := NewPreProcessor(WithSource("shadow", "var shadow_map: texture_2d<f32>;"))
	src := "a\n//@oxy:if shadowed\n//@oxy:include shadow\n//@oxy:else\nb\n//@oxy:endif\n//@oxy:if !shadowed\nc\n//@oxy:endif"

	on, err := p.Process(src, "shadowed")
	require.NoError(t, err)
	assert.Equal(t, "a\nvar shadow_map: texture_2d<f32>;", on)

	off, err := p.Process(src)
	require.NoError(t, err)
	assert.Equal(t, "a\nb\nc", off)
}

func TestProcessNestedBlocksInsideDisabledBranch(t *testing.T) {
	p := NewPreProcessor()
	src := "//@oxy:if x\n//@oxy:if y\nxy\n//@oxy:else\nx\n//@oxy:endif\n//@oxy:endif\nend"

	out, err := p.Process(src, "y")
	require.NoError(t, err)
	assert.Equal(t, "end", out)

	out, err = p.Process(src, "x")
	require.NoError(t, err)
	assert.Equal(t, "x\nend", out)
}

func TestProcessErrors(t *testing.T) {
	p := NewPreProcessor(WithSource("a", "//@oxy:include b"), WithSource("b", "//@oxy:include a"))

	_, err := p.Process("//@oxy:include missing")
	assert.ErrorIs(t, err, ErrUnknownSource)

	_, err = p.Process("//@oxy:include a")
	assert.ErrorIs(t, err, ErrIncludeCycle)

	_, err = p.Process("//@oxy:endif")
	assert.ErrorIs(t, err, ErrUnbalancedBlock)
	_, err = p.Process("//@oxy:if x\n//@oxy:else\n//@oxy:else\n//@oxy:endif")
	assert.ErrorIs(t, err, ErrUnbalancedBlock)
	_, err = p.Process("//@oxy:if x")
	assert.ErrorIs(t, err, ErrUnbalancedBlock)

	// Includes inside a disabled block are never resolved.
	_, err = p.Process("//@oxy:if x\n//@oxy:include missing\n//@oxy:endif")
	assert.NoError(t, err)

	assert.Panics(t, func() { MustProcess(p, "//@oxy:include missing") })
}

func TestRegisterReplacesSource(t *testing.T) {
	p := NewPreProcessor(WithSource("s", "old"))
	p.Register("s", "new")
	assert.Equal(t, "new", MustProcess(p, "//@oxy:include s"))
}
