package shader

// PreProcessorBuilderOption is a functional option for configuring a PreProcessor.
type PreProcessorBuilderOption func(p *preProcessor)

// WithSource registers a source under name.
//
// Parameters:
//   - name: the include name
//   - source: the raw WGSL text
//
// Returns:
//   - PreProcessorBuilderOption: option function to apply
func WithSource(name, source string) PreProcessorBuilderOption {
	return func(p *preProcessor) {
		p.sources[name] = source
	}
}
