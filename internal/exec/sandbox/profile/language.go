// Package profile defines the per-language build and run recipes used by the sandbox.
package profile

import "strings"

// Template placeholders expanded by the runner.
const (
	PlaceholderSource = "{src}"
	PlaceholderBinary = "{bin}"
	PlaceholderDir    = "{dir}"
)

// LanguageRecipe defines how to compile and run one language. Recipes are loaded once and never mutated.
type LanguageRecipe struct {
	ID      string   `yaml:"id"`
	Name    string   `yaml:"name"`
	Aliases []string `yaml:"aliases"`

	FileExtension string `yaml:"fileExtension"`
	// SourceName overrides the default main.<ext> file name.
	SourceName string `yaml:"sourceName"`
	BinaryFile string `yaml:"binaryFile"`

	CompileCmdTpl string `yaml:"compileCmd"`
	RunCmdTpl     string `yaml:"runCmd"`

	CompileTimeoutMs int64    `yaml:"compileTimeoutMs"`
	RunTimeoutMs     int64    `yaml:"runTimeoutMs"`
	Env              []string `yaml:"env"`
}

// SourceFile returns the file name the source code is written to.
func (r LanguageRecipe) SourceFile() string {
	if r.SourceName != "" {
		return r.SourceName
	}
	return "main." + strings.TrimPrefix(r.FileExtension, ".")
}

// HasCompileStep reports whether the recipe builds an artifact before running.
func (r LanguageRecipe) HasCompileStep() bool {
	return strings.TrimSpace(r.CompileCmdTpl) != ""
}
