// Package registry resolves language identifiers to build and run recipes.
package registry

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"judgebox/internal/exec/sandbox/profile"
	appErr "judgebox/pkg/errors"
)

const (
	defaultCompileTimeoutMs int64 = 10000
	defaultRunTimeoutMs     int64 = 5000
)

// Resolver resolves a language identifier to its recipe.
type Resolver interface {
	Resolve(ctx context.Context, languageID string) (profile.LanguageRecipe, error)
}

// LocalRegistry is an immutable in-memory recipe table.
type LocalRegistry struct {
	recipes map[string]profile.LanguageRecipe
	aliases map[string]string
}

// DefaultRecipes returns the built-in recipes for C, C++, Java, Python and JavaScript.
// Compiled programs run under stdbuf so partial lines reach the client before exit.
func DefaultRecipes() []profile.LanguageRecipe {
	return []profile.LanguageRecipe{
		{
			ID:               "c",
			Name:             "C (gcc, C11)",
			FileExtension:    "c",
			BinaryFile:       "main",
			CompileCmdTpl:    "gcc -O2 -std=c11 -pipe -o {bin} {src} -lm",
			RunCmdTpl:        "stdbuf -o0 -e0 {bin}",
			CompileTimeoutMs: defaultCompileTimeoutMs,
			RunTimeoutMs:     defaultRunTimeoutMs,
		},
		{
			ID:               "cpp",
			Name:             "C++ (g++, C++17)",
			Aliases:          []string{"c++", "cplusplus", "cxx"},
			FileExtension:    "cpp",
			BinaryFile:       "main",
			CompileCmdTpl:    "g++ -O2 -std=c++17 -pipe -o {bin} {src}",
			RunCmdTpl:        "stdbuf -o0 -e0 {bin}",
			CompileTimeoutMs: defaultCompileTimeoutMs,
			RunTimeoutMs:     defaultRunTimeoutMs,
		},
		{
			// javac requires a public class Main to live in Main.java
			ID:               "java",
			Name:             "Java",
			FileExtension:    "java",
			SourceName:       "Main.java",
			CompileCmdTpl:    "javac -encoding UTF-8 -d {dir} {src}",
			RunCmdTpl:        "java -Xss64m -Dfile.encoding=UTF-8 -cp {dir} Main",
			CompileTimeoutMs: 20000,
			RunTimeoutMs:     2 * defaultRunTimeoutMs,
		},
		{
			ID:               "python",
			Name:             "Python 3",
			Aliases:          []string{"py", "python3"},
			FileExtension:    "py",
			RunCmdTpl:        "python3 -u {src}",
			RunTimeoutMs:     defaultRunTimeoutMs,
			Env:              []string{"PYTHONUNBUFFERED=1", "PYTHONDONTWRITEBYTECODE=1"},
			CompileTimeoutMs: defaultCompileTimeoutMs,
		},
		{
			ID:               "javascript",
			Name:             "JavaScript (Node.js)",
			Aliases:          []string{"js", "node", "nodejs"},
			FileExtension:    "js",
			RunCmdTpl:        "node {src}",
			RunTimeoutMs:     defaultRunTimeoutMs,
			CompileTimeoutMs: defaultCompileTimeoutMs,
		},
	}
}

// NewLocalRegistry builds a registry from the built-in recipes overlaid with overrides.
// An override with the same ID replaces the built-in recipe.
func NewLocalRegistry(overrides []profile.LanguageRecipe) (*LocalRegistry, error) {
	merged := make(map[string]profile.LanguageRecipe)
	for _, recipe := range DefaultRecipes() {
		merged[recipe.ID] = recipe
	}
	seen := make(map[string]struct{}, len(overrides))
	for _, recipe := range overrides {
		id := normalizeID(recipe.ID)
		if id == "" {
			return nil, fmt.Errorf("language id is required")
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("duplicate language id %q", id)
		}
		seen[id] = struct{}{}
		if strings.TrimSpace(recipe.RunCmdTpl) == "" {
			return nil, fmt.Errorf("language %q: run command is required", id)
		}
		if recipe.FileExtension == "" && recipe.SourceName == "" {
			return nil, fmt.Errorf("language %q: file extension is required", id)
		}
		recipe.ID = id
		merged[id] = applyRecipeDefaults(recipe)
	}

	reg := &LocalRegistry{
		recipes: make(map[string]profile.LanguageRecipe, len(merged)),
		aliases: make(map[string]string),
	}
	for id, recipe := range merged {
		reg.recipes[id] = recipe
	}
	for id, recipe := range merged {
		for _, alias := range recipe.Aliases {
			alias = normalizeID(alias)
			if alias == "" || alias == id {
				continue
			}
			if _, clash := reg.recipes[alias]; clash {
				return nil, fmt.Errorf("alias %q of %q shadows a language id", alias, id)
			}
			if owner, clash := reg.aliases[alias]; clash && owner != id {
				return nil, fmt.Errorf("alias %q is used by %q and %q", alias, owner, id)
			}
			reg.aliases[alias] = id
		}
	}
	return reg, nil
}

// Resolve returns the recipe for a language id or alias, case-insensitively.
func (r *LocalRegistry) Resolve(ctx context.Context, languageID string) (profile.LanguageRecipe, error) {
	id := normalizeID(languageID)
	if id == "" {
		return profile.LanguageRecipe{}, appErr.ValidationError("language", "required")
	}
	if target, ok := r.aliases[id]; ok {
		id = target
	}
	recipe, ok := r.recipes[id]
	if !ok {
		return profile.LanguageRecipe{}, appErr.Newf(appErr.LanguageNotSupported, "language %q is not supported", languageID)
	}
	return recipe, nil
}

// Languages lists the canonical ids in stable order.
func (r *LocalRegistry) Languages() []string {
	out := make([]string, 0, len(r.recipes))
	for id := range r.recipes {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func applyRecipeDefaults(recipe profile.LanguageRecipe) profile.LanguageRecipe {
	if recipe.CompileTimeoutMs <= 0 {
		recipe.CompileTimeoutMs = defaultCompileTimeoutMs
	}
	if recipe.RunTimeoutMs <= 0 {
		recipe.RunTimeoutMs = defaultRunTimeoutMs
	}
	if recipe.HasCompileStep() && recipe.BinaryFile == "" && strings.Contains(recipe.CompileCmdTpl, profile.PlaceholderBinary) {
		recipe.BinaryFile = "main"
	}
	return recipe
}

func normalizeID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}
