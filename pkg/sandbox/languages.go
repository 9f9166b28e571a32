package sandbox

import "github.com/codeclash-io/codeclash/pkg/models"

// languageSpec binds a language to its container image, the fixed file
// names materialised under /tmp, and the run command.
type languageSpec struct {
	Image    string
	CodeFile string
	Cmd      []string
}

// inputFile is the fixed name of the optional test-input file. The same
// content is also piped on stdin and terminated by EOF.
const inputFile = "input.txt"

// scratchDir is the only writable location inside the sandbox.
const scratchDir = "/tmp"

var languageSpecs = map[string]languageSpec{
	models.LanguageJavaScript: {
		Image:    "node:20-alpine",
		CodeFile: "solution.js",
		Cmd:      []string{"node", "/tmp/solution.js"},
	},
	models.LanguagePython: {
		Image:    "python:3.12-alpine",
		CodeFile: "solution.py",
		Cmd:      []string{"python3", "/tmp/solution.py"},
	},
	models.LanguageGo: {
		Image:    "golang:1.24-alpine",
		CodeFile: "solution.go",
		Cmd:      []string{"go", "run", "/tmp/solution.go"},
	},
}

// SupportedLanguages lists the languages the executor can run.
func SupportedLanguages() []string {
	out := make([]string, 0, len(languageSpecs))
	for lang := range languageSpecs {
		out = append(out, lang)
	}
	return out
}
