package host

import (
	"path/filepath"
	"strings"
)

// languagesByExt maps file extensions to the language tags the collector
// groups by.
var languagesByExt = map[string]string{
	".go":    "Go",
	".ts":    "TypeScript",
	".tsx":   "TypeScript",
	".js":    "JavaScript",
	".jsx":   "JavaScript",
	".py":    "Python",
	".rs":    "Rust",
	".rb":    "Ruby",
	".java":  "Java",
	".kt":    "Kotlin",
	".c":     "C",
	".h":     "C",
	".cc":    "C++",
	".cpp":   "C++",
	".hpp":   "C++",
	".cs":    "C#",
	".php":   "PHP",
	".swift": "Swift",
	".sh":    "Shell",
	".bash":  "Shell",
	".zsh":   "Shell",
	".sql":   "SQL",
	".html":  "HTML",
	".css":   "CSS",
	".scss":  "SCSS",
	".md":    "Markdown",
	".json":  "JSON",
	".yaml":  "YAML",
	".yml":   "YAML",
	".toml":  "TOML",
	".xml":   "XML",
	".proto": "Protocol Buffer",
	".tf":    "Terraform",
	".lua":   "Lua",
	".vim":   "Vim Script",
	".ex":    "Elixir",
	".exs":   "Elixir",
	".zig":   "Zig",
}

// LanguageForPath guesses a language tag from the file extension. Unknown
// extensions map to "Other"; files without an extension use their base name
// for a few well-known cases.
func LanguageForPath(path string) string {
	base := filepath.Base(path)
	switch base {
	case "Makefile", "makefile", "GNUmakefile":
		return "Makefile"
	case "Dockerfile":
		return "Docker"
	}
	if lang, ok := languagesByExt[strings.ToLower(filepath.Ext(base))]; ok {
		return lang
	}
	return "Other"
}
