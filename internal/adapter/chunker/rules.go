package chunker

import (
	"path/filepath"
	"regexp"
	"strings"

	"codesearch/internal/domain"
)

// opener matches the first line of a structural unit.
type opener struct {
	kind    domain.ChunkKind
	pattern *regexp.Regexp
}

// languageRules describes how to find structural boundaries in one language.
type languageRules struct {
	name     string
	openers  []opener
	comments []string
	// decorators are prefixes of annotation lines that attach to the next opener.
	decorators []string
	// skipKeywords rejects openers whose first word is a control keyword,
	// for C-like grammars where "if (x) {" looks like a declaration.
	skipKeywords bool
}

var (
	cComments    = []string{"//", "/*", "*", "*/"}
	hashComments = []string{"#"}
)

func fn(p string) opener  { return opener{kind: domain.KindFunction, pattern: regexp.MustCompile(p)} }
func cls(p string) opener { return opener{kind: domain.KindClass, pattern: regexp.MustCompile(p)} }
func mod(p string) opener { return opener{kind: domain.KindModule, pattern: regexp.MustCompile(p)} }

var (
	goRules = &languageRules{
		name: "go",
		openers: []opener{
			fn(`^func\s+(\([^)]*\)\s*)?\w+`),
			cls(`^type\s+\w+(\[[^\]]*\])?\s+(struct|interface)\b`),
		},
		comments: cComments,
	}

	rustRules = &languageRules{
		name: "rust",
		openers: []opener{
			fn(`^\s*(pub(\([^)]*\))?\s+)?(default\s+)?(const\s+)?(async\s+)?(unsafe\s+)?(extern\s+"[^"]*"\s+)?fn\s+\w+`),
			cls(`^\s*(pub(\([^)]*\))?\s+)?(struct|enum|trait|union)\s+\w+`),
			cls(`^\s*(unsafe\s+)?impl\b`),
			mod(`^\s*(pub(\([^)]*\))?\s+)?mod\s+\w+\s*\{`),
		},
		comments:   cComments,
		decorators: []string{"#["},
	}

	pythonRules = &languageRules{
		name: "python",
		openers: []opener{
			fn(`^\s*(async\s+)?def\s+\w+\s*\(`),
			cls(`^\s*class\s+\w+`),
		},
		comments:   hashComments,
		decorators: []string{"@"},
	}

	jsOpeners = []opener{
		fn(`^\s*(export\s+)?(default\s+)?(async\s+)?function\s*\*?\s*\w+`),
		fn(`^\s*(export\s+)?(const|let|var)\s+\w+\s*=\s*(async\s+)?(function\b|(\([^)]*\)|\w+)\s*=>)`),
		cls(`^\s*(export\s+)?(default\s+)?(abstract\s+)?class\s+\w+`),
	}

	jsRules = &languageRules{
		name:       "javascript",
		openers:    jsOpeners,
		comments:   cComments,
		decorators: []string{"@"},
	}

	tsRules = &languageRules{
		name: "typescript",
		openers: append(append([]opener{}, jsOpeners...),
			cls(`^\s*(export\s+)?(declare\s+)?(interface|enum)\s+\w+`),
			mod(`^\s*(export\s+)?(declare\s+)?(namespace|module)\s+\w+`),
		),
		comments:   cComments,
		decorators: []string{"@"},
	}

	javaRules = &languageRules{
		name: "java",
		openers: []opener{
			cls(`^\s*((public|private|protected|static|final|abstract|sealed|non-sealed)\s+)*(class|interface|enum|record|@interface)\s+\w+`),
			fn(`^\s*((public|private|protected|static|final|abstract|synchronized|native|default)\s+)+(<[^>]*>\s+)?[\w<>\[\],.?]+\s+\w+\s*\(`),
		},
		comments:     cComments,
		decorators:   []string{"@"},
		skipKeywords: true,
	}

	kotlinRules = &languageRules{
		name: "kotlin",
		openers: []opener{
			fn(`^\s*((public|private|protected|internal|override|open|suspend|inline|abstract|operator|infix|tailrec)\s+)*fun\s+`),
			cls(`^\s*((public|private|protected|internal|open|abstract|sealed|data|enum|inner|annotation)\s+)*(class|interface|object)\s+\w+`),
		},
		comments:   cComments,
		decorators: []string{"@"},
	}

	cOpeners = []opener{
		fn(`^[A-Za-z_][\w\s\*]*[\s\*]\**\w+\s*\([^;]*$`),
		cls(`^\s*(typedef\s+)?(struct|union|enum)\s+\w*\s*\{?\s*$`),
	}

	cRules = &languageRules{
		name:         "c",
		openers:      cOpeners,
		comments:     cComments,
		skipKeywords: true,
	}

	cppRules = &languageRules{
		name: "cpp",
		openers: append(append([]opener{}, cOpeners...),
			cls(`^\s*(template\s*<[^>]*>\s*)?(class|struct)\s+\w+[^;]*$`),
			fn(`^[A-Za-z_][\w:<>\s\*&]*\s\**&?\w+::~?\w+\s*\(`),
			mod(`^\s*namespace\s+\w+`),
		),
		comments:     cComments,
		decorators:   []string{"template"},
		skipKeywords: true,
	}

	csharpRules = &languageRules{
		name: "csharp",
		openers: []opener{
			cls(`^\s*((public|private|protected|internal|static|sealed|abstract|partial)\s+)*(class|interface|struct|enum|record)\s+\w+`),
			fn(`^\s*((public|private|protected|internal|static|virtual|override|async|abstract|sealed|extern)\s+)+[\w<>\[\],.?]+\s+\w+\s*\(`),
			mod(`^\s*namespace\s+[\w.]+`),
		},
		comments:     cComments,
		decorators:   []string{"["},
		skipKeywords: true,
	}

	rubyRules = &languageRules{
		name: "ruby",
		openers: []opener{
			fn(`^\s*def\s+`),
			cls(`^\s*class\s+[A-Z]`),
			mod(`^\s*module\s+[A-Z]`),
		},
		comments: hashComments,
	}

	phpRules = &languageRules{
		name: "php",
		openers: []opener{
			fn(`^\s*((public|private|protected|static|abstract|final)\s+)*function\s+&?\w+`),
			cls(`^\s*((abstract|final|readonly)\s+)*(class|interface|trait|enum)\s+\w+`),
		},
		comments:   []string{"//", "#", "/*", "*", "*/"},
		decorators: []string{"#["},
	}

	swiftRules = &languageRules{
		name: "swift",
		openers: []opener{
			fn(`^\s*((public|private|internal|fileprivate|open|static|class|override|mutating|final)\s+)*func\s+\w+`),
			cls(`^\s*((public|private|internal|fileprivate|open|final)\s+)*(class|struct|enum|protocol|extension|actor)\s+\w+`),
		},
		comments:   cComments,
		decorators: []string{"@"},
	}

	scalaRules = &languageRules{
		name: "scala",
		openers: []opener{
			fn(`^\s*((private|protected|override|final|implicit|inline)\s+)*def\s+\w+`),
			cls(`^\s*((private|protected|final|sealed|abstract|case|implicit)\s+)*(class|trait|object)\s+\w+`),
		},
		comments:   cComments,
		decorators: []string{"@"},
	}

	sqlRules = &languageRules{
		name: "sql",
		openers: []opener{
			fn(`(?i)^\s*CREATE\s+(OR\s+REPLACE\s+)?(FUNCTION|PROCEDURE|TRIGGER)\b`),
			cls(`(?i)^\s*CREATE\s+(OR\s+REPLACE\s+)?(TABLE|VIEW|MATERIALIZED\s+VIEW|TYPE)\b`),
		},
		comments: []string{"--", "/*", "*", "*/"},
	}
)

var rulesByExt = map[string]*languageRules{
	".go":    goRules,
	".rs":    rustRules,
	".py":    pythonRules,
	".js":    jsRules,
	".jsx":   jsRules,
	".mjs":   jsRules,
	".cjs":   jsRules,
	".ts":    tsRules,
	".tsx":   tsRules,
	".java":  javaRules,
	".kt":    kotlinRules,
	".c":     cRules,
	".h":     cRules,
	".cpp":   cppRules,
	".cc":    cppRules,
	".hpp":   cppRules,
	".cs":    csharpRules,
	".rb":    rubyRules,
	".php":   phpRules,
	".swift": swiftRules,
	".scala": scalaRules,
	".sql":   sqlRules,
}

// rulesFor returns the rule set for path, or nil when the extension is unknown.
func rulesFor(path string) *languageRules {
	return rulesByExt[strings.ToLower(filepath.Ext(path))]
}

var controlKeywords = map[string]struct{}{
	"if": {}, "else": {}, "for": {}, "while": {}, "switch": {}, "catch": {},
	"return": {}, "do": {}, "sizeof": {}, "new": {}, "throw": {}, "case": {},
	"using": {}, "lock": {}, "foreach": {}, "delete": {},
}

// match returns the kind of structural unit that line opens.
func (r *languageRules) match(line string) (domain.ChunkKind, bool) {
	if r.skipKeywords {
		first := strings.TrimSpace(line)
		if i := strings.IndexFunc(first, func(c rune) bool { return !(c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z') }); i >= 0 {
			first = first[:i]
		}
		if _, ok := controlKeywords[first]; ok {
			return "", false
		}
	}
	for _, o := range r.openers {
		if o.pattern.MatchString(line) {
			return o.kind, true
		}
	}
	return "", false
}

// isPrefix reports whether line is a comment or decorator that can lead an opener.
func (r *languageRules) isPrefix(line string) bool {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return false
	}
	for _, p := range r.comments {
		if strings.HasPrefix(trimmed, p) {
			return true
		}
	}
	for _, p := range r.decorators {
		if strings.HasPrefix(trimmed, p) {
			return true
		}
	}
	return false
}
