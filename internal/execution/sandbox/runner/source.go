package runner

import (
	"encoding/base64"
	"regexp"
	"strings"

	"runbox/internal/execution/sandbox/profile"
)

var (
	javaMainClass = regexp.MustCompile(`\bclass\s+Main\b`)
	javaImport    = regexp.MustCompile(`^\s*import\s+(static\s+)?[\w.]+(\.\*)?\s*;\s*$`)
)

const javaDefaultImports = "import java.util.*;\nimport java.io.*;\n"

// PrepareSource returns the file name and content written once per session.
// Java code without a Main class is wrapped into one.
func PrepareSource(lang profile.LanguageSpec, code string) (string, []byte) {
	switch lang.Wrapper {
	case profile.WrapperJavaMain:
		if !javaMainClass.MatchString(code) {
			code = wrapJavaMain(code)
		}
	}
	return lang.SourceFile, []byte(code)
}

// wrapJavaMain places bare statements in Main.main, keeping any import
// lines at the top of the file.
func wrapJavaMain(code string) string {
	var imports, body []string
	for _, line := range strings.Split(code, "\n") {
		if javaImport.MatchString(line) {
			imports = append(imports, strings.TrimSpace(line))
			continue
		}
		body = append(body, line)
	}

	var b strings.Builder
	b.WriteString(javaDefaultImports)
	for _, imp := range imports {
		b.WriteString(imp)
		b.WriteByte('\n')
	}
	b.WriteString("\npublic class Main {\n")
	b.WriteString("    public static void main(String[] args) throws Exception {\n")
	for _, line := range body {
		if strings.TrimSpace(line) == "" {
			b.WriteByte('\n')
			continue
		}
		b.WriteString("        ")
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteString("    }\n}\n")
	return b.String()
}

// injector rewrites source so that the program can read stdin without a
// process input channel.
type injector func(code string, stdin []byte) string

var injectors = map[string]injector{
	"javascript": injectJavaScriptPrompt,
}

// SupportsInlineStdin reports whether languageID has a source injector.
func SupportsInlineStdin(languageID string) bool {
	_, ok := injectors[languageID]
	return ok
}

// The input is carried as base64 so that no stdin content can break the
// generated source.
const jsPromptPreamble = `const __runboxInput = (() => {
  const text = Buffer.from("%s", "base64").toString("utf8");
  if (text === "") return [];
  return text.replace(/\r?\n$/, "").split(/\r?\n/);
})();
let __runboxLine = 0;
function prompt() {
  return __runboxLine < __runboxInput.length ? __runboxInput[__runboxLine++] : null;
}
`

func injectJavaScriptPrompt(code string, stdin []byte) string {
	if strings.HasPrefix(code, "#!") {
		if idx := strings.IndexByte(code, '\n'); idx >= 0 {
			code = code[idx+1:]
		} else {
			code = ""
		}
	}
	encoded := base64.StdEncoding.EncodeToString(stdin)
	return strings.Replace(jsPromptPreamble, "%s", encoded, 1) + code
}
