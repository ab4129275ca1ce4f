package profile

var builtinLanguages = []LanguageSpec{
	{
		ID:            "c",
		Name:          "C",
		Version:       "gcc c11",
		Kind:          KindCompiled,
		SourceFile:    "main.c",
		BinaryFile:    "main",
		CompileCmdTpl: "gcc -O2 -std=c11 -o {bin} {src} -lm",
		RunCmdTpl:     "./{bin}",
		StdinStrategy: StdinRedirect,
	},
	{
		ID:            "cpp",
		Name:          "C++",
		Version:       "g++ c++17",
		Aliases:       []string{"c++", "cxx"},
		Kind:          KindCompiled,
		SourceFile:    "main.cpp",
		BinaryFile:    "main",
		CompileCmdTpl: "g++ -O2 -std=c++17 -o {bin} {src}",
		RunCmdTpl:     "./{bin}",
		StdinStrategy: StdinRedirect,
	},
	{
		ID:            "go",
		Name:          "Go",
		Aliases:       []string{"golang"},
		Kind:          KindCompiled,
		SourceFile:    "main.go",
		BinaryFile:    "main",
		CompileCmdTpl: "go build -o {bin} {src}",
		RunCmdTpl:     "./{bin}",
		StdinStrategy: StdinRedirect,
		Env:           []string{"HOME={dir}", "GOCACHE={dir}/.gocache", "GOPATH={dir}/.gopath", "CGO_ENABLED=0", "GO111MODULE=off"},
	},
	{
		ID:            "java",
		Name:          "Java",
		Kind:          KindCompiled,
		SourceFile:    "Main.java",
		BinaryFile:    "Main.class",
		CompileCmdTpl: "javac -encoding UTF-8 {src}",
		RunCmdTpl:     "java -Xss64m -cp {dir} Main",
		StdinStrategy: StdinRedirect,
		Wrapper:       WrapperJavaMain,
	},
	{
		ID:            "python",
		Name:          "Python 3",
		Aliases:       []string{"py", "python3"},
		Kind:          KindInterpreted,
		SourceFile:    "main.py",
		RunCmdTpl:     "python3 {src}",
		StdinStrategy: StdinRedirect,
	},
	{
		ID:            "shell",
		Name:          "POSIX shell",
		Aliases:       []string{"sh", "bash"},
		Kind:          KindInterpreted,
		SourceFile:    "main.sh",
		RunCmdTpl:     "sh {src}",
		StdinStrategy: StdinRedirect,
	},
	{
		ID:            "javascript",
		Name:          "JavaScript",
		Aliases:       []string{"js", "node"},
		Kind:          KindInterpreted,
		SourceFile:    "main.js",
		RunCmdTpl:     "node {src}",
		StdinStrategy: StdinInlineWrapper,
	},
}

// Builtin returns copies of the languages shipped with the service.
func Builtin() []LanguageSpec {
	out := make([]LanguageSpec, 0, len(builtinLanguages))
	for _, lang := range builtinLanguages {
		out = append(out, lang.clone())
	}
	return out
}

// DefaultRegistry builds a registry of the built-in languages followed by
// extra, which may override a built-in by id.
func DefaultRegistry(extra ...LanguageSpec) (*Registry, error) {
	return NewRegistry(append(Builtin(), extra...)...)
}
