package main

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"strings"

	"golang.org/x/sys/unix"
	"golang.org/x/term"

	mask "github.com/mask-lang/mask"
)

// Exit codes per §6: 0 success, 1 runtime error, 2 syntax error,
// 3 file I/O error, 4 memory error.
const (
	exitOK      = 0
	exitRuntime = 1
	exitSyntax  = 2
	exitFileIO  = 3
	exitMemory  = 4
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	var (
		chunks     []string // -e inline chunks, in order
		requires   []string // -l module names, in order
		interactive bool
		scriptPath string
		scriptArgs []string
	)

	i := 0
	optionsEnded := false
	for i < len(args) {
		a := args[i]
		switch {
		case optionsEnded:
			scriptPath = a
			scriptArgs = args[i+1:]
			i = len(args)
			continue
		case a == "--":
			optionsEnded = true
		case a == "-i":
			interactive = true
		case a == "-e":
			if i+1 >= len(args) {
				fmt.Fprintln(os.Stderr, "mask: '-e' needs an argument")
				return exitFileIO
			}
			chunks = append(chunks, args[i+1])
			i++
		case a == "-l":
			if i+1 >= len(args) {
				fmt.Fprintln(os.Stderr, "mask: '-l' needs an argument")
				return exitFileIO
			}
			requires = append(requires, args[i+1])
			i++
		case strings.HasPrefix(a, "-") && a != "-":
			fmt.Fprintf(os.Stderr, "mask: unrecognized option '%s'\n", a)
			return exitFileIO
		default:
			scriptPath = a
			scriptArgs = args[i+1:]
			i = len(args)
			continue
		}
		i++
	}

	gs := mask.NewGlobalState()
	l := gs.MainThread()

	for _, name := range requires {
		if code := runRequire(gs, l, name); code != exitOK {
			return code
		}
	}
	for _, chunk := range chunks {
		if code := runSource(gs, l, []byte(chunk), "=(command line)"); code != exitOK {
			return code
		}
	}

	if scriptPath != "" {
		src, err := os.ReadFile(scriptPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "mask: cannot open %s: %s\n", scriptPath, err)
			return exitFileIO
		}
		src, chunkName := stripShebangAndBOM(src, scriptPath)
		argTable := gs.NewTableWithHint(len(scriptArgs), 0)
		for idx, sa := range scriptArgs {
			_ = gs.SetIndex(l, argTable, int64(idx+1), gs.NewString([]byte(sa)))
		}
		_ = gs.SetField(l, gs.Globals(), "arg", argTable)
		if code := runSource(gs, l, src, chunkName); code != exitOK {
			return code
		}
	}

	if interactive || (scriptPath == "" && len(chunks) == 0 && len(requires) == 0) {
		return repl(gs, l)
	}
	return exitOK
}

// stripShebangAndBOM drops a leading `#!` line (replacing it with a
// blank line so reported line numbers stay accurate, §6) and a UTF-8
// byte-order mark, and derives the chunk's display name from the path
// the way the original loader's `@filename` convention does.
func stripShebangAndBOM(src []byte, path string) ([]byte, string) {
	src = bytes.TrimPrefix(src, []byte{0xEF, 0xBB, 0xBF})
	if bytes.HasPrefix(src, []byte("#!")) {
		if nl := bytes.IndexByte(src, '\n'); nl >= 0 {
			rest := make([]byte, len(src)-nl)
			rest[0] = '\n'
			copy(rest[1:], src[nl+1:])
			src = rest
		} else {
			src = nil
		}
	}
	return src, "@" + path
}

func runRequire(gs *mask.GlobalState, l *mask.Thread, name string) int {
	path := name + ".mask"
	src, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mask: cannot require '%s': %s\n", name, err)
		return exitFileIO
	}
	return runSource(gs, l, src, "@"+path)
}

func runSource(gs *mask.GlobalState, l *mask.Thread, src []byte, chunkName string) int {
	cl, err := gs.Load(src, chunkName)
	if err != nil {
		return reportError(err)
	}
	if _, err := gs.Call(l, cl, nil, -1); err != nil {
		return reportError(err)
	}
	return exitOK
}

func reportError(err error) int {
	fmt.Fprintln(os.Stderr, wrapError(err.Error(), terminalWidth()))
	if _, ok := err.(*mask.SyntaxError); ok {
		return exitSyntax
	}
	if re, ok := err.(*mask.RuntimeError); ok {
		switch re.Kind {
		case mask.ErrSyntax:
			return exitSyntax
		case mask.ErrMem:
			return exitMemory
		case mask.ErrFile:
			return exitFileIO
		default:
			return exitRuntime
		}
	}
	return exitRuntime
}

// repl is the interactive `-i` loop (§6): raw-mode stdin via
// golang.org/x/term so multi-line input (an incomplete chunk ending
// mid-expression) can be continued on a `>>` prompt without the
// terminal eating control characters, the same "put the terminal in
// a known mode before reading a line" shape the teacher's wasm REPL
// glue uses for its browser-side console.
func repl(gs *mask.GlobalState, l *mask.Thread) int {
	fd := int(os.Stdin.Fd())
	raw := term.IsTerminal(fd)
	var oldState *term.State
	if raw {
		var err error
		oldState, err = term.MakeRaw(fd)
		if err != nil {
			raw = false
		} else {
			defer term.Restore(fd, oldState)
		}
	}

	reader := bufio.NewReader(os.Stdin)

	prompt := "> "
	var pending strings.Builder
	for {
		fmt.Fprint(os.Stdout, prompt)
		line, err := readLine(reader, raw)
		if err != nil {
			fmt.Fprintln(os.Stdout)
			return exitOK
		}
		if pending.Len() == 0 && strings.TrimSpace(line) == "" {
			continue
		}
		pending.WriteString(line)
		pending.WriteByte('\n')

		src := []byte(pending.String())
		cl, cerr := gs.Load(src, "=stdin")
		if cerr != nil {
			if continuable(cerr) {
				prompt = ">> "
				continue
			}
			fmt.Fprintln(os.Stdout, wrapError(cerr.Error(), terminalWidth()))
			pending.Reset()
			prompt = "> "
			continue
		}
		pending.Reset()
		prompt = "> "
		results, rerr := gs.Call(l, cl, nil, -1)
		if rerr != nil {
			fmt.Fprintln(os.Stdout, wrapError(rerr.Error(), terminalWidth()))
			continue
		}
		for _, r := range results {
			fmt.Fprintln(os.Stdout, r.String())
		}
	}
}

// terminalWidth reads the controlling terminal's column count via the
// TIOCGWINSZ ioctl so long error messages can be wrapped instead of
// spilling past the visible line; 80 is the fallback when stdout
// isn't a terminal or the ioctl fails (piped output, CI logs).
func terminalWidth() int {
	ws, err := unix.IoctlGetWinsize(int(os.Stdout.Fd()), unix.TIOCGWINSZ)
	if err != nil || ws.Col == 0 {
		return 80
	}
	return int(ws.Col)
}

// wrapError wraps msg to width columns on word boundaries, prefixing
// the first physical line with "mask: " and indenting each following
// line by the same width, so a long error reads as a block instead of
// one terminal-eaten line.
func wrapError(msg string, width int) string {
	if width <= len("mask: ") {
		return "mask: " + msg
	}
	avail := width - len("mask: ")
	words := strings.Fields(msg)
	var lines []string
	var cur strings.Builder
	for _, w := range words {
		if cur.Len() > 0 && cur.Len()+1+len(w) > avail {
			lines = append(lines, cur.String())
			cur.Reset()
		}
		if cur.Len() > 0 {
			cur.WriteByte(' ')
		}
		cur.WriteString(w)
	}
	if cur.Len() > 0 {
		lines = append(lines, cur.String())
	}
	if len(lines) == 0 {
		return "mask: "
	}
	out := "mask: " + lines[0]
	for _, l := range lines[1:] {
		out += "\n      " + l
	}
	return out
}

// continuable reports whether a syntax error is the "chunk ends
// early" kind that a REPL should keep reading lines for (an
// unterminated block or missing closing delimiter), rather than a
// genuine mistake to report immediately.
func continuable(err error) bool {
	se, ok := err.(*mask.SyntaxError)
	if !ok {
		return false
	}
	return strings.Contains(se.Message, "eof") || strings.Contains(se.Message, "<eof>")
}

func readLine(r *bufio.Reader, raw bool) (string, error) {
	if !raw {
		line, err := r.ReadString('\n')
		return strings.TrimRight(line, "\r\n"), err
	}
	var buf strings.Builder
	for {
		b, err := r.ReadByte()
		if err != nil {
			return buf.String(), err
		}
		switch b {
		case '\r', '\n':
			fmt.Fprint(os.Stdout, "\r\n")
			return buf.String(), nil
		case 3: // Ctrl-C
			return "", fmt.Errorf("interrupt")
		case 127, 8: // backspace/delete
			s := buf.String()
			if len(s) > 0 {
				buf.Reset()
				buf.WriteString(s[:len(s)-1])
				fmt.Fprint(os.Stdout, "\b \b")
			}
		default:
			buf.WriteByte(b)
			fmt.Fprintf(os.Stdout, "%c", b)
		}
	}
}
