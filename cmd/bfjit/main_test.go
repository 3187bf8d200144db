package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func runMain(t *testing.T, src, stdin string) (exitCode int, stdout, stderr string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "prog.bf")
	require.NoError(t, os.WriteFile(path, []byte(src), 0o644))

	var out, errBuf bytes.Buffer
	exitCode = doMain([]string{path}, strings.NewReader(stdin), &out, &errBuf)
	return exitCode, out.String(), errBuf.String()
}

func TestRun_HelloLetterA(t *testing.T) {
	code, out, _ := runMain(t, "++++++++[>++++++++<-]>+.", "")
	require.Equal(t, 0, code)
	require.Equal(t, "A", out)
}

func TestRun_EchoesStdin(t *testing.T) {
	code, out, _ := runMain(t, ",.", "Q")
	require.Equal(t, 0, code)
	require.Equal(t, "Q", out)
}

func TestRun_ReadAtEOFLeavesCellZero(t *testing.T) {
	code, out, _ := runMain(t, ",.", "")
	require.Equal(t, 0, code)
	require.Equal(t, "\x00", out)
}

func TestRun_UnclosedLeftBracket(t *testing.T) {
	code, _, errOut := runMain(t, "[", "")
	require.Equal(t, 1, code)
	require.Contains(t, errOut, "Unclosed left bracket at line 1:1")
	require.True(t, strings.HasPrefix(errOut, "bfjit: "))
}

func TestRun_UnexpectedRightBracket(t *testing.T) {
	code, _, errOut := runMain(t, "  ]", "")
	require.Equal(t, 1, code)
	require.Contains(t, errOut, "Unexpected right bracket at line 1:3")
}

func TestRun_PointerUnderflowOverflows(t *testing.T) {
	code, _, errOut := runMain(t, "<", "")
	require.Equal(t, 1, code)
	require.Contains(t, errOut, "pointer overflow")
}

func TestRun_HelloWorld(t *testing.T) {
	const helloWorld = "++++++++[>++++[>++>+++>+++>+<<<<-]>+>+>->>+[<]<-]" +
		">>.>---.+++++++..+++.>>.<-.<.+++.------.--------.>>+.>++."
	code, out, _ := runMain(t, helloWorld, "")
	require.Equal(t, 0, code)
	require.Equal(t, "Hello World!\n", out)
}

func TestRun_MissingArgument(t *testing.T) {
	code := doMain(nil, strings.NewReader(""), &bytes.Buffer{}, &bytes.Buffer{})
	require.Equal(t, 1, code)
}
