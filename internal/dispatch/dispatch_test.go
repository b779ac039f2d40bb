package dispatch

import (
	"io"
	"os"
	"strings"
	"testing"
)

func TestSubstitutePlaceholders(t *testing.T) {
	got := substitutePlaceholders("build ${1} --tag ${2}", "myapp v1.0")
	want := "build myapp --tag v1.0"
	if got != want {
		t.Errorf("substitutePlaceholders() = %q, want %q", got, want)
	}
}

func TestGetEnvExplicitValue(t *testing.T) {
	env := getEnv([]string{"FOO=bar"})
	if env["FOO"] != "bar" {
		t.Errorf("expected FOO=bar, got %v", env)
	}
}

func TestGetEnvForwardsFromProcessEnvironment(t *testing.T) {
	t.Setenv("DWQ_TEST_VAR", "fromenv")
	env := getEnv([]string{"DWQ_TEST_VAR"})
	if env["DWQ_TEST_VAR"] != "fromenv" {
		t.Errorf("expected forwarded value, got %v", env)
	}
}

func TestGetEnvSkipsUnsetBareNames(t *testing.T) {
	os.Unsetenv("DWQ_TEST_UNSET_VAR")
	env := getEnv([]string{"DWQ_TEST_UNSET_VAR"})
	if _, ok := env["DWQ_TEST_UNSET_VAR"]; ok {
		t.Error("expected unset bare name to be skipped")
	}
}

func TestCollectCommandsSingleCommand(t *testing.T) {
	d := &Dispatcher{}
	cmds, err := d.collectCommands(Options{Command: "echo hi"}, strings.NewReader(""))
	if err != nil {
		t.Fatal(err)
	}
	if len(cmds) != 1 || cmds[0] != "echo hi" {
		t.Errorf("got %v", cmds)
	}
}

func TestCollectCommandsPlainStdin(t *testing.T) {
	d := &Dispatcher{}
	cmds, err := d.collectCommands(Options{}, strings.NewReader("make test\nmake lint\n\n"))
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"make test", "make lint"}
	if len(cmds) != len(want) {
		t.Fatalf("got %v, want %v", cmds, want)
	}
	for i := range want {
		if cmds[i] != want[i] {
			t.Errorf("cmds[%d] = %q, want %q", i, cmds[i], want[i])
		}
	}
}

func TestCollectCommandsStdinTemplate(t *testing.T) {
	d := &Dispatcher{}
	cmds, err := d.collectCommands(Options{Stdin: true, Command: "test ${1}"}, strings.NewReader("unit\nintegration\n"))
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"test unit", "test integration"}
	for i := range want {
		if cmds[i] != want[i] {
			t.Errorf("cmds[%d] = %q, want %q", i, cmds[i], want[i])
		}
	}
}

// TestStreamSubmitSubmitsBeforeStdinFullyConsumed verifies non-batch mode
// submits each line's job as it is read, rather than buffering the whole
// stream first: the writer blocks after the first line until submit has
// already fired for it.
func TestStreamSubmitSubmitsBeforeStdinFullyConsumed(t *testing.T) {
	pr, pw := io.Pipe()
	firstSubmitted := make(chan struct{})
	writeErrCh := make(chan error, 1)
	go func() {
		if _, err := pw.Write([]byte("cmd-one\n")); err != nil {
			writeErrCh <- err
			return
		}
		<-firstSubmitted
		if _, err := pw.Write([]byte("cmd-two\n")); err != nil {
			writeErrCh <- err
			return
		}
		writeErrCh <- pw.Close()
	}()

	var submitted []string
	err := streamSubmit(Options{}, pr, func(cmd string) error {
		submitted = append(submitted, cmd)
		if len(submitted) == 1 {
			close(firstSubmitted)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := <-writeErrCh; err != nil {
		t.Fatal(err)
	}

	want := []string{"cmd-one", "cmd-two"}
	if len(submitted) != len(want) {
		t.Fatalf("got %v, want %v", submitted, want)
	}
	for i := range want {
		if submitted[i] != want[i] {
			t.Errorf("submitted[%d] = %q, want %q", i, submitted[i], want[i])
		}
	}
}
