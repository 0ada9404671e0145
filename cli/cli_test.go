package cli

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digitorus/pdfbatchsign/crypt"
	"github.com/digitorus/pdfbatchsign/internal/testpdf"
	"github.com/digitorus/pdfbatchsign/internal/testpki"
)

// writeConfig creates a signing key and a config.ini pointing at it.
func writeConfig(t *testing.T, extra string) string {
	t.Helper()
	pki := testpki.NewTestPKI(t)
	keyFile, _, _ := pki.WritePKCS12("CLI Signer", "secret")

	content := fmt.Sprintf(`keyfile=%s
password=secret
reason=Contract note
location=Rotterdam
x1=20
y1=20
x2=220
y2=80
page=1
user_password=reader
owner_password=admin
%s`, keyFile, extra)

	path := filepath.Join(t.TempDir(), "config.ini")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func run(t *testing.T, args ...string) (int, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := Run(context.Background(), args, &stdout, &stderr)
	return code, stdout.String() + stderr.String()
}

func TestUsage(t *testing.T) {
	code, out := run(t)
	assert.Equal(t, 1, code)
	assert.Contains(t, out, "Batch PDF signer")
	assert.Contains(t, out, "pdfbatchsign file_list.txt")
	assert.Contains(t, out, "pdfbatchsign input_dir output_dir")
}

func TestTooManyArguments(t *testing.T) {
	code, _ := run(t, "a", "b", "c")
	assert.Equal(t, 1, code)
}

func TestMissingConfig(t *testing.T) {
	code, out := run(t, "--config", filepath.Join(t.TempDir(), "missing.ini"), "list.txt")
	assert.Equal(t, 1, code)
	assert.Contains(t, out, "config file is missing")
}

func TestSameDirectory(t *testing.T) {
	cfg := writeConfig(t, "")
	dir := t.TempDir()

	code, out := run(t, "--config", cfg, dir, dir)
	assert.Equal(t, 1, code)
	assert.Contains(t, out, "Can't read and write from the same directory")
}

func TestManifest(t *testing.T) {
	cfg := writeConfig(t, "workers=2\n")
	src := t.TempDir()
	dst := t.TempDir()

	in1 := testpdf.Write(t, src, "one.pdf", testpdf.Generated(t, 1))
	in2 := testpdf.Write(t, src, "two.pdf", testpdf.Minimal(2, true))
	out1 := filepath.Join(dst, "one-signed.pdf")
	out2 := filepath.Join(dst, "two-signed.pdf")

	list := filepath.Join(t.TempDir(), "file_list.txt")
	manifest := fmt.Sprintf("%s %s\n\nnot-a-pair\n%s %s\n", in1, out1, in2, out2)
	require.NoError(t, os.WriteFile(list, []byte(manifest), 0o600))

	metricsFile := filepath.Join(t.TempDir(), "pdfbatchsign.prom")
	code, out := run(t, "--config", cfg, "--log-format", "json", "--metrics-file", metricsFile, list)
	require.Equal(t, 0, code, out)
	assert.Contains(t, out, `"run_id"`)
	assert.Contains(t, out, "signing finished")

	for _, name := range []string{out1, out2} {
		data, err := os.ReadFile(name)
		require.NoError(t, err)
		for _, password := range []string{"reader", "admin"} {
			_, err = crypt.Decrypt(data, password)
			assert.NoError(t, err, name)
		}
	}

	prom, err := os.ReadFile(metricsFile)
	require.NoError(t, err)
	assert.Contains(t, string(prom), `pdfbatchsign_documents_total{result="signed"} 2`)
	assert.Contains(t, string(prom), "pdfbatchsign_manifest_lines_skipped_total 1")
}

func TestDirectoryWithFailures(t *testing.T) {
	cfg := writeConfig(t, "")
	src := t.TempDir()
	dst := t.TempDir()
	testpdf.Write(t, src, "alpha_good.pdf", testpdf.Minimal(1, false))
	testpdf.Write(t, src, "beta_bad.pdf", []byte("not a pdf"))

	code, out := run(t, "--config", cfg, "--workers", "2", "--timeout", "30s", src, dst)
	assert.Equal(t, 2, code, out)
	assert.Contains(t, out, "1 of 2 documents failed")

	data, err := os.ReadFile(filepath.Join(dst, "good.pdf"))
	require.NoError(t, err)
	_, err = crypt.Decrypt(data, "alpha")
	assert.NoError(t, err)
}

func TestInvalidFlags(t *testing.T) {
	cfg := writeConfig(t, "")
	tests := [][]string{
		{"--timeout", "soon"},
		{"--workers", "-1"},
		{"--log-level", "loud"},
		{"--log-format", "xml"},
	}
	for _, flags := range tests {
		t.Run(strings.Join(flags, " "), func(t *testing.T) {
			args := append([]string{"--config", cfg}, flags...)
			code, _ := run(t, append(args, "list.txt")...)
			assert.Equal(t, 1, code)
		})
	}
}

func TestPasswordPrompt(t *testing.T) {
	t.Setenv("PDFBATCHSIGN_PASSWORD", "")
	os.Unsetenv("PDFBATCHSIGN_PASSWORD")

	cfg := writeConfig(t, "")
	content, err := os.ReadFile(cfg)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(cfg, bytes.Replace(content, []byte("password=secret\n"), nil, 1), 0o600))

	oldRead := readPassword
	defer func() { readPassword = oldRead }()
	prompted := false
	readPassword = func(io.Writer) (string, bool, error) {
		prompted = true
		return "wrong", true, nil
	}

	list := filepath.Join(t.TempDir(), "file_list.txt")
	require.NoError(t, os.WriteFile(list, nil, 0o600))

	code, out := run(t, "--config", cfg, list)
	assert.True(t, prompted)
	assert.Equal(t, 1, code)
	assert.Contains(t, out, "credential store unreadable")
}

func TestMainExitCode(t *testing.T) {
	oldExit := osExit
	oldArgs := os.Args
	defer func() {
		osExit = oldExit
		os.Args = oldArgs
	}()

	var got int
	osExit = func(code int) { got = code }
	os.Args = []string{"pdfbatchsign"}

	Main(context.Background())
	assert.Equal(t, 1, got)
}
