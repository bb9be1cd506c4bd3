package common

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeEnvFile(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "service.env")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	return path
}

func TestLoadEnvFileIgnoresMissingFile(t *testing.T) {
	if err := LoadEnvFile(filepath.Join(t.TempDir(), "nope.env")); err != nil {
		t.Fatalf("missing file should be a no-op, got %v", err)
	}
}

func TestLoadEnvFileDoesNotClobberProcessEnv(t *testing.T) {
	t.Setenv("SF_DATABASE_URL", "postgres://live")
	path := writeEnvFile(t, "SF_DATABASE_URL=postgres://from-file\n")

	if err := LoadEnvFile(path); err != nil {
		t.Fatalf("load env file: %v", err)
	}
	if got := os.Getenv("SF_DATABASE_URL"); got != "postgres://live" {
		t.Fatalf("process env was clobbered, got %q", got)
	}
}

func TestLoadEnvFileParsesValuesAndSkipsJunk(t *testing.T) {
	path := writeEnvFile(t, strings.Join([]string{
		"# surveyforge local overrides",
		"SF_REDIS_ADDR=localhost:6379",
		`SF_JWT_SECRET="quoted secret"`,
		"THIS LINE HAS NO ASSIGNMENT",
		"",
	}, "\n"))

	if err := LoadEnvFile(path); err != nil {
		t.Fatalf("load env file: %v", err)
	}
	if got := os.Getenv("SF_REDIS_ADDR"); got != "localhost:6379" {
		t.Fatalf("SF_REDIS_ADDR = %q", got)
	}
	if got := os.Getenv("SF_JWT_SECRET"); got != "quoted secret" {
		t.Fatalf("quotes were not stripped, got %q", got)
	}
}

func TestLoadEnvFileRejectsDirectory(t *testing.T) {
	if err := LoadEnvFile(t.TempDir()); err == nil {
		t.Fatal("expected an error when the path is a directory")
	}
}

func FuzzLoadEnvFile(f *testing.F) {
	f.Add([]byte("SF_PORT=8080\nSF_ENV=dev\n"))
	f.Add([]byte("JUNK\n# note\n SPACED = \"v\" \n"))
	f.Add([]byte("SF_NAME_ðŸ“‹=ã‚¢ãƒ³ã‚±ãƒ¼ãƒˆ\n"))
	f.Add([]byte("DANGLING"))
	f.Add(bytes.Repeat([]byte("Z"), 70000))

	f.Fuzz(func(t *testing.T, content []byte) {
		if len(content) > 200000 {
			content = content[:200000]
		}
		path := filepath.Join(t.TempDir(), "fuzz.env")
		if err := os.WriteFile(path, content, 0o600); err != nil {
			t.Fatalf("write env file: %v", err)
		}

		kind := func(err error) string {
			switch {
			case err == nil:
				return "ok"
			case strings.Contains(err.Error(), "open env file:"):
				return "open"
			case strings.Contains(err.Error(), "read env file:"):
				return "read"
			default:
				return "unexpected"
			}
		}

		first := kind(LoadEnvFile(path))
		second := kind(LoadEnvFile(path))
		if first != second {
			t.Fatalf("loading twice classified differently: %q then %q", first, second)
		}
		if first == "unexpected" {
			t.Fatalf("error outside the known classes on input of %d bytes", len(content))
		}
	})
}
