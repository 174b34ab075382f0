package common

import (
	"bytes"
	"errors"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLogLevel_String(t *testing.T) {
	tests := []struct {
		level    LogLevel
		expected string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{LogLevel(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.level.String(); got != tt.expected {
				t.Errorf("LogLevel.String() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestSessionStatus_String(t *testing.T) {
	tests := []struct {
		status   SessionStatus
		expected string
		active   bool
	}{
		{StatusDisconnected, "disconnected", false},
		{StatusConnecting, "connecting", true},
		{StatusConnected, "connected", true},
		{StatusDisconnecting, "disconnecting", false},
		{SessionStatus(99), "unknown", false},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.status.String(); got != tt.expected {
				t.Errorf("SessionStatus.String() = %v, want %v", got, tt.expected)
			}
			if got := tt.status.Active(); got != tt.active {
				t.Errorf("SessionStatus.Active() = %v, want %v", got, tt.active)
			}
		})
	}
}

func TestAppLogger_SetLevel(t *testing.T) {
	logger := &AppLogger{
		level: LevelInfo,
	}

	logger.SetLevel(LevelDebug)
	if logger.level != LevelDebug {
		t.Errorf("SetLevel did not update level, got %v, want %v", logger.level, LevelDebug)
	}
}

func TestAppLogger_LogFiltering(t *testing.T) {
	var buf bytes.Buffer

	logger := &AppLogger{
		level:  LevelWarn,
		output: &buf,
	}
	logger.logger = newTestLogger(&buf)

	logger.Debug("debug message")
	logger.Info("info message")

	if buf.Len() > 0 {
		t.Error("Debug/Info messages should be filtered when level is Warn")
	}

	logger.Warn("warn message")
	if !strings.Contains(buf.String(), "WARN") {
		t.Error("Warn message should be logged")
	}

	buf.Reset()
	logger.Error("error message")
	if !strings.Contains(buf.String(), "ERROR") {
		t.Error("Error message should be logged")
	}
}

func TestAppLogger_LogFormatting(t *testing.T) {
	var buf bytes.Buffer

	logger := &AppLogger{
		level:  LevelDebug,
		output: &buf,
	}
	logger.logger = newTestLogger(&buf)

	logger.Info("Test message with %s", "formatting")

	output := buf.String()

	if !strings.Contains(output, time.Now().Format("2006/01/02")) {
		t.Error("Log should contain date in YYYY/MM/DD format")
	}

	if !strings.Contains(output, "[INFO]") {
		t.Error("Log should contain level indicator")
	}

	if !strings.Contains(output, "logger_test.go") {
		t.Errorf("Log should name the calling file, got %q", output)
	}

	if !strings.Contains(output, "Test message with formatting") {
		t.Error("Log should contain formatted message")
	}
}

func TestScopedLogger(t *testing.T) {
	var buf bytes.Buffer

	logger := &AppLogger{
		level:  LevelDebug,
		output: &buf,
	}
	logger.logger = newTestLogger(&buf)

	scoped := logger.Scope("0a1b2c3d")
	scoped.Warn("Step %s failed", "dns-assigned")
	scoped.Info("100% done")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("logged %d lines, want 2:\n%s", len(lines), buf.String())
	}
	if !strings.Contains(lines[0], "[WARN] logger_test.go:") {
		t.Errorf("scoped line should name the calling file, got %q", lines[0])
	}
	if !strings.HasSuffix(lines[0], ": [0a1b2c3d] Step dns-assigned failed") {
		t.Errorf("scoped line = %q", lines[0])
	}
	if !strings.HasSuffix(lines[1], ": [0a1b2c3d] 100% done") {
		t.Errorf("message without args must not be formatted, got %q", lines[1])
	}
	if scoped.Name() != "0a1b2c3d" {
		t.Errorf("Name() = %v, want 0a1b2c3d", scoped.Name())
	}
}

func TestAppLogger_EnableFileLogging(t *testing.T) {
	dir := t.TempDir()

	logger := &AppLogger{
		level:       LevelInfo,
		console:     &bytes.Buffer{},
		maxFileSize: defaultMaxFileSize,
		maxBackups:  defaultMaxBackups,
	}
	if err := logger.EnableFileLogging(dir); err != nil {
		t.Fatalf("EnableFileLogging() error = %v", err)
	}

	logger.Info("step %d done", 3)
	logger.Info("step %d done", 4)
	if err := logger.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if got := logger.LogPath(); got != filepath.Join(dir, LogFileName) {
		t.Errorf("LogPath() = %v, want %v", got, filepath.Join(dir, LogFileName))
	}

	data, err := os.ReadFile(filepath.Join(dir, LogFileName))
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("log file has %d lines, want 2", len(lines))
	}
	if !strings.HasSuffix(lines[1], "step 4 done") {
		t.Errorf("last line = %q, want suffix %q", lines[1], "step 4 done")
	}
}

func TestAppLogger_RefusesSymlinkedFile(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "elsewhere")
	if err := os.WriteFile(target, nil, 0600); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(target, filepath.Join(dir, LogFileName)); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	logger := &AppLogger{level: LevelInfo, maxFileSize: defaultMaxFileSize}
	if err := logger.EnableFileLogging(dir); err == nil {
		t.Error("EnableFileLogging() should refuse a symlinked log file")
	}
}

func TestDefaultLogConfig(t *testing.T) {
	if defaultMaxFileSize != 5*1024*1024 {
		t.Errorf("defaultMaxFileSize = %v, want 5MB", defaultMaxFileSize)
	}

	if defaultMaxBackups != 5 {
		t.Errorf("defaultMaxBackups = %v, want 5", defaultMaxBackups)
	}
}

func TestGetDataDir(t *testing.T) {
	base := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", base)
	t.Setenv("AppData", base)
	t.Setenv("HOME", base)

	dir, err := GetDataDir()
	if err != nil {
		t.Fatalf("GetDataDir() error = %v", err)
	}

	if !strings.HasSuffix(dir, ConfigDirName) {
		t.Errorf("GetDataDir() = %v, should end with %v", dir, ConfigDirName)
	}

	if !FileExists(dir) {
		t.Error("GetDataDir() should create the directory")
	}
}

func TestFileExists(t *testing.T) {
	tempFile, err := os.CreateTemp("", "test")
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(tempFile.Name())
	tempFile.Close()

	if !FileExists(tempFile.Name()) {
		t.Error("FileExists() should return true for existing file")
	}

	if FileExists("/nonexistent/path/to/file") {
		t.Error("FileExists() should return false for non-existing file")
	}
}

func TestWrapError(t *testing.T) {
	originalErr := ErrEngineStartFailed
	wrapped := WrapError(originalErr, "additional context")

	if wrapped == nil {
		t.Fatal("WrapError should return non-nil error")
	}

	if !strings.Contains(wrapped.Error(), "additional context") {
		t.Error("WrapError should include additional context")
	}

	if !errors.Is(wrapped, ErrEngineStartFailed) {
		t.Error("WrapError should keep the original error reachable")
	}

	if WrapError(nil, "context") != nil {
		t.Error("WrapError(nil) should return nil")
	}
}

func TestStepError(t *testing.T) {
	err := &StepError{Step: "resolve-server-ip", Err: ErrEndpointResolutionFailed}

	if !errors.Is(err, ErrEndpointResolutionFailed) {
		t.Error("StepError should unwrap to its cause")
	}
	if got := err.Error(); !strings.HasPrefix(got, "resolve-server-ip: ") {
		t.Errorf("StepError.Error() = %q, want step prefix", got)
	}
}

func TestPlumbingError(t *testing.T) {
	osErr := errors.New("exit status 1")
	err := &PlumbingError{Op: "add-exception-route", Output: "The route addition failed\r\n", Err: osErr}

	if !errors.Is(err, ErrPlumbingFailed) {
		t.Error("PlumbingError should match ErrPlumbingFailed")
	}
	if !errors.Is(err, osErr) {
		t.Error("PlumbingError should match the OS error")
	}
	want := "add-exception-route: exit status 1 (The route addition failed)"
	if got := err.Error(); got != want {
		t.Errorf("PlumbingError.Error() = %q, want %q", got, want)
	}
}

func TestLogRotation(t *testing.T) {
	tempDir := t.TempDir()

	logFile := filepath.Join(tempDir, "test.log")

	largeContent := strings.Repeat("x", 1024*1024) // 1MB
	if err := os.WriteFile(logFile, []byte(largeContent), 0600); err != nil {
		t.Fatal(err)
	}

	logger := &AppLogger{
		level:       LevelInfo,
		maxFileSize: 512 * 1024,
		maxBackups:  2,
	}

	logger.rotateIfNeeded(logFile)

	info, err := os.Stat(logFile)
	if err == nil && info.Size() > 0 {
		t.Error("Original log file should be removed or empty after rotation")
	}

	matches, _ := filepath.Glob(filepath.Join(tempDir, "test.log.*"))
	if len(matches) == 0 {
		t.Error("Backup file should be created after rotation")
	}
}

// Helper to create a test logger
func newTestLogger(buf *bytes.Buffer) *log.Logger {
	return log.New(buf, "", 0)
}
