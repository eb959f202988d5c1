package cli

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionCmd_Use(t *testing.T) {
	assert.Equal(t, "version", versionCmd.Use)
}

func TestVersionCmd_Executes(t *testing.T) {
	originalVersion := version
	version = "test-version-1.0.0"
	defer func() { version = originalVersion }()

	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetArgs([]string{"version"})
	defer func() {
		rootCmd.SetArgs(nil)
	}()

	err := rootCmd.Execute()

	assert.NoError(t, err)
	assert.Contains(t, buf.String(), "interviewd version test-version-1.0.0")
}

func TestServeCmd_HasPortFlag(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "port flag should exist")
	assert.Equal(t, "p", flag.Shorthand)
	assert.Equal(t, "", flag.DefValue)
}

func TestServeCmd_RejectsInvalidConfig(t *testing.T) {
	t.Setenv("API_PROVIDER", "carrier-pigeon")

	rootCmd.SetOut(io.Discard)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs([]string{"serve"})
	defer func() {
		rootCmd.SetArgs(nil)
	}()

	err := rootCmd.Execute()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "load configuration")
}

func TestChatCmd_Flags(t *testing.T) {
	require.NotNil(t, chatCmd.Flags().Lookup("name"))
	require.NotNil(t, chatCmd.Flags().Lookup("topics"))
	assert.Contains(t, chatCmd.Long, cmdSkip)
	assert.Contains(t, chatCmd.Long, cmdExport)
}

// runChatCmd executes `chat` against a two-question memory-backed interview
// and returns its output and export directory.
func runChatCmd(t *testing.T, input string, args ...string) (string, string, error) {
	t.Helper()
	exportDir := filepath.Join(t.TempDir(), "exports")
	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("API_PROVIDER", "none")
	t.Setenv("TOTAL_QUESTIONS", "2")
	t.Setenv("TRANSCRIPT_ENABLED", "false")
	t.Setenv("EXPORT_DIR", exportDir)

	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetIn(strings.NewReader(input))
	chatName, chatTopics = "", nil
	rootCmd.SetArgs(append([]string{"chat", "--name", "tester"}, args...))
	defer func() {
		rootCmd.SetArgs(nil)
		rootCmd.SetIn(nil)
	}()

	err := rootCmd.Execute()
	return buf.String(), exportDir, err
}

func exportedFiles(t *testing.T, dir string) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, "interview_tester_*.json"))
	require.NoError(t, err)
	return matches
}

func TestChat_SkipsToTheEndAndExports(t *testing.T) {
	out, dir, err := runChatCmd(t, "跳过\n跳过\n")

	require.NoError(t, err)
	assert.Contains(t, out, "欢迎，tester！本次访谈共 2 题。")
	assert.Contains(t, out, "第1/2题：")
	assert.Contains(t, out, "第2/2题：")
	assert.Contains(t, out, "访谈已结束，感谢您的参与！")

	files := exportedFiles(t, dir)
	require.Len(t, files, 1)
	data, err := os.ReadFile(files[0])
	require.NoError(t, err)
	var sum struct {
		UserName string `json:"user_name"`
		State    string `json:"state"`
	}
	require.NoError(t, json.Unmarshal(data, &sum))
	assert.Equal(t, "tester", sum.UserName)
	assert.Equal(t, "finished", sum.State)
}

func TestChat_UndoExportAndQuit(t *testing.T) {
	out, dir, err := runChatCmd(t, "\n还好\n撤回\n导出\n结束\n")

	require.NoError(t, err)
	assert.Contains(t, out, "请输入您的回答")
	assert.Contains(t, out, "已撤回。")
	assert.Equal(t, 2, strings.Count(out, "第1/2题："), "question shown again after undo")
	assert.Contains(t, out, "已导出：")
	assert.Contains(t, out, "访谈已中止")
	assert.NotContains(t, out, "访谈已结束")
	assert.Len(t, exportedFiles(t, dir), 1)
}

func TestChat_UndoWithNothingToUndo(t *testing.T) {
	out, _, err := runChatCmd(t, "撤回\n")

	require.NoError(t, err)
	assert.Contains(t, out, "没有可撤回的操作。")
}

func TestChat_UnknownTopicFails(t *testing.T) {
	_, _, err := runChatCmd(t, "", "--topics", "不存在")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "start interview")
}
