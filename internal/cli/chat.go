package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ashureev/interviewd/internal/app"
	"github.com/ashureev/interviewd/internal/config"
	"github.com/ashureev/interviewd/internal/domain"
	"github.com/ashureev/interviewd/internal/interview"
)

// Terminal commands.
const (
	cmdSkip   = "跳过"
	cmdUndo   = "撤回"
	cmdExport = "导出"
	cmdQuit   = "结束"
)

var (
	chatName   string
	chatTopics []string
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Run an interview in the terminal",
	Long: `Runs one interview interactively on stdin/stdout. Besides answers, the
following commands are accepted on their own line:

  跳过  skip the current question
  撤回  undo the last answer or skip
  导出  export the session summary as JSON
  结束  leave the interview

The summary is exported automatically when the interview finishes.`,
	Args: cobra.NoArgs,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatName, "name", "", "interviewee name (generated when empty)")
	chatCmd.Flags().StringSliceVar(&chatTopics, "topics", nil, "topic names to ask, in order")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, _ []string) error {
	logger := newLogger(cmd.ErrOrStderr(), slog.LevelWarn)

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	ctx := cmd.Context()
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			logger.Error("Failed to release resources", "error", closeErr)
		}
	}()

	c := &chat{engine: a.Engine, out: cmd.OutOrStdout(), exportDir: cfg.ExportDir, now: time.Now}
	return c.run(ctx, cmd.InOrStdin(), chatName, chatTopics)
}

// chat drives one terminal interview.
type chat struct {
	engine    *interview.Engine
	out       io.Writer
	exportDir string
	now       func() time.Time
}

func (c *chat) run(ctx context.Context, in io.Reader, name string, topics []string) error {
	s, err := c.engine.StartSession(ctx, name, topics)
	if err != nil {
		return fmt.Errorf("start interview: %w", err)
	}
	id := s.ID

	c.printf("欢迎，%s！本次访谈共 %d 题。\n", s.UserName, s.TotalQuestions())
	c.printf("输入 %s 跳过当前问题，%s 撤回上一步，%s 导出记录，%s 退出。\n\n", cmdSkip, cmdUndo, cmdExport, cmdQuit)
	c.printPending(domain.Messages(s.ConversationLog))

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)
	for {
		c.printf("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())

		var res interview.Result
		switch line {
		case "":
			c.printf("请输入您的回答，或输入 %s。\n", cmdSkip)
			continue
		case cmdQuit:
			c.printf("访谈已中止，会话 %s 已保留。\n", id)
			return nil
		case cmdExport:
			if err := c.export(ctx, id); err != nil {
				return err
			}
			continue
		case cmdUndo:
			msgs, err := c.engine.UndoLast(ctx, id)
			if errors.Is(err, domain.ErrUndoUnavailable) {
				c.printf("没有可撤回的操作。\n")
				continue
			}
			if err != nil {
				return fmt.Errorf("undo: %w", err)
			}
			c.printf("已撤回。\n")
			c.printPending(msgs)
			continue
		case cmdSkip:
			res, err = c.engine.SkipQuestion(ctx, id)
		default:
			res, err = c.engine.ProcessAnswer(ctx, id, line)
		}
		if err != nil {
			return fmt.Errorf("process answer: %w", err)
		}

		c.printf("%s\n", res.AssistantMessage)
		if res.IsFinished {
			return c.export(ctx, id)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	return nil
}

func (c *chat) export(ctx context.Context, id string) error {
	sum, err := c.engine.Summary(ctx, id)
	if err != nil {
		return fmt.Errorf("summarize session: %w", err)
	}
	path, err := app.ExportSummary(c.exportDir, sum, c.now())
	if err != nil {
		return err
	}
	c.printf("已导出：%s\n", path)
	return nil
}

// printPending shows the question currently awaiting an answer.
func (c *chat) printPending(msgs []domain.Message) {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == domain.RoleAssistant {
			c.printf("%s\n", msgs[i].Content)
			return
		}
	}
}

func (c *chat) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(c.out, format, args...)
}
