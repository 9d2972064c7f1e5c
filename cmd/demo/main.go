// Command demo drives a running faden gateway with the OpenAI Go SDK. It
// offers a few client-side tools, executes the calls the agent makes and
// sends the results back until the agent answers in text.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/spf13/cobra"
)

var (
	blue   = color.New(color.FgBlue).SprintFunc()
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

var defaultPrompts = []string{
	"Calculate 123 * 456 + 789",
	"What is the weather like in Berlin and in Lisbon?",
	"Search for information about machine learning",
	"If I save 5000 per month at 3% annual interest compounded monthly, how much do I have after 3 years?",
	"What is the area of a circle with radius 5.5?",
}

type options struct {
	baseURL   string
	apiKey    string
	model     string
	maxTokens int64
	maxRounds int
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := options{}
	cmd := &cobra.Command{
		Use:   "demo [prompt...]",
		Short: "Run tool-calling conversations against a faden gateway",
		Long: "Sends each prompt to the gateway, executes the tool calls the agent asks for\n" +
			"and returns the results until the agent answers. Without arguments a set of\n" +
			"sample prompts is used.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			prompts := args
			if len(prompts) == 0 {
				prompts = defaultPrompts
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, opts, prompts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.baseURL, "base-url", envOr("FADEN_URL", "http://localhost:8080/v1"), "gateway base URL")
	f.StringVar(&opts.apiKey, "api-key", "any-key", "API key sent to the gateway")
	f.StringVar(&opts.model, "model", "claude-sonnet-4-5", "model name")
	f.Int64Var(&opts.maxTokens, "max-tokens", 500, "completion token limit")
	f.IntVar(&opts.maxRounds, "max-rounds", 10, "tool rounds per prompt")
	return cmd
}

func run(ctx context.Context, opts options, prompts []string) error {
	client := openai.NewClient(
		option.WithBaseURL(opts.baseURL),
		option.WithAPIKey(opts.apiKey),
	)

	failed := 0
	for i, prompt := range prompts {
		fmt.Printf("\n%s\n", bold(fmt.Sprintf("Test %d", i+1)))
		if _, err := chat(ctx, &client, opts, prompt); err != nil {
			fmt.Println(red("error: " + err.Error()))
			failed++
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d conversations failed", failed, len(prompts))
	}
	fmt.Println(green("\nAll conversations completed."))
	return nil
}

// chat runs one conversation, executing tool calls until the agent answers.
func chat(ctx context.Context, client *openai.Client, opts options, prompt string) (string, error) {
	fmt.Printf("%s %s\n", blue("user:"), prompt)

	messages := []openai.ChatCompletionMessageParamUnion{openai.UserMessage(prompt)}
	for round := 0; round < opts.maxRounds; round++ {
		resp, err := client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
			Model:     opts.model,
			Messages:  messages,
			Tools:     toolDefinitions(),
			MaxTokens: openai.Int(opts.maxTokens),
		})
		if err != nil {
			return "", err
		}
		if len(resp.Choices) == 0 {
			return "", fmt.Errorf("response %s has no choices", resp.ID)
		}

		msg := resp.Choices[0].Message
		messages = append(messages, msg.ToParam())

		if len(msg.ToolCalls) == 0 {
			fmt.Printf("%s %s\n", green("assistant:"), msg.Content)
			return msg.Content, nil
		}
		if msg.Content != "" {
			fmt.Printf("%s %s\n", green("assistant:"), msg.Content)
		}

		for _, call := range msg.ToolCalls {
			fmt.Printf("%s %s %s\n", yellow("tool:"), call.Function.Name, gray(call.Function.Arguments))
			result := executeTool(call.Function.Name, call.Function.Arguments)
			data, err := json.Marshal(result)
			if err != nil {
				return "", err
			}
			fmt.Printf("      %s\n", gray(truncate(string(data), 100)))
			messages = append(messages, openai.ToolMessage(string(data), call.ID))
		}
	}
	return "", fmt.Errorf("no answer after %d tool rounds", opts.maxRounds)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
