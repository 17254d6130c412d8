// Package ai adapts the external streaming text generator behind a compiled
// prompt chain. The adapter is thin: it assembles no context of its own and
// consumes whatever message list the orchestrator hands it.
package ai

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/evanwzhao/relay/backend/internal/config"
)

// Service wraps the chat model in a compiled chain.
type Service struct {
	chatModel model.ChatModel
	chain     compose.Runnable[map[string]any, *schema.Message]
}

// NewService creates the generation adapter from configuration.
func NewService(ctx context.Context, cfg config.AIConfig) (*Service, error) {
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}
	return newService(ctx, chatModel)
}

func newService(ctx context.Context, chatModel model.ChatModel) (*Service, error) {
	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	return &Service{chatModel: chatModel, chain: runnable}, nil
}

// Stream runs the chain and returns the incremental token stream. The stream
// is single-pass and not restartable; the consumer owns Close.
func (s *Service) Stream(ctx context.Context, system string, history []*schema.Message) (*schema.StreamReader[*schema.Message], error) {
	stream, err := s.chain.Stream(ctx, chainInput(system, history))
	if err != nil {
		return nil, fmt.Errorf("failed to stream chain output: %w", err)
	}
	return stream, nil
}

// Generate runs the chain to completion without streaming.
func (s *Service) Generate(ctx context.Context, system string, history []*schema.Message) (*schema.Message, error) {
	response, err := s.chain.Invoke(ctx, chainInput(system, history))
	if err != nil {
		return nil, fmt.Errorf("failed to run chain: %w", err)
	}
	return response, nil
}

func chainInput(system string, history []*schema.Message) map[string]any {
	return map[string]any{
		"system":  system,
		"history": history,
	}
}
