// Package tandem is the orchestration core of a conversational agent.
//
// A [Channel] owns one conversation. It never blocks on background work:
// when the model wants to think it spawns a [Branch], a fork of the
// conversation that runs one bounded turn and returns a conclusion; when it
// wants to act it spawns a [Worker], an isolated process with its own
// tools. Results come back as [ProcessEvent]s on the shared [EventBus],
// are tracked in the channel's [StatusBlock], and retrigger a channel turn
// so the model can tell the user what happened.
//
// # Quick Start
//
//	bus := tandem.NewEventBus()
//	deps := tandem.AgentDeps{
//		AgentID: "main",
//		Models:  tandem.ModelRouting{Default: tandem.WithRetry(anthropic.New(apiKey, model))},
//		Bus:     bus,
//	}
//	responses := make(chan tandem.OutboundResponse, 16)
//	ch, err := tandem.NewChannel("telegram:42", deps, responses)
//	if err != nil {
//		return err
//	}
//	go ch.Run(ctx)
//
//	err = ch.Submit(ctx, tandem.InboundMessage{
//		ConversationID: "telegram:42",
//		Content:        tandem.MessageContent{Text: "hi"},
//	})
//
// # Core Contracts
//
//   - [Provider]: LLM backend with tool calling
//   - [Tool]: pluggable capability, served per process by a [ToolServer]
//   - [Messenger]: chat platform adapter, inbound feed plus outbound responses
//   - [ConversationLogger] and [MessageStore]: conversation persistence
//   - [AttachmentResolver]: turns attachments into model-readable content
//   - [SkillSet]: named instruction bundles for workers
//
// # Included Implementations
//
// Providers: provider/anthropic, provider/openai (and compatible APIs).
// Storage: store/sqlite (local), store/postgres.
// Messaging: messaging/telegram, messaging/discord.
// Worker tools: tools/shell, tools/file, tools/http, plus the skill tools.
//
// See cmd/tandem for the complete wiring.
package tandem
