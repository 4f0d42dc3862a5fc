// Package settinggen builds the settings of a novel (characters, places,
// factions, lore) incrementally with language models.
//
// A session turns one prompt into a tree of setting nodes. In text mode a
// model streams prose in a light three-line convention; batches of that prose
// are handed to a tool-calling model while the stream is still running, so
// nodes appear within seconds. In structured mode the model answers a few
// JSON rounds instead. Either way every accepted node is validated against
// the chosen strategy and published as an event.
//
// # Quick Start
//
//	package main
//
//	import (
//		"context"
//		"fmt"
//
//		"github.com/longfeng22/MaliangAINovalWriter-sub001/engine"
//		"github.com/longfeng22/MaliangAINovalWriter-sub001/setting"
//		"github.com/longfeng22/MaliangAINovalWriter-sub001/store"
//		"github.com/longfeng22/MaliangAINovalWriter-sub001/store/memory"
//		"github.com/tmc/langchaingo/llms/openai"
//	)
//
//	func main() {
//		llm, _ := openai.New()
//		eng := engine.New(engine.Options{
//			TextModel: llm,
//			ToolModel: llm,
//			Persister: store.NewPersister(memory.New(), nil),
//		})
//
//		ctx := context.Background()
//		id, _ := eng.StartTextStreamingSession(ctx, engine.StartRequest{
//			UserID: "u1",
//			Prompt: "a desert empire ruled by clockwork priests",
//		})
//		events, stop, _ := eng.Subscribe(ctx, id)
//		defer stop()
//		for ev := range events {
//			if n, ok := ev.(setting.NodeCreated); ok {
//				fmt.Println(n.ParentPath, n.Node.Name)
//			}
//		}
//	}
//
// # Packages
//
//   - setting: nodes, the node graph, sessions and events
//   - validate: strategies and node/output validation
//   - events: the replaying per-session event bus
//   - gate: in-flight task tracking and finalization
//   - session: per-session state and the shared node-apply path
//   - orchestrator: the text_to_settings tool loop
//   - textphase: streaming rounds and batching
//   - structured: JSON-round generation
//   - fallback: local text-to-node parsing
//   - engine: the public operations
//   - store: snapshot persistence (memory, file, sqlite, postgres, redis)
//   - render: Markdown and HTML outlines
//   - config: YAML, .env and environment configuration
//   - log: leveled logging with a golog adapter
package settinggen
