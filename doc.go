/*
Package palette is a node suggestion engine for AI-assisted diagram editors.

It fans a topic out to a set of streaming LLM providers in parallel, dedups
their candidates per tab with first-writer-wins semantics, and walks the user
through a declarative stage graph (dimensions, categories, children, ...)
until the diagram's node set is selected. Sessions persist through a
pluggable store (in-memory or Redis) and expire on a TTL.

# Concept

Each diagram type (tree, flow, mind map, double bubble, ...) declares its
workflow as an ordered stage table. The engine interprets the table: it never
hardcodes per-diagram behavior. Generation happens in batches; every batch
races all configured providers against one shared dedup index, so the tab
fills with the union of the fastest distinct answers. Newly created tabs are
"catapulted": their first batch is fired speculatively in the background so
suggestions are already waiting when the user clicks in.

# Usage

	package main

	import (
		"context"
		"fmt"
		"log"

		palette "github.com/mindspring/palette"
		"github.com/mindspring/palette/pkg/adapters/llm"
		"github.com/mindspring/palette/pkg/adapters/memory"
		"github.com/mindspring/palette/pkg/domain"
		"github.com/mindspring/palette/pkg/ports"
	)

	func main() {
		store := memory.NewStore()
		providers := []ports.Provider{
			llm.NewClient("deepseek", "https://api.deepseek.com/v1", apiKey, "deepseek-chat"),
		}
		engine := palette.New(store, providers)
		defer engine.Close()

		ctx := context.Background()
		s, err := engine.Start(ctx, palette.StartRequest{DiagramType: "tree", Topic: "Animals"})
		if err != nil {
			log.Fatal(err)
		}

		events, err := engine.NextBatch(ctx, s.ID, "dimensions")
		if err != nil {
			log.Fatal(err)
		}
		for ev := range events {
			if ev.Type == domain.EventNodeAccepted {
				fmt.Println(ev.Node.Text)
			}
		}
	}

The five operations are Start, NextBatch, Advance, Finish, and Cancel.
Advance records the user's selection, locks the tab, spawns child tabs, and
moves to the next stage; Finish returns the union of all selections and
destroys the session.
*/
package palette
