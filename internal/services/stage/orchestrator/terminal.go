package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"unicode/utf8"

	"github.com/louisbranch/yesand/internal/platform/timeouts"
	"github.com/louisbranch/yesand/internal/services/stage/domain/orchestration"
	"github.com/louisbranch/yesand/internal/services/stage/llm"
	"github.com/louisbranch/yesand/internal/services/stage/storage"
	"golang.org/x/sync/errgroup"
)

const maxTitleRunes = 80

// maybeTerminal fires the curtain side effects once per scene. The flag is
// persisted before any effect starts.
func (o *Orchestrator) maybeTerminal() {
	if !o.state.TerminalDue() {
		return
	}
	o.state.MarkTerminalFired()
	o.saveState()
	if o.states == nil {
		return
	}
	durable := o.state.Snapshot()
	o.work.Add(1)
	go func() {
		defer o.work.Done()
		o.runTerminal(durable)
	}()
}

// runTerminal archives the scene, then writes a critique and a title.
// Failures are logged and dropped.
func (o *Orchestrator) runTerminal(durable orchestration.Durable) {
	ctx, cancel := context.WithTimeout(o.ctx, timeouts.Background)
	defer cancel()

	objects, err := o.scene.Snapshot(ctx)
	if err != nil {
		log.Printf("orchestrator: archive snapshot failed scene=%q err=%v", o.sceneID, err)
		return
	}
	now := o.clock.Now()
	archive := storage.Archive{
		SceneID:    o.sceneID,
		Title:      durable.Title,
		Objects:    objects,
		Transcript: durable.Transcript,
		HumanTurns: durable.HumanTurns,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := o.states.PutArchive(ctx, archive); err != nil && !errors.Is(err, storage.ErrAlreadyExists) {
		log.Printf("orchestrator: archive failed scene=%q err=%v", o.sceneID, err)
		return
	}

	transcript := renderTranscript(durable.Transcript)
	var g errgroup.Group
	g.Go(func() error {
		critique, err := o.summarize(ctx, critiquePrompt, transcript)
		if err != nil {
			return fmt.Errorf("critique: %w", err)
		}
		return o.states.SetArchiveCritique(ctx, o.sceneID, critique)
	})
	g.Go(func() error {
		title, err := o.summarize(ctx, titlePrompt, transcript)
		if err != nil {
			return fmt.Errorf("title: %w", err)
		}
		title = cleanTitle(title)
		if title == "" {
			return nil
		}
		if err := o.states.SetArchiveTitle(ctx, o.sceneID, title); err != nil {
			return err
		}
		o.box.push(func() {
			o.state.Title = title
			o.saveState()
		})
		return nil
	})
	if err := g.Wait(); err != nil {
		log.Printf("orchestrator: terminal effects failed scene=%q err=%v", o.sceneID, err)
	}
}

const (
	critiquePrompt = "You are a warm improv coach. In three sentences, note what worked in this scene and one thing to try next time."
	titlePrompt    = "Give this improv scene a short, punchy title. Reply with the title only."
)

func (o *Orchestrator) summarize(ctx context.Context, instruction, transcript string) (string, error) {
	resp, err := o.gen.Generate(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: instruction},
			{Role: llm.RoleUser, Content: transcript},
		},
		MaxTokens: 300,
	})
	if err != nil {
		return "", err
	}
	if tokens := resp.Usage.Total(); tokens > 0 {
		o.box.push(func() { o.state.AddSpend(tokens) })
	}
	return strings.TrimSpace(resp.Content), nil
}

func renderTranscript(msgs []orchestration.Message) string {
	var b strings.Builder
	for _, msg := range msgs {
		if msg.Text == "" {
			continue
		}
		who := msg.Author
		if msg.Persona != "" {
			who = msg.Persona
		}
		fmt.Fprintf(&b, "%s: %s\n", who, msg.Text)
	}
	if b.Len() == 0 {
		return "(The scene was told entirely on the canvas.)"
	}
	return b.String()
}

func cleanTitle(title string) string {
	title = strings.TrimSpace(strings.SplitN(title, "\n", 2)[0])
	title = strings.Trim(title, "\"'*# ")
	if utf8.RuneCountInString(title) > maxTitleRunes {
		title = string([]rune(title)[:maxTitleRunes])
	}
	return strings.TrimSpace(title)
}
