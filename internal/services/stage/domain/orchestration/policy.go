package orchestration

import "time"

// Policy holds the tunable limits and windows for one scene.
type Policy struct {
	TurnBudget         int
	SpendCap           int64
	MaxAutonomous      int
	MinTerminalTurns   int
	TranscriptCap      int
	RelationshipCap    int
	CanvasThreshold    float64
	CanvasCooldown     time.Duration
	RecentChatWindow   time.Duration
	LowLatencyCooldown time.Duration
	WaveMinReactions   int
}

// DefaultPolicy returns the stock scene limits.
func DefaultPolicy() Policy {
	return Policy{
		TurnBudget:         20,
		SpendCap:           250_000,
		MaxAutonomous:      3,
		MinTerminalTurns:   4,
		TranscriptCap:      40,
		RelationshipCap:    12,
		CanvasThreshold:    3.0,
		CanvasCooldown:     30 * time.Second,
		RecentChatWindow:   12 * time.Second,
		LowLatencyCooldown: 20 * time.Second,
		WaveMinReactions:   3,
	}
}

func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.TurnBudget <= 0 {
		p.TurnBudget = d.TurnBudget
	}
	if p.SpendCap <= 0 {
		p.SpendCap = d.SpendCap
	}
	if p.MaxAutonomous <= 0 {
		p.MaxAutonomous = d.MaxAutonomous
	}
	if p.MinTerminalTurns <= 0 {
		p.MinTerminalTurns = d.MinTerminalTurns
	}
	if p.TranscriptCap <= 0 {
		p.TranscriptCap = d.TranscriptCap
	}
	if p.RelationshipCap <= 0 {
		p.RelationshipCap = d.RelationshipCap
	}
	if p.CanvasThreshold <= 0 {
		p.CanvasThreshold = d.CanvasThreshold
	}
	if p.CanvasCooldown <= 0 {
		p.CanvasCooldown = d.CanvasCooldown
	}
	if p.RecentChatWindow <= 0 {
		p.RecentChatWindow = d.RecentChatWindow
	}
	if p.LowLatencyCooldown <= 0 {
		p.LowLatencyCooldown = d.LowLatencyCooldown
	}
	if p.WaveMinReactions <= 0 {
		p.WaveMinReactions = d.WaveMinReactions
	}
	return p
}
