// Package sanitize cleans model output before it reaches the stage:
// tool-input repair, leaked markup removal, moderation, persona tags, and
// game-mode shaping.
package sanitize
