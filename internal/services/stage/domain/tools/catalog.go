package tools

import "context"

// NewRegistry returns the registry holding every stage tool.
func NewRegistry() *Registry {
	r := &Registry{entries: make(map[string]*entry)}

	register(r, "create_note", "Place a sticky note with text on the board.", createNote)
	register(r, "create_shape", "Place a rect, circle, frame, or label. Frames become the container for later placements this turn.", createShape)
	register(r, "create_character", "Put a named character on stage.", createCharacter)
	register(r, "create_connector", "Draw a connector between two objects.", createConnector)
	register(r, "move_object", "Move an object. The position is adjusted to avoid overlaps.", moveObject)
	register(r, "resize_object", "Resize an object.", resizeObject)
	register(r, "edit_text", "Replace the text of an object.", editText)
	register(r, "recolor", "Change an object's color.", recolor)
	register(r, "read_board", "List every object currently on the board.", readBoard)
	register(r, "delete_object", "Remove an object. Connectors to it stay but lose that endpoint.", deleteObject)
	register(r, "generate_image", "Generate an image from a prompt and place it on the board.", generateImage)
	register(r, "highlight", "Briefly highlight an object.", highlight)
	register(r, "set_relationship", "Record how two characters relate.", setRelationship)
	register(r, "advance_phase", "Advance the scene to a later dramatic phase.", advancePhase)
	register(r, "animate_sequence", "Play a short animation across objects.", animateSequence)
	register(r, "spotlight", "Put a spotlight on one object.", spotlight)
	register(r, "blackout", "Black out the stage briefly.", blackout)
	register(r, "play_sound", "Play a sound cue for everyone.", playSound)
	register(r, "set_mood", "Change the stage lighting mood.", setMood)
	register(r, "poll_audience", "Ask the audience a multiple-choice question.", pollAudience)
	register(r, batchTool, "Run up to 20 tool calls in order. Failures are reported per op.", func(ctx context.Context, env *Env, in BatchInput) (any, error) {
		return r.Batch(ctx, env, in.Ops)
	})

	return r
}
