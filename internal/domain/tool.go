package domain

// ToolType identifies the kind of audio transformation a job performs.
type ToolType string

const (
	ToolVocalRemover     ToolType = "vocal_remover"
	ToolPitchTempo       ToolType = "pitch_tempo"
	ToolConverter        ToolType = "converter"
	ToolSplitter         ToolType = "splitter"
	ToolKaraoke          ToolType = "karaoke"
	ToolNoiseReduction   ToolType = "noise_reduction"
	ToolVolumeNormalizer ToolType = "volume_normalizer"
	ToolEqualizer        ToolType = "equalizer"
	ToolRecorder         ToolType = "recorder"
	ToolCutterJoiner     ToolType = "cutter_joiner"
	ToolMetadataEditor   ToolType = "metadata_editor"
	ToolAudioReverse     ToolType = "audio_reverse"
	ToolFadeEffect       ToolType = "fade_effect"
)

var knownTools = map[ToolType]struct{}{
	ToolVocalRemover:     {},
	ToolPitchTempo:       {},
	ToolConverter:        {},
	ToolSplitter:         {},
	ToolKaraoke:          {},
	ToolNoiseReduction:   {},
	ToolVolumeNormalizer: {},
	ToolEqualizer:        {},
	ToolRecorder:         {},
	ToolCutterJoiner:     {},
	ToolMetadataEditor:   {},
	ToolAudioReverse:     {},
	ToolFadeEffect:       {},
}

// Valid reports whether t is a recognized tool type.
func (t ToolType) Valid() bool {
	_, ok := knownTools[t]
	return ok
}

// RequiresInput reports whether the tool needs at least one input file.
// The recorder produces audio from scratch; everything else transforms
// existing files.
func (t ToolType) RequiresInput() bool {
	return t != ToolRecorder
}
