package logging

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldAudioSource is the key for canonical audio source identifiers.
	FieldAudioSource = "audio_source"
	// FieldProfile is the key for analysis profile identifiers.
	FieldProfile = "profile"
	// FieldDescriptor is the key for a single descriptor key.
	FieldDescriptor = "descriptor"
	// FieldElement is the key for scene element identifiers.
	FieldElement = "element"
	// FieldTrack is the key for logical timeline track refs.
	FieldTrack = "track"
	// FieldJobID is the key for regeneration job identifiers.
	FieldJobID = "job_id"
	// FieldTrigger is the key for what initiated a job (manual or auto).
	FieldTrigger = "trigger"
	// FieldEventType tags log records with a stable machine-readable event name.
	FieldEventType = "event_type"
	// FieldErrorHint suggests the next step when an operation degrades.
	FieldErrorHint = "error_hint"
	// FieldImpact states the user-facing consequence of a warning.
	FieldImpact = "impact"
)
