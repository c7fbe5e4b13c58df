// Package settings holds the user settings record: load on first use,
// merge-and-persist, broadcast on change.
package settings

// Settings is the flat settings record persisted as JSON.
type Settings struct {
	ToggleShortcut string `json:"toggleShortcut"`
	STTShortcut    string `json:"sttShortcut"`
	STTEnginePath  string `json:"sttEnginePath"` // override for the transcription engine
	STTModel       string `json:"sttModel"`
	STTDevice      string `json:"sttDevice"`
	STTComputeType string `json:"sttComputeType"`
	STTLanguage    string `json:"sttLanguage"` // empty lets the engine detect
	STTBatchSize   int    `json:"sttBatchSize"`
	AutoExecute    bool   `json:"autoExecute"`
	BackendModel   string `json:"backendModel"` // default model for /execute
}

// Patch is a partial update; nil fields are left unchanged.
type Patch struct {
	ToggleShortcut *string `json:"toggleShortcut,omitempty"`
	STTShortcut    *string `json:"sttShortcut,omitempty"`
	STTEnginePath  *string `json:"sttEnginePath,omitempty"`
	STTModel       *string `json:"sttModel,omitempty"`
	STTDevice      *string `json:"sttDevice,omitempty"`
	STTComputeType *string `json:"sttComputeType,omitempty"`
	STTLanguage    *string `json:"sttLanguage,omitempty"`
	STTBatchSize   *int    `json:"sttBatchSize,omitempty"`
	AutoExecute    *bool   `json:"autoExecute,omitempty"`
	BackendModel   *string `json:"backendModel,omitempty"`
}

// Defaults returns the settings for a platform (runtime.GOOS value).
func Defaults(goos string) Settings {
	mod := "Control"
	if goos == "darwin" {
		mod = "Command"
	}
	return Settings{
		ToggleShortcut: mod + "+Shift+Space",
		STTShortcut:    mod + "+Shift+S",
		STTModel:       "small",
		STTDevice:      "cpu",
		STTComputeType: "int8",
		STTBatchSize:   8,
	}
}

// Apply returns s with every non-nil field of p applied.
func (s Settings) Apply(p Patch) Settings {
	set(&s.ToggleShortcut, p.ToggleShortcut)
	set(&s.STTShortcut, p.STTShortcut)
	set(&s.STTEnginePath, p.STTEnginePath)
	set(&s.STTModel, p.STTModel)
	set(&s.STTDevice, p.STTDevice)
	set(&s.STTComputeType, p.STTComputeType)
	set(&s.STTLanguage, p.STTLanguage)
	set(&s.STTBatchSize, p.STTBatchSize)
	set(&s.AutoExecute, p.AutoExecute)
	set(&s.BackendModel, p.BackendModel)
	return s
}

// Empty reports whether p changes nothing.
func (p Patch) Empty() bool {
	return p == Patch{}
}

func set[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}
