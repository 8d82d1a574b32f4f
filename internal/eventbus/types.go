package eventbus

import "time"

// Topic identifies a logical channel on the bus.
type Topic string

// Editor and language service topics.
const (
	TopicEditorValueChanged    Topic = "editor.value_changed"
	TopicEditorInitDone        Topic = "editor.init_done"
	TopicEditorLog             Topic = "editor.log"
	TopicEditorMarkers         Topic = "editor.markers"
	TopicEditorLayout          Topic = "editor.layout"
	TopicEditorModel           Topic = "editor.model"
	TopicLangServiceRegistered Topic = "langservice.registered"
	TopicLangServiceRefresh    Topic = "langservice.refresh"
)

// AllTopics lists every topic published by the bridge, in a stable order.
var AllTopics = []Topic{
	TopicEditorValueChanged,
	TopicEditorInitDone,
	TopicEditorLog,
	TopicEditorMarkers,
	TopicEditorLayout,
	TopicEditorModel,
	TopicLangServiceRegistered,
	TopicLangServiceRefresh,
}

// Source describes which component produced an event.
type Source string

const (
	SourceSession     Source = "session"
	SourceLayout      Source = "layout"
	SourceLangService Source = "langservice"
	SourceJSON        Source = "jsonlang"
	SourceConsole     Source = "console"
	SourceUnknown     Source = "unknown"
)

// Envelope wraps every message published on the bus.
type Envelope struct {
	Topic     Topic
	Timestamp time.Time
	Source    Source
	Seq       uint64 // assigned by the bus on publish
	Payload   any
}

// ValueChangedEvent is emitted once per content change of the primary model.
type ValueChangedEvent struct {
	URI     string `json:"uri"`
	Version int    `json:"version"`
	Text    string `json:"text"`
}

// InitDoneEvent is emitted after the editor (or diff editor) is constructed.
type InitDoneEvent struct {
	Mode   string `json:"mode"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// LogEvent mirrors a relayed console line.
type LogEvent struct {
	Severity string `json:"severity"`
	Message  string `json:"message"`
}

// MarkersEvent reports a wholesale marker replacement.
type MarkersEvent struct {
	URI   string `json:"uri"`
	Owner string `json:"owner"`
	Count int    `json:"count"`
}

// LayoutEvent reports an applied layout.
type LayoutEvent struct {
	Trigger string `json:"trigger"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	Targets int    `json:"targets"`
}

// ModelEvent reports an active model replacement.
type ModelEvent struct {
	URI         string `json:"uri"`
	Language    string `json:"language"`
	PreviousURI string `json:"previousUri,omitempty"`
	Reason      string `json:"reason"`
}

// RegistrationEvent reports a language service registration call.
type RegistrationEvent struct {
	LanguageID string `json:"languageId"`
	ContextID  string `json:"contextId"`
	Created    bool   `json:"created"`
}

// RefreshOutcome classifies the end of a diagnostics refresh.
type RefreshOutcome string

const (
	RefreshApplied RefreshOutcome = "applied"
	RefreshStale   RefreshOutcome = "stale"
	RefreshFailed  RefreshOutcome = "failed"
)

// RefreshEvent reports the result of one diagnostics refresh.
type RefreshEvent struct {
	LanguageID string         `json:"languageId"`
	URI        string         `json:"uri"`
	Version    int            `json:"version"`
	Generation uint64         `json:"generation"`
	Outcome    RefreshOutcome `json:"outcome"`
	Count      int            `json:"count"`
}

// Typed topic descriptors.
var (
	Editor = struct {
		ValueChanged TopicDef[ValueChangedEvent]
		InitDone     TopicDef[InitDoneEvent]
		Log          TopicDef[LogEvent]
		Markers      TopicDef[MarkersEvent]
		Layout       TopicDef[LayoutEvent]
		Model        TopicDef[ModelEvent]
	}{
		ValueChanged: NewTopicDef[ValueChangedEvent](TopicEditorValueChanged),
		InitDone:     NewTopicDef[InitDoneEvent](TopicEditorInitDone),
		Log:          NewTopicDef[LogEvent](TopicEditorLog),
		Markers:      NewTopicDef[MarkersEvent](TopicEditorMarkers),
		Layout:       NewTopicDef[LayoutEvent](TopicEditorLayout),
		Model:        NewTopicDef[ModelEvent](TopicEditorModel),
	}

	LangService = struct {
		Registered TopicDef[RegistrationEvent]
		Refresh    TopicDef[RefreshEvent]
	}{
		Registered: NewTopicDef[RegistrationEvent](TopicLangServiceRegistered),
		Refresh:    NewTopicDef[RefreshEvent](TopicLangServiceRefresh),
	}
)
