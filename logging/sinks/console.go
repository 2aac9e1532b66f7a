package sinks

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"sort"
	"strings"

	"citynav/logging"
)

// ConsoleSink writes one operator-readable line per event:
//
//	[warn] navigation.queue_backlog tick=120 engine pending=40 threshold=32
//
// Object payloads are flattened into sorted key=value pairs, followed by the
// event's Extra fields.
type ConsoleSink struct {
	logger *log.Logger
}

func NewConsoleSink(w io.Writer) *ConsoleSink {
	return &ConsoleSink{logger: log.New(w, "", log.LstdFlags)}
}

func (s *ConsoleSink) Write(event logging.Event) error {
	if s.logger == nil {
		return nil
	}
	var line strings.Builder
	fmt.Fprintf(&line, "[%s] %s tick=%d %s", event.Severity, event.Type, event.Tick, formatEntity(event.Actor))
	for _, target := range event.Targets {
		line.WriteString(" ->")
		line.WriteString(formatEntity(target))
	}
	writePairs(&line, payloadFields(event.Payload))
	writePairs(&line, event.Extra)
	if event.TraceID != "" {
		fmt.Fprintf(&line, " trace=%s", event.TraceID)
	}
	s.logger.Print(line.String())
	return nil
}

func (s *ConsoleSink) Close(context.Context) error {
	return nil
}

func formatEntity(ref logging.EntityRef) string {
	switch {
	case ref.ID == "":
		return string(ref.Kind)
	case ref.Kind == "":
		return ref.ID
	default:
		return string(ref.Kind) + ":" + ref.ID
	}
}

// payloadFields decodes payload into a flat map. Non-object payloads land
// under "payload".
func payloadFields(payload any) map[string]any {
	if payload == nil {
		return nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return map[string]any{"payload": fmt.Sprint(payload)}
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return map[string]any{"payload": string(data)}
	}
	return fields
}

func writePairs(line *strings.Builder, fields map[string]any) {
	if len(fields) == 0 {
		return
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(line, " %s=%s", k, formatValue(fields[k]))
	}
}

func formatValue(v any) string {
	switch value := v.(type) {
	case string:
		if strings.ContainsAny(value, " =") {
			return fmt.Sprintf("%q", value)
		}
		return value
	case map[string]any, []any:
		data, err := json.Marshal(value)
		if err != nil {
			return fmt.Sprint(value)
		}
		return string(data)
	default:
		return fmt.Sprint(value)
	}
}
