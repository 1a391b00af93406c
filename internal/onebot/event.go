package onebot

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Event is one decoded OneBot v11 event relevant to the bot.
type Event struct {
	PostType    string
	MessageType string
	GroupID     int64
	UserID      int64
	SelfID      int64
	RawMessage  string
	Mentioned   bool
	Segments    []Segment
	Sender      Sender
	Time        int64
}

// Sender carries sender identity and group role (owner/admin/member).
type Sender struct {
	UserID   int64  `json:"-"`
	Nickname string `json:"nickname"`
	Card     string `json:"card"`
	Role     string `json:"role"`
}

// Segment is one typed message segment. Target is the mentioned account
// for "at" segments.
type Segment struct {
	Type   string
	Text   string
	Target string
}

// IsGroup reports whether the event is a group message event.
func (e *Event) IsGroup() bool {
	return e.PostType == "message" && e.MessageType == "group"
}

// IsPrivate reports whether the event is a private message event.
func (e *Event) IsPrivate() bool {
	return e.PostType == "message" && e.MessageType == "private"
}

// PlainText concatenates the plain-text segments of the message, skipping
// mentions and any other segment types.
func (e *Event) PlainText() string {
	var b strings.Builder
	for _, seg := range e.Segments {
		if seg.Type == "text" {
			b.WriteString(seg.Text)
		}
	}
	return strings.TrimSpace(b.String())
}

type rawEvent struct {
	PostType    string          `json:"post_type"`
	MessageType string          `json:"message_type"`
	UserID      json.RawMessage `json:"user_id"`
	GroupID     json.RawMessage `json:"group_id"`
	SelfID      json.RawMessage `json:"self_id"`
	RawMessage  string          `json:"raw_message"`
	Message     json.RawMessage `json:"message"`
	Sender      json.RawMessage `json:"sender"`
	Time        json.RawMessage `json:"time"`
	Echo        string          `json:"echo"`
}

type rawSender struct {
	UserID   json.RawMessage `json:"user_id"`
	Nickname string          `json:"nickname"`
	Card     string          `json:"card"`
	Role     string          `json:"role"`
}

func decodeEvent(raw *rawEvent) *Event {
	ev := &Event{
		PostType:    raw.PostType,
		MessageType: raw.MessageType,
		UserID:      jsonInt64(raw.UserID),
		GroupID:     jsonInt64(raw.GroupID),
		SelfID:      jsonInt64(raw.SelfID),
		RawMessage:  raw.RawMessage,
		Time:        jsonInt64(raw.Time),
	}

	if len(raw.Sender) > 0 {
		var s rawSender
		if err := json.Unmarshal(raw.Sender, &s); err == nil {
			ev.Sender = Sender{
				UserID:   jsonInt64(s.UserID),
				Nickname: s.Nickname,
				Card:     s.Card,
				Role:     s.Role,
			}
		}
	}
	if ev.Sender.UserID == 0 {
		ev.Sender.UserID = ev.UserID
	}

	ev.Segments = parseSegments(raw.Message, raw.RawMessage)
	ev.Mentioned = mentionsSelf(ev.Segments, ev.SelfID)

	return ev
}

func mentionsSelf(segments []Segment, selfID int64) bool {
	if selfID <= 0 {
		return false
	}
	self := strconv.FormatInt(selfID, 10)
	for _, seg := range segments {
		if seg.Type == "at" && seg.Target == self {
			return true
		}
	}
	return false
}

var cqPattern = regexp.MustCompile(`\[CQ:([a-zA-Z0-9_]+)(?:,([^\]]*))?\]`)

// parseSegments decodes a OneBot message into typed segments. The message
// field is either a segment array or a CQ-code string, depending on how the
// host runtime is configured; raw_message is the fallback for both.
func parseSegments(raw json.RawMessage, rawMessage string) []Segment {
	if len(raw) > 0 {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return parseCQSegments(s)
		}

		var arr []struct {
			Type string                 `json:"type"`
			Data map[string]interface{} `json:"data"`
		}
		if err := json.Unmarshal(raw, &arr); err == nil {
			segments := make([]Segment, 0, len(arr))
			for _, seg := range arr {
				switch seg.Type {
				case "text":
					text, _ := seg.Data["text"].(string)
					segments = append(segments, Segment{Type: "text", Text: text})
				case "at":
					segments = append(segments, Segment{Type: "at", Target: dataString(seg.Data["qq"])})
				default:
					segments = append(segments, Segment{Type: seg.Type})
				}
			}
			return segments
		}
	}

	if strings.TrimSpace(rawMessage) == "" {
		return nil
	}
	return parseCQSegments(rawMessage)
}

func parseCQSegments(content string) []Segment {
	matches := cqPattern.FindAllStringSubmatchIndex(content, -1)
	if len(matches) == 0 {
		return []Segment{{Type: "text", Text: content}}
	}

	segments := make([]Segment, 0, len(matches)+1)
	cursor := 0
	for _, m := range matches {
		if m[0] > cursor {
			segments = append(segments, Segment{Type: "text", Text: content[cursor:m[0]]})
		}

		segType := content[m[2]:m[3]]
		params := ""
		if m[4] >= 0 && m[5] >= 0 {
			params = content[m[4]:m[5]]
		}

		switch segType {
		case "at":
			segments = append(segments, Segment{Type: "at", Target: cqParam(params, "qq")})
		default:
			segments = append(segments, Segment{Type: segType})
		}
		cursor = m[1]
	}
	if cursor < len(content) {
		segments = append(segments, Segment{Type: "text", Text: content[cursor:]})
	}
	return segments
}

func cqParam(params, key string) string {
	for _, item := range strings.Split(params, ",") {
		kv := strings.SplitN(item, "=", 2)
		if len(kv) == 2 && strings.TrimSpace(kv[0]) == key {
			return strings.TrimSpace(kv[1])
		}
	}
	return ""
}

func dataString(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatInt(int64(t), 10)
	default:
		return strings.TrimSpace(fmt.Sprintf("%v", t))
	}
}

func jsonInt64(raw json.RawMessage) int64 {
	if len(raw) == 0 {
		return 0
	}
	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if v, err := strconv.ParseInt(s, 10, 64); err == nil {
			return v
		}
	}
	return 0
}
