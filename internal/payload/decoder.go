package payload

import (
	"encoding/json"
	"strconv"
)

// Decode walks a webhook envelope and extracts every well-formed message, in
// input order. It never fails: a wrong type or missing key at any nesting
// level drops that branch and the walk continues. Deliveries that carry only
// status receipts produce an empty slice.
func Decode(envelope map[string]any) []Message {
	var messages []Message

	for _, entry := range asList(envelope["entry"]) {
		entryMap, ok := asMap(entry)
		if !ok {
			continue
		}
		for _, change := range asList(entryMap["changes"]) {
			changeMap, ok := asMap(change)
			if !ok {
				continue
			}
			value, ok := asMap(changeMap["value"])
			if !ok {
				continue
			}
			for _, raw := range asList(value["messages"]) {
				rawMap, ok := asMap(raw)
				if !ok {
					continue
				}
				if msg, ok := decodeMessage(rawMap); ok {
					messages = append(messages, msg)
				}
			}
		}
	}

	return messages
}

// decodeMessage extracts one message. The core fields are mandatory: if any
// is missing or mistyped the whole message is dropped, not just the field.
func decodeMessage(raw map[string]any) (Message, bool) {
	msgType, ok := asString(raw["type"])
	if !ok {
		return Message{}, false
	}
	from, ok := asString(raw["from"])
	if !ok {
		return Message{}, false
	}
	id, ok := asString(raw["id"])
	if !ok {
		return Message{}, false
	}
	timestamp, ok := asString(raw["timestamp"])
	if !ok {
		return Message{}, false
	}

	msg := Message{
		From:      from,
		ID:        id,
		Timestamp: timestamp,
		Type:      msgType,
	}

	switch msgType {
	case "text":
		if text, ok := asMap(raw["text"]); ok {
			if body, ok := asString(text["body"]); ok {
				msg.Text = &TextContent{Body: body}
			}
		}

	case "image", "video", "document", "audio":
		if media, ok := asMap(raw[msgType]); ok {
			content := MediaContent{}
			if mediaID, ok := asString(media["id"]); ok {
				content.ID = mediaID
			}
			if mime, ok := asString(media["mime_type"]); ok {
				content.MimeType = mime
			}
			if content != (MediaContent{}) {
				msg.Media = &content
			}
		}

	case "location":
		if loc, ok := asMap(raw["location"]); ok {
			msg.Location = decodeLocation(loc)
		}

	case "interactive":
		if interactive, ok := asMap(raw["interactive"]); ok {
			msg.Interactive = decodeInteractive(interactive)
		}
	}

	return msg, true
}

// decodeLocation requires both coordinates; a location without them yields no
// variant and the message keeps its base fields only.
func decodeLocation(loc map[string]any) *LocationContent {
	lat, ok := numberString(loc["latitude"])
	if !ok {
		return nil
	}
	lon, ok := numberString(loc["longitude"])
	if !ok {
		return nil
	}

	content := &LocationContent{Latitude: lat, Longitude: lon}
	if name, ok := asString(loc["name"]); ok {
		content.Name = name
	}
	if address, ok := asString(loc["address"]); ok {
		content.Address = address
	}
	return content
}

func decodeInteractive(interactive map[string]any) *InteractiveContent {
	subType, ok := asString(interactive["type"])
	if !ok {
		return nil
	}

	content := &InteractiveContent{Type: subType}

	switch subType {
	case InteractiveButtonReply:
		if reply, ok := asMap(interactive["button_reply"]); ok {
			if id, ok := asString(reply["id"]); ok {
				content.ButtonID = id
			}
			if title, ok := asString(reply["title"]); ok {
				content.ButtonTitle = title
			}
		}
	case InteractiveListReply:
		if reply, ok := asMap(interactive["list_reply"]); ok {
			if id, ok := asString(reply["id"]); ok {
				content.ListID = id
			}
			if title, ok := asString(reply["title"]); ok {
				content.ListTitle = title
			}
			if desc, ok := asString(reply["description"]); ok {
				content.ListDescription = desc
			}
		}
	}
	// Unknown sub-types keep the tag only.

	return content
}

// asMap, asList, asString and numberString are the decoder's presence checks:
// each returns the value only when it is present and well-typed.

func asMap(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}

func asList(v any) []any {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	return list
}

func asString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

// numberString accepts integer and floating JSON numbers and stringifies
// them without losing precision.
func numberString(v any) (string, bool) {
	switch n := v.(type) {
	case float64:
		return strconv.FormatFloat(n, 'f', -1, 64), true
	case json.Number:
		return n.String(), true
	case int:
		return strconv.Itoa(n), true
	case int64:
		return strconv.FormatInt(n, 10), true
	default:
		return "", false
	}
}
