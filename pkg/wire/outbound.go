package wire

import "encoding/json"

// Outbound frame shapes. Marshal failures cannot occur for these types, so
// constructors return the encoded frame directly.

type channelMessage struct {
	Type    string `json:"type"`
	Name    string `json:"name"`
	Content any    `json:"content"`
}

type errorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type loginStatus struct {
	Type   string `json:"type"`
	Status string `json:"status"`
}

// ChannelMessage wraps channel traffic for delivery to a subscriber.
func ChannelMessage(name string, content any) []byte {
	return mustMarshal(channelMessage{Type: "channel-message", Name: name, Content: content})
}

// Error builds the client-visible error frame for a soft or hard failure.
func Error(message string) []byte {
	return mustMarshal(errorMessage{Type: "error", Message: message})
}

// LoginOK acknowledges a successful login.
func LoginOK() []byte {
	return mustMarshal(loginStatus{Type: TypeLogin, Status: "ok"})
}

// Event contents broadcast through channels.

type InsertEvent struct {
	Type  string         `json:"type"`
	Index int            `json:"index"`
	Attrs map[string]any `json:"attrs"`
}

type DeleteEvent struct {
	Type  string `json:"type"`
	Index int    `json:"index"`
}

type UpdateEvent struct {
	Type  string         `json:"type"`
	Index int            `json:"index"`
	Attrs map[string]any `json:"attrs"`
}

type ListAdded struct {
	Type string `json:"type"`
	Name string `json:"name"`
	ID   string `json:"id"`
}

type ListRenamed struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	Name string `json:"name"`
}

type ListDeleted struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

type DestroyNotice struct {
	Type string `json:"type"`
}

func NewInsert(index int, attrs map[string]any) InsertEvent {
	return InsertEvent{Type: TypeInsert, Index: index, Attrs: attrs}
}

func NewDelete(index int) DeleteEvent {
	return DeleteEvent{Type: TypeDelete, Index: index}
}

func NewUpdate(index int, attrs map[string]any) UpdateEvent {
	return UpdateEvent{Type: TypeUpdate, Index: index, Attrs: attrs}
}

func NewListAdded(name, id string) ListAdded {
	return ListAdded{Type: "list-added", Name: name, ID: id}
}

func NewListRenamed(id, name string) ListRenamed {
	return ListRenamed{Type: "list-rename", ID: id, Name: name}
}

func NewListDeleted(id string) ListDeleted {
	return ListDeleted{Type: "list-delete", ID: id}
}

func NewDestroy() DestroyNotice {
	return DestroyNotice{Type: "destroy"}
}

func mustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
