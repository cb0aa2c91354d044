package query

import (
	"strings"

	"github.com/tsquery/tsquery/pkg/querystr"
)

// EventKind classifies a notification by its first token.
type EventKind string

// Notifications sent by ServerQuery and ClientQuery.
const (
	EventServerEdited                   EventKind = "notifyserveredited"
	EventChannelCreated                 EventKind = "notifychannelcreated"
	EventChannelEdited                  EventKind = "notifychanneledited"
	EventChannelDescriptionChanged      EventKind = "notifychanneldescriptionchanged"
	EventChannelPasswordChanged         EventKind = "notifychannelpasswordchanged"
	EventChannelMoved                   EventKind = "notifychannelmoved"
	EventChannelDeleted                 EventKind = "notifychanneldeleted"
	EventClientEnterView                EventKind = "notifycliententerview"
	EventClientLeftView                 EventKind = "notifyclientleftview"
	EventClientMoved                    EventKind = "notifyclientmoved"
	EventTextMessage                    EventKind = "notifytextmessage"
	EventTalkStatusChange               EventKind = "notifytalkstatuschange"
	EventMessage                        EventKind = "notifymessage"
	EventMessageList                    EventKind = "notifymessagelist"
	EventComplainList                   EventKind = "notifycomplainlist"
	EventBanList                        EventKind = "notifybanlist"
	EventClientPoke                     EventKind = "notifyclientpoke"
	EventClientChatClosed               EventKind = "notifyclientchatclosed"
	EventClientChatComposing            EventKind = "notifyclientchatcomposing"
	EventClientUpdated                  EventKind = "notifyclientupdated"
	EventClientIDs                      EventKind = "notifyclientids"
	EventClientDBIDFromUID              EventKind = "notifyclientdbidfromuid"
	EventClientNameFromUID              EventKind = "notifyclientnamefromuid"
	EventClientNameFromDBID             EventKind = "notifyclientnamefromdbid"
	EventClientUIDFromClid              EventKind = "notifyclientuidfromclid"
	EventConnectionInfo                 EventKind = "notifyconnectioninfo"
	EventServerUpdated                  EventKind = "notifyserverupdated"
	EventCurrentServerConnectionChanged EventKind = "notifycurrentserverconnectionchanged"
	EventConnectStatusChange            EventKind = "notifyconnectstatuschange"
	EventTokenUsed                      EventKind = "notifytokenused"
)

var eventKinds = map[EventKind]struct{}{}

func init() {
	for _, k := range []EventKind{
		EventServerEdited, EventChannelCreated, EventChannelEdited,
		EventChannelDescriptionChanged, EventChannelPasswordChanged,
		EventChannelMoved, EventChannelDeleted, EventClientEnterView,
		EventClientLeftView, EventClientMoved, EventTextMessage,
		EventTalkStatusChange, EventMessage, EventMessageList,
		EventComplainList, EventBanList, EventClientPoke,
		EventClientChatClosed, EventClientChatComposing, EventClientUpdated,
		EventClientIDs, EventClientDBIDFromUID, EventClientNameFromUID,
		EventClientNameFromDBID, EventClientUIDFromClid, EventConnectionInfo,
		EventServerUpdated, EventCurrentServerConnectionChanged,
		EventConnectStatusChange, EventTokenUsed,
	} {
		eventKinds[k] = struct{}{}
	}
}

// Known reports whether k is a recognized notification kind.
func (k EventKind) Known() bool {
	_, ok := eventKinds[k]
	return ok
}

// NotifyPrefix starts every notification line.
const NotifyPrefix = "notify"

// Event is a parsed notification.
type Event struct {
	Kind EventKind
	Data []querystr.Map
	Raw  string
}

// ParseEvent parses a notification line. The kind must be known.
func ParseEvent(line string) (*Event, error) {
	head, payload, _ := strings.Cut(line, " ")
	kind := EventKind(head)
	if !kind.Known() {
		return nil, &UnknownEventKindError{Kind: head, Line: line}
	}
	ev := &Event{Kind: kind, Raw: line}
	if payload = strings.TrimSpace(payload); payload != "" {
		ev.Data = querystr.ParseSet(payload)
	}
	return ev, nil
}

// Single returns the only record of the event.
func (e *Event) Single() (querystr.Map, bool) {
	if len(e.Data) != 1 {
		return querystr.Map{}, false
	}
	return e.Data[0], true
}

// isNotification reports whether line is a notification.
func isNotification(line string) bool {
	return strings.HasPrefix(line, NotifyPrefix)
}

// isStatus reports whether line is the "error ..." status line.
func isStatus(line string) bool {
	head, _, _ := strings.Cut(line, " ")
	return head == "error"
}
