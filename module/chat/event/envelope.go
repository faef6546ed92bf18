package event

import (
	"encoding/json"
	"strconv"
	"time"
)

// Envelope is the relayed form of an event.
type Envelope struct {
	Event string `json:"event"`
	Key   string `json:"key"`
	At    int64  `json:"at"`
	Data  Event  `json:"data"`
}

// Key orders events: everything about one conversation shares a key.
func Key(ev Event) string {
	switch e := ev.(type) {
	case MessagePersisted:
		return e.Message.PeerID
	case MessageRecalled:
		return e.Message.PeerID
	case MembershipChanged:
		return strconv.FormatInt(e.GroupID, 10)
	}
	return ""
}

// ID identifies one occurrence of a message event, for broker-side dedupe.
// Membership changes have no stable id.
func ID(ev Event) string {
	switch e := ev.(type) {
	case MessagePersisted:
		return ev.Name() + "/" + e.Message.PeerID + "/" + strconv.FormatInt(e.Message.Seq, 10)
	case MessageRecalled:
		return ev.Name() + "/" + e.Message.PeerID + "/" + strconv.FormatInt(e.Message.Seq, 10)
	}
	return ""
}

func Encode(ev Event, at time.Time) ([]byte, error) {
	return json.Marshal(Envelope{Event: ev.Name(), Key: Key(ev), At: at.UnixMilli(), Data: ev})
}
