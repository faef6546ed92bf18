package model

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/ys7zTS/sandbox/tools/errs"
)

type PartType string

const (
	PartText  PartType = "text"
	PartImage PartType = "image"
	PartFile  PartType = "file"
	PartVideo PartType = "video"
	PartReply PartType = "reply"
	PartAt    PartType = "at"
)

// Part is one element of a message body. The set of parts is closed.
type Part interface {
	PartType() PartType
	validate() error
}

type Text struct {
	Text string `json:"text"`
}

type Image struct {
	URI     string `json:"uri,omitempty"`
	URL     string `json:"url,omitempty"`
	Size    int64  `json:"size,omitempty"`
	Summary string `json:"summary,omitempty"`
	Width   int    `json:"width,omitempty"`
	Height  int    `json:"height,omitempty"`
	Name    string `json:"name,omitempty"`
}

type File struct {
	URI      string `json:"uri,omitempty"`
	URL      string `json:"url,omitempty"`
	Filename string `json:"filename,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

type Video struct {
	URI      string  `json:"uri,omitempty"`
	URL      string  `json:"url,omitempty"`
	Filename string  `json:"filename,omitempty"`
	Size     int64   `json:"size,omitempty"`
	Duration float64 `json:"duration,omitempty"`
	Width    int     `json:"width,omitempty"`
	Height   int     `json:"height,omitempty"`
}

// Reply quotes an earlier message of the same conversation.
type Reply struct {
	MessageSeq int64 `json:"messageSeq"`
}

// At mentions a user, or everyone when Target.All is set.
type At struct {
	Target AtTarget `json:"targetId"`
}

// AtTarget is a user id or the sentinel "all" on the wire.
type AtTarget struct {
	All    bool
	UserID int64
}

func (Text) PartType() PartType  { return PartText }
func (Image) PartType() PartType { return PartImage }
func (File) PartType() PartType  { return PartFile }
func (Video) PartType() PartType { return PartVideo }
func (Reply) PartType() PartType { return PartReply }
func (At) PartType() PartType    { return PartAt }

func (p Text) validate() error { return nil }

func (p Image) validate() error { return requireLocator(PartImage, p.URI, p.URL) }
func (p File) validate() error  { return requireLocator(PartFile, p.URI, p.URL) }
func (p Video) validate() error { return requireLocator(PartVideo, p.URI, p.URL) }

func (p Reply) validate() error {
	if p.MessageSeq <= 0 {
		return errs.ErrInvalidArgument.WrapMsg("reply needs a positive messageSeq")
	}
	return nil
}

func (p At) validate() error {
	if !p.Target.All && p.Target.UserID <= 0 {
		return errs.ErrInvalidArgument.WrapMsg("at needs a user id or \"all\"")
	}
	return nil
}

func requireLocator(t PartType, uri, url string) error {
	if uri == "" && url == "" {
		return errs.ErrInvalidArgument.WrapMsg("media part needs uri or url", "type", t)
	}
	return nil
}

func (t AtTarget) MarshalJSON() ([]byte, error) {
	if t.All {
		return []byte(`"all"`), nil
	}
	return []byte(strconv.FormatInt(t.UserID, 10)), nil
}

func (t *AtTarget) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		if strings.EqualFold(s, "all") {
			*t = AtTarget{All: true}
			return nil
		}
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return errs.ErrInvalidArgument.WrapMsg("bad at target", "targetId", s)
		}
		*t = AtTarget{UserID: id}
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return errs.ErrInvalidArgument.WrapMsg("bad at target", "targetId", string(b))
	}
	id, err := n.Int64()
	if err != nil {
		return errs.ErrInvalidArgument.WrapMsg("bad at target", "targetId", n.String())
	}
	*t = AtTarget{UserID: id}
	return nil
}

// Content 消息内容：有序的片段列表。
type Content []Part

// TextContent builds a single text part body.
func TextContent(s string) Content {
	return Content{Text{Text: s}}
}

// Validate rejects empty bodies and malformed parts.
func (c Content) Validate() error {
	if len(c) == 0 {
		return errs.ErrInvalidArgument.WrapMsg("content is empty")
	}
	for _, p := range c {
		if p == nil {
			return errs.ErrInvalidArgument.WrapMsg("content has a nil part")
		}
		if err := p.validate(); err != nil {
			return err
		}
	}
	return nil
}

// Replies returns the sequences quoted by reply parts.
func (c Content) Replies() []int64 {
	var out []int64
	for _, p := range c {
		if r, ok := p.(Reply); ok {
			out = append(out, r.MessageSeq)
		}
	}
	return out
}

// PlainText concatenates the text parts, used for logs and previews.
func (c Content) PlainText() string {
	var sb strings.Builder
	for _, p := range c {
		switch v := p.(type) {
		case Text:
			sb.WriteString(v.Text)
		case Image:
			sb.WriteString("[image]")
		case File:
			sb.WriteString("[file]")
		case Video:
			sb.WriteString("[video]")
		case At:
			if v.Target.All {
				sb.WriteString("@all")
			} else {
				sb.WriteString("@" + strconv.FormatInt(v.Target.UserID, 10))
			}
		}
	}
	return sb.String()
}

func (c Content) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, p := range c {
		if i > 0 {
			buf.WriteByte(',')
		}
		body, err := json.Marshal(p)
		if err != nil {
			return nil, err
		}
		buf.WriteString(`{"type":`)
		buf.WriteString(strconv.Quote(string(p.PartType())))
		if len(body) > 2 {
			buf.WriteByte(',')
			buf.Write(body[1:])
		} else {
			buf.WriteByte('}')
		}
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

// UnmarshalJSON accepts a list of typed parts. A bare string is read as one text part.
func (c *Content) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*c = TextContent(s)
		return nil
	}

	var raws []json.RawMessage
	if err := json.Unmarshal(b, &raws); err != nil {
		return errs.ErrInvalidArgument.WrapMsg("content must be a list of parts")
	}
	out := make(Content, 0, len(raws))
	for _, raw := range raws {
		p, err := decodePart(raw)
		if err != nil {
			return err
		}
		out = append(out, p)
	}
	*c = out
	return nil
}

func decodePart(raw json.RawMessage) (Part, error) {
	var head struct {
		Type PartType `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, errs.ErrInvalidArgument.WrapMsg("content part must be an object")
	}
	var (
		p   Part
		err error
	)
	switch head.Type {
	case PartText:
		var v Text
		err = json.Unmarshal(raw, &v)
		p = v
	case PartImage:
		var v Image
		err = json.Unmarshal(raw, &v)
		p = v
	case PartFile:
		var v File
		err = json.Unmarshal(raw, &v)
		p = v
	case PartVideo:
		var v Video
		err = json.Unmarshal(raw, &v)
		p = v
	case PartReply:
		var v Reply
		err = json.Unmarshal(raw, &v)
		p = v
	case PartAt:
		var v At
		err = json.Unmarshal(raw, &v)
		p = v
	default:
		return nil, errs.ErrInvalidArgument.WrapMsg("unknown content part", "type", head.Type)
	}
	if err != nil {
		if ce := errs.AsCode(err); ce.Code == errs.InvalidArgumentCode {
			return nil, err
		}
		return nil, errs.ErrInvalidArgument.WrapMsg("malformed content part", "type", head.Type, "err", err)
	}
	return p, nil
}

// Value stores content as its JSON text.
func (c Content) Value() (driver.Value, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (c *Content) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*c = nil
		return nil
	case string:
		return c.UnmarshalJSON([]byte(v))
	case []byte:
		return c.UnmarshalJSON(v)
	default:
		return errs.ErrInternal.WrapMsg("unsupported content column type")
	}
}
